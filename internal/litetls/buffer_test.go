package litetls

import (
	"encoding/binary"
	"testing"
)

func tlsRecord(recordType byte, payload []byte) []byte {
	rec := make([]byte, 5+len(payload))
	rec[0] = recordType
	rec[1], rec[2] = 0x03, 0x01
	binary.BigEndian.PutUint16(rec[3:5], uint16(len(payload)))
	copy(rec[5:], payload)
	return rec
}

func TestCheckClientHelloIncomplete(t *testing.T) {
	b := NewTlsRelayBuffer()
	b.buf = append(b.buf, 0x16, 0x03, 0x01, 0x00)
	if err := b.CheckClientHello(); !IsIncomplete(err) {
		t.Fatalf("expected Incomplete, got %v", err)
	}
}

func TestCheckClientHelloInvalidMagic(t *testing.T) {
	b := NewTlsRelayBuffer()
	b.buf = append(b.buf, 0x15, 0x03, 0x01, 0x00, 0x00)
	if err := b.CheckClientHello(); !IsInvalid(err) {
		t.Fatalf("expected Invalid, got %v", err)
	}
}

func TestCheckClientHelloOk(t *testing.T) {
	b := NewTlsRelayBuffer()
	rec := tlsRecord(0x16, []byte("hello"))
	b.buf = append(b.buf, rec...)
	if err := b.CheckClientHello(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.cursor != len(rec) {
		t.Fatalf("cursor = %d, want %d", b.cursor, len(rec))
	}
}

func TestCheckClientHelloTrailingBytesInvalid(t *testing.T) {
	b := NewTlsRelayBuffer()
	rec := tlsRecord(0x16, []byte("hello"))
	b.buf = append(b.buf, rec...)
	b.buf = append(b.buf, 0xAA)
	if err := b.CheckClientHello(); !IsInvalid(err) {
		t.Fatalf("expected Invalid on trailing bytes, got %v", err)
	}
}

func TestCheckTlsPacketRespectsAllocCap(t *testing.T) {
	b := NewTlsRelayBuffer()
	b.buf = append(b.buf, 0x17, 0x03, 0x03, 0xFF, 0xFF)
	if _, err := b.CheckTlsPacket(); !IsInvalid(err) {
		t.Fatalf("expected Invalid for oversized record, got %v", err)
	}
}

func TestPopCheckedPacketsKeepsTail(t *testing.T) {
	b := NewTlsRelayBuffer()
	rec := tlsRecord(0x15, nil)
	b.buf = append(b.buf, rec...)
	b.buf = append(b.buf, 0x01, 0x02, 0x03)
	if _, err := b.CheckTlsPacket(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checked := b.CheckedPackets()
	if len(checked) != len(rec) {
		t.Fatalf("checked len = %d, want %d", len(checked), len(rec))
	}
	b.PopCheckedPackets()
	if b.Len() != 3 || b.cursor != 0 {
		t.Fatalf("after pop: len=%d cursor=%d, want len=3 cursor=0", b.Len(), b.cursor)
	}
	if b.buf[0] != 0x01 || b.buf[1] != 0x02 || b.buf[2] != 0x03 {
		t.Fatalf("tail bytes corrupted: %v", b.buf)
	}
}

func TestFindKeyPacketsTls12ServerPath(t *testing.T) {
	b := NewTlsRelayBuffer()
	b.buf = append(b.buf, tlsRecord(0x16, []byte("finished"))...)
	b.buf = append(b.buf, tlsRecord(0x17, []byte("app-data"))...)
	var seen Seen0x17
	version, err := b.FindKeyPackets(&seen, Inbound)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if version != Tls12 {
		t.Fatalf("version = %v, want Tls12", version)
	}
	if seen != SeenFromInbound {
		t.Fatalf("seen = %v, want SeenFromInbound", seen)
	}
}

func TestFindKeyPacketsLeaveTlsCommand(t *testing.T) {
	b := NewTlsRelayBuffer()
	b.buf = append(b.buf, leaveTLSCommand...)
	var seen Seen0x17
	version, err := b.FindKeyPackets(&seen, Outbound)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if version != Tls12 {
		t.Fatalf("version = %v, want Tls12", version)
	}
}

func TestFindKeyPacketsTls13Beacon(t *testing.T) {
	b := NewTlsRelayBuffer()
	var seen Seen0x17
	seen.Witness(Outbound)
	b.buf = append(b.buf, tlsRecord(0x14, []byte{0x01})...)
	version, err := b.FindKeyPackets(&seen, Outbound)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if version != Tls13 {
		t.Fatalf("version = %v, want Tls13", version)
	}
}

func TestFindKeyPacketsInvalidRecordType(t *testing.T) {
	b := NewTlsRelayBuffer()
	b.buf = append(b.buf, 0xAB, 0x00, 0x00, 0x00, 0x00)
	var seen Seen0x17
	if _, err := b.FindKeyPackets(&seen, Inbound); !IsInvalid(err) {
		t.Fatalf("expected Invalid, got %v", err)
	}
}

func TestSeen0x17WitnessBothDirectionsIsTerminal(t *testing.T) {
	var seen Seen0x17
	seen.Witness(Inbound)
	seen.Witness(Outbound)
	if seen != SeenBothDirections {
		t.Fatalf("seen = %v, want SeenBothDirections", seen)
	}
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on third witness after both directions seen")
		}
	}()
	seen.Witness(Inbound)
}
