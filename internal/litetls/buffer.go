package litetls

import "encoding/binary"

// maxTLSRecordAlloc caps the payload length a single TLS record is trusted
// to declare. Real TLS records never exceed 2^14 bytes of payload; a peer
// advertising more is almost certainly hostile or desynced, not a record
// we should grow our buffer to accommodate.
const maxTLSRecordAlloc = 16*1024 + 5

// Direction identifies which peer a buffer belongs to, from the point of
// view of the endpoint running the handshake: Inbound is the connection
// facing the Trojan client (or, on the client side, facing the local
// application); Outbound faces the Trojan server on the client side and
// the real destination on the server side.
type Direction int

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// TlsVersion is the outcome of FindKeyPackets: which termination
// sub-protocol the handshake should now run.
type TlsVersion int

const (
	Tls12 TlsVersion = iota
	Tls13
)

// Seen0x17 tracks which directions have yielded a TLS Application-Data
// (0x17) record. It never transitions out of SeenBothDirections.
type Seen0x17 int

const (
	SeenNone Seen0x17 = iota
	SeenFromInbound
	SeenFromOutbound
	SeenBothDirections
)

// Witness records that a 0x17 record was just observed flowing in
// direction dir, applying the transition table from the data model.
func (s *Seen0x17) Witness(dir Direction) {
	switch *s {
	case SeenNone:
		if dir == Inbound {
			*s = SeenFromInbound
		} else {
			*s = SeenFromOutbound
		}
	case SeenFromInbound:
		if dir == Outbound {
			*s = SeenBothDirections
		}
	case SeenFromOutbound:
		if dir == Inbound {
			*s = SeenBothDirections
		}
	case SeenBothDirections:
		panic("litetls: Seen0x17 witnessed a third 0x17 after both directions were seen")
	}
}

// TlsRelayBuffer is an append-only byte sequence with a "checked" cursor:
// bytes before the cursor are complete TLS records that are safe to
// forward to the peer; bytes from the cursor onward are unparsed tail.
type TlsRelayBuffer struct {
	buf    []byte
	cursor int
}

// NewTlsRelayBuffer returns an empty buffer with a small initial capacity.
func NewTlsRelayBuffer() *TlsRelayBuffer {
	return &TlsRelayBuffer{buf: make([]byte, 0, 2048)}
}

// Len returns the number of bytes currently held, checked or not.
func (b *TlsRelayBuffer) Len() int { return len(b.buf) }

// Grow appends n zero bytes to the buffer and returns a slice over them,
// so a reader can Read directly into the buffer's backing array.
func (b *TlsRelayBuffer) Grow(n int) []byte {
	start := len(b.buf)
	b.buf = append(b.buf, make([]byte, n)...)
	return b.buf[start : start+n]
}

// Bytes returns the full buffer contents, checked and unchecked.
func (b *TlsRelayBuffer) Bytes() []byte { return b.buf }

// Reset discards all buffered bytes and the checked cursor.
func (b *TlsRelayBuffer) Reset() {
	b.buf = b.buf[:0]
	b.cursor = 0
}

// CheckedPackets returns the prefix of the buffer that has been parsed as
// complete TLS records and is ready to forward.
func (b *TlsRelayBuffer) CheckedPackets() []byte {
	if b.cursor < len(b.buf) {
		return b.buf[:b.cursor]
	}
	return b.buf
}

// PopCheckedPackets shifts the unchecked tail to the start of the buffer
// and resets the cursor, discarding everything already forwarded.
func (b *TlsRelayBuffer) PopCheckedPackets() {
	total := len(b.buf)
	checked := b.cursor
	if checked > total {
		checked = total
	}
	newLen := total - checked
	copy(b.buf[:newLen], b.buf[checked:checked+newLen])
	b.cursor -= total - newLen
	b.buf = b.buf[:newLen]
}

func extractLen(buf []byte) int {
	return int(binary.BigEndian.Uint16(buf))
}

// CheckClientHello requires the whole buffer to be exactly one TLS 1.2/1.3
// ClientHello record (type 0x16, version 0x0301). It is used only once, as
// the initial protocol sniff.
func (b *TlsRelayBuffer) CheckClientHello() error {
	if len(b.buf) < 5 {
		return incompletef("client hello incomplete")
	}
	if b.buf[0] != 0x16 || b.buf[1] != 0x03 || b.buf[2] != 0x01 {
		return invalidf("not tls 1.2/1.3")
	}
	b.cursor = 5 + extractLen(b.buf[3:5])
	if b.cursor != len(b.buf) {
		return invalidf("not tls 1.2/1.3")
	}
	return nil
}

// CheckTlsPacket validates a single TLS record starting at the cursor,
// advancing the cursor past it and returning its record-type byte.
func (b *TlsRelayBuffer) CheckTlsPacket() (byte, error) {
	if len(b.buf) < b.cursor+5 {
		return 0, incompletef("tls record header incomplete")
	}
	packetType := b.buf[b.cursor]
	recordLen := extractLen(b.buf[b.cursor+3 : b.cursor+5])
	if 5+recordLen > maxTLSRecordAlloc {
		return 0, invalidf("tls record length %d exceeds cap", recordLen)
	}
	newCursor := b.cursor + 5 + recordLen
	if len(b.buf) < newCursor {
		return 0, incompletef("tls record payload incomplete")
	}
	b.cursor = newCursor
	return packetType, nil
}

// FindKeyPackets scans records from the cursor, advancing past whichever
// it can fully parse, until it either identifies the handshake-boundary
// point (returning the TlsVersion to terminate with) or runs out of bytes
// (Incomplete) or sees something it doesn't recognize (Invalid).
func (b *TlsRelayBuffer) FindKeyPackets(seen *Seen0x17, dir Direction) (TlsVersion, error) {
	for {
		if len(b.buf) < b.cursor+1 {
			return 0, incompletef("find key packets incomplete")
		}
		switch b.buf[b.cursor] {
		case 0x17:
			seen.Witness(dir)
			if *seen == SeenFromInbound {
				// First application-data record ever, seen from the
				// client side: TLS 1.2 full handshake, server side.
				return Tls12, nil
			}
			if _, err := b.CheckTlsPacket(); err != nil {
				return 0, err
			}
		case 0x14:
			if *seen == SeenFromOutbound {
				// Server already sent app-data; this is the 0.5-RTT
				// TLS 1.3 change_cipher_spec beacon.
				return Tls13, nil
			}
			if _, err := b.CheckTlsPacket(); err != nil {
				return 0, err
			}
		case 0xff:
			// The injected leave-TLS command: TLS 1.2 full handshake,
			// client side.
			return Tls12, nil
		case 0x15, 0x16:
			if _, err := b.CheckTlsPacket(); err != nil {
				return 0, err
			}
		default:
			return 0, invalidf("unexpected tls record type 0x%02x", b.buf[b.cursor])
		}
	}
}
