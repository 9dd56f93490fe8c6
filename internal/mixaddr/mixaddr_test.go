package mixaddr

import (
	"net"
	"testing"
)

func TestRoundTripIPv4(t *testing.T) {
	a := NewIP(net.ParseIP("93.184.216.34"), 443)
	buf := a.Encode(nil)
	got, n, err := FromEncoded(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("consumed %d, want %d", n, len(buf))
	}
	if got.Type != TypeIPv4 || !got.IP.Equal(a.IP) || got.Port != a.Port {
		t.Fatalf("got %+v, want %+v", got, a)
	}
}

func TestRoundTripIPv6(t *testing.T) {
	a := NewIP(net.ParseIP("2606:2800:220:1:248:1893:25c8:1946"), 80)
	buf := a.Encode(nil)
	got, n, err := FromEncoded(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("consumed %d, want %d", n, len(buf))
	}
	if got.Type != TypeIPv6 || !got.IP.Equal(a.IP) || got.Port != a.Port {
		t.Fatalf("got %+v, want %+v", got, a)
	}
}

func TestRoundTripHostname(t *testing.T) {
	a := NewHostname("example.com", 8443)
	buf := a.Encode(nil)
	got, n, err := FromEncoded(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("consumed %d, want %d", n, len(buf))
	}
	if got.Type != TypeHostname || got.Hostname != a.Hostname || got.Port != a.Port {
		t.Fatalf("got %+v, want %+v", got, a)
	}
}

func TestFromEncodedIncomplete(t *testing.T) {
	a := NewHostname("example.com", 443)
	buf := a.Encode(nil)
	if _, _, err := FromEncoded(buf[:len(buf)-1]); err != ErrIncomplete {
		t.Fatalf("expected ErrIncomplete, got %v", err)
	}
	if _, _, err := FromEncoded(nil); err != ErrIncomplete {
		t.Fatalf("expected ErrIncomplete on empty buffer, got %v", err)
	}
}

func TestFromEncodedInvalidType(t *testing.T) {
	if _, _, err := FromEncoded([]byte{0x7f}); err != ErrInvalid {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestEncodedLenMatchesEncode(t *testing.T) {
	addrs := []MixAddr{
		NewIP(net.ParseIP("1.2.3.4"), 1),
		NewIP(net.ParseIP("::1"), 2),
		NewHostname("h", 3),
	}
	for _, a := range addrs {
		if got, want := len(a.Encode(nil)), a.EncodedLen(); got != want {
			t.Fatalf("EncodedLen() = %d, Encode() len = %d for %+v", want, got, a)
		}
	}
}
