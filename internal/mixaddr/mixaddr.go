// Package mixaddr implements the SOCKS5-style tagged-union address used
// throughout the Trojan wire protocol to name a connection's destination:
// an IPv4 address, an IPv6 address, a hostname plus port, or nothing at
// all (the "not yet known" state used by server-side UDP relaying).
package mixaddr

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
)

// Type is the SOCKS5 ATYP tag.
type Type byte

const (
	TypeNone     Type = 0x00
	TypeIPv4     Type = 0x01
	TypeHostname Type = 0x03
	TypeIPv6     Type = 0x04
)

// MixAddr is a destination address in one of the wire's four shapes.
type MixAddr struct {
	Type     Type
	IP       net.IP // set for TypeIPv4 / TypeIPv6
	Hostname string // set for TypeHostname
	Port     uint16
}

// None is the zero-value "no address yet" MixAddr.
var None = MixAddr{Type: TypeNone}

// NewIP builds a MixAddr from a resolved net.IP and port, picking IPv4 or
// IPv6 encoding based on the address's form.
func NewIP(ip net.IP, port uint16) MixAddr {
	if v4 := ip.To4(); v4 != nil {
		return MixAddr{Type: TypeIPv4, IP: v4, Port: port}
	}
	return MixAddr{Type: TypeIPv6, IP: ip.To16(), Port: port}
}

// NewHostname builds a MixAddr naming a host by DNS name.
func NewHostname(host string, port uint16) MixAddr {
	return MixAddr{Type: TypeHostname, Hostname: host, Port: port}
}

// IsNone reports whether a is the empty/unresolved address.
func (a MixAddr) IsNone() bool { return a.Type == TypeNone }

// String renders the address the way a net.JoinHostPort dial target would
// expect: "host:port".
func (a MixAddr) String() string {
	switch a.Type {
	case TypeIPv4, TypeIPv6:
		return net.JoinHostPort(a.IP.String(), strconv.Itoa(int(a.Port)))
	case TypeHostname:
		return net.JoinHostPort(a.Hostname, strconv.Itoa(int(a.Port)))
	default:
		return "<none>"
	}
}

// EncodedLen returns how many bytes Encode will append.
func (a MixAddr) EncodedLen() int {
	switch a.Type {
	case TypeIPv4:
		return 1 + 4 + 2
	case TypeIPv6:
		return 1 + 16 + 2
	case TypeHostname:
		return 1 + 1 + len(a.Hostname) + 2
	default:
		return 0
	}
}

// Encode appends the wire encoding of a to dst and returns the result.
func (a MixAddr) Encode(dst []byte) []byte {
	switch a.Type {
	case TypeIPv4:
		dst = append(dst, byte(TypeIPv4))
		dst = append(dst, a.IP.To4()...)
	case TypeIPv6:
		dst = append(dst, byte(TypeIPv6))
		dst = append(dst, a.IP.To16()...)
	case TypeHostname:
		dst = append(dst, byte(TypeHostname), byte(len(a.Hostname)))
		dst = append(dst, a.Hostname...)
	default:
		return dst
	}
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], a.Port)
	return append(dst, portBuf[:]...)
}

// ErrIncomplete and ErrInvalid classify FromEncoded failures the same way
// the handshake buffer's ParseError does: Incomplete means "read more and
// retry", Invalid means "this is not a well-formed address".
var (
	ErrIncomplete = fmt.Errorf("mixaddr: incomplete")
	ErrInvalid    = fmt.Errorf("mixaddr: invalid address encoding")
)

// FromEncoded parses a MixAddr from the front of buf, returning the
// address and the number of bytes consumed. It returns ErrIncomplete if
// buf doesn't yet hold a full encoding and ErrInvalid if the ATYP byte or
// hostname length make the encoding impossible to trust.
func FromEncoded(buf []byte) (MixAddr, int, error) {
	if len(buf) < 1 {
		return MixAddr{}, 0, ErrIncomplete
	}
	switch Type(buf[0]) {
	case TypeIPv4:
		const n = 1 + 4 + 2
		if len(buf) < n {
			return MixAddr{}, 0, ErrIncomplete
		}
		ip := make(net.IP, 4)
		copy(ip, buf[1:5])
		return MixAddr{Type: TypeIPv4, IP: ip, Port: binary.BigEndian.Uint16(buf[5:7])}, n, nil
	case TypeIPv6:
		const n = 1 + 16 + 2
		if len(buf) < n {
			return MixAddr{}, 0, ErrIncomplete
		}
		ip := make(net.IP, 16)
		copy(ip, buf[1:17])
		return MixAddr{Type: TypeIPv6, IP: ip, Port: binary.BigEndian.Uint16(buf[17:19])}, n, nil
	case TypeHostname:
		if len(buf) < 2 {
			return MixAddr{}, 0, ErrIncomplete
		}
		hlen := int(buf[1])
		if hlen == 0 {
			return MixAddr{}, 0, ErrInvalid
		}
		n := 1 + 1 + hlen + 2
		if len(buf) < n {
			return MixAddr{}, 0, ErrIncomplete
		}
		host := string(buf[2 : 2+hlen])
		port := binary.BigEndian.Uint16(buf[2+hlen : n])
		return MixAddr{Type: TypeHostname, Hostname: host, Port: port}, n, nil
	default:
		return MixAddr{}, 0, ErrInvalid
	}
}
