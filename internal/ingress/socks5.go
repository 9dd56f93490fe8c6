package ingress

import (
	"bufio"
	"fmt"
	"io"

	"trojanlite/internal/mixaddr"
)

// socks5Version is the only protocol version this client's local
// listener accepts.
const socks5Version = 0x05

// SOCKS5 command codes.
const (
	cmdConnect      = 0x01
	cmdUDPAssociate = 0x03
)

// SOCKS5Request is a parsed SOCKS5 CONNECT or UDP ASSOCIATE request.
type SOCKS5Request struct {
	UDPAssociate bool
	Dest         mixaddr.MixAddr
}

// NegotiateSOCKS5 performs the no-auth SOCKS5 method negotiation
// handshake and then reads one request, writing the appropriate replies
// as it goes. w is the same connection r reads from.
func NegotiateSOCKS5(r *bufio.Reader, w io.Writer) (SOCKS5Request, error) {
	var req SOCKS5Request

	hdr := make([]byte, 2)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return req, fmt.Errorf("ingress: reading socks5 greeting: %w", err)
	}
	if hdr[0] != socks5Version {
		return req, fmt.Errorf("ingress: unsupported socks version 0x%02x", hdr[0])
	}
	methods := make([]byte, hdr[1])
	if _, err := io.ReadFull(r, methods); err != nil {
		return req, fmt.Errorf("ingress: reading socks5 methods: %w", err)
	}
	// No-auth only: trojanlite authenticates at the Trojan layer, not here.
	if _, err := w.Write([]byte{socks5Version, 0x00}); err != nil {
		return req, err
	}

	reqHdr := make([]byte, 4)
	if _, err := io.ReadFull(r, reqHdr); err != nil {
		return req, fmt.Errorf("ingress: reading socks5 request header: %w", err)
	}
	if reqHdr[0] != socks5Version {
		return req, fmt.Errorf("ingress: unsupported socks version 0x%02x", reqHdr[0])
	}

	addr, err := readSocks5Addr(r, reqHdr[3])
	if err != nil {
		return req, err
	}

	switch reqHdr[1] {
	case cmdConnect:
		req.Dest = addr
	case cmdUDPAssociate:
		req.UDPAssociate = true
		req.Dest = addr
	default:
		writeSocks5Reply(w, 0x07, mixaddr.None) // command not supported
		return req, fmt.Errorf("ingress: unsupported socks5 command 0x%02x", reqHdr[1])
	}
	return req, nil
}

// ReplyConnected writes a SOCKS5 success reply once a destination
// connection (or UDP relay socket) is ready, reporting boundAddr as the
// address the client should use (for UDP ASSOCIATE, the relay's local
// address; for CONNECT, any placeholder is fine since clients rarely
// check it).
func ReplyConnected(w io.Writer, boundAddr mixaddr.MixAddr) error {
	return writeSocks5Reply(w, 0x00, boundAddr)
}

// ReplyFailed writes a SOCKS5 general-failure reply.
func ReplyFailed(w io.Writer) error {
	return writeSocks5Reply(w, 0x01, mixaddr.None)
}

func writeSocks5Reply(w io.Writer, code byte, addr mixaddr.MixAddr) error {
	buf := []byte{socks5Version, code, 0x00}
	if addr.IsNone() {
		buf = append(buf, byte(mixaddr.TypeIPv4), 0, 0, 0, 0, 0, 0)
	} else {
		buf = addr.Encode(buf)
	}
	_, err := w.Write(buf)
	return err
}

func readSocks5Addr(r *bufio.Reader, atyp byte) (mixaddr.MixAddr, error) {
	switch mixaddr.Type(atyp) {
	case mixaddr.TypeIPv4:
		buf := make([]byte, 1+4+2)
		buf[0] = atyp
		if _, err := io.ReadFull(r, buf[1:]); err != nil {
			return mixaddr.MixAddr{}, err
		}
		addr, _, err := mixaddr.FromEncoded(buf)
		return addr, err
	case mixaddr.TypeIPv6:
		buf := make([]byte, 1+16+2)
		buf[0] = atyp
		if _, err := io.ReadFull(r, buf[1:]); err != nil {
			return mixaddr.MixAddr{}, err
		}
		addr, _, err := mixaddr.FromEncoded(buf)
		return addr, err
	case mixaddr.TypeHostname:
		lenByte := make([]byte, 1)
		if _, err := io.ReadFull(r, lenByte); err != nil {
			return mixaddr.MixAddr{}, err
		}
		rest := make([]byte, int(lenByte[0])+2)
		if _, err := io.ReadFull(r, rest); err != nil {
			return mixaddr.MixAddr{}, err
		}
		buf := append([]byte{atyp, lenByte[0]}, rest...)
		addr, _, err := mixaddr.FromEncoded(buf)
		return addr, err
	default:
		return mixaddr.MixAddr{}, fmt.Errorf("ingress: unsupported socks5 address type 0x%02x", atyp)
	}
}
