// Package socks5udp implements the client-facing half of UDP associate:
// a local UDP socket that speaks the SOCKS5 UDP request/reply framing
// (RSV(2) FRAG(1) ATYP ADDR PORT DATA) to exactly one local application,
// discovered from whichever address first sends it a packet.
package socks5udp

import (
	"errors"
	"net"
	"sync"

	"trojanlite/internal/mixaddr"
	"trojanlite/internal/udprelay"
)

// ErrPeerChanged is returned by Recv when a second, different source
// address sends to the relay socket while one peer is already bound —
// SOCKS5 UDP associate is scoped to a single client, so this is treated
// as a hard error rather than silently switching peers.
var ErrPeerChanged = errors.New("socks5udp: packet from unexpected peer")

// Stream is one UDP-associate session: a single net.PacketConn shared by
// a send half and a recv half, with the client's address latched the
// first time a packet arrives.
type Stream struct {
	conn *net.UDPConn

	// scratch holds one datagram at a time, reused across calls to Recv
	// (which runs on a single goroutine per association) instead of
	// allocating a fresh read buffer per packet.
	scratch *udprelay.Buffer

	mu         sync.Mutex
	clientAddr *net.UDPAddr

	resetOnce sync.Once
	resetCh   chan struct{}
}

// New wraps an already-bound UDP socket.
func New(conn *net.UDPConn) *Stream {
	return &Stream{conn: conn, scratch: udprelay.NewBuffer(), resetCh: make(chan struct{})}
}

// Close signals a graceful shutdown to any blocked Recv/Send call and
// closes the underlying socket.
func (s *Stream) Close() error {
	s.resetOnce.Do(func() { close(s.resetCh) })
	return s.conn.Close()
}

// Recv reads one SOCKS5 UDP request from the relay socket, stripping the
// RSV+FRAG header and returning the embedded destination address plus the
// payload bytes written into buf. The first peer to send a packet is
// latched as the session's client; any later packet from a different
// address returns ErrPeerChanged instead of silently being forwarded.
func (s *Stream) Recv(buf []byte) (mixaddr.MixAddr, int, error) {
	select {
	case <-s.resetCh:
		return mixaddr.None, 0, net.ErrClosed
	default:
	}

	s.scratch.Reset()
	s.scratch.Reserve(len(buf) + 3 + mixaddrMaxHeader)
	n, from, err := s.conn.ReadFromUDP(s.scratch.AsReadBuf())
	if err != nil {
		return mixaddr.None, 0, err
	}
	s.scratch.AdvanceMut(n)

	s.mu.Lock()
	if s.clientAddr == nil {
		s.clientAddr = from
	} else if !sameAddr(s.clientAddr, from) {
		s.mu.Unlock()
		return mixaddr.None, 0, ErrPeerChanged
	}
	s.mu.Unlock()

	if n < 3 {
		return mixaddr.None, 0, nil
	}
	body := s.scratch.Bytes()[3:] // drop RSV(2) + FRAG(1); fragmentation is not supported
	addr, consumed, err := mixaddr.FromEncoded(body)
	if err != nil {
		return mixaddr.None, 0, err
	}
	payload := body[consumed:]
	copy(buf, payload)
	return addr, len(payload), nil
}

// Send writes one SOCKS5 UDP reply (from addr, carrying payload) to
// whichever client address Recv has already latched. It is an error to
// call Send before any Recv has observed a client.
func (s *Stream) Send(addr mixaddr.MixAddr, payload []byte) error {
	s.mu.Lock()
	to := s.clientAddr
	s.mu.Unlock()
	if to == nil {
		return errors.New("socks5udp: no client address known yet")
	}

	buf := make([]byte, 0, 3+addr.EncodedLen()+len(payload))
	buf = append(buf, 0, 0, 0) // RSV RSV FRAG
	buf = addr.Encode(buf)
	buf = append(buf, payload...)
	_, err := s.conn.WriteToUDP(buf, to)
	return err
}

// mixaddrMaxHeader is an upper bound on an encoded MixAddr's size
// (hostname variant, 255-byte name), used to size Recv's scratch buffer.
const mixaddrMaxHeader = 1 + 1 + 255 + 2

func sameAddr(a, b *net.UDPAddr) bool {
	return a.IP.Equal(b.IP) && a.Port == b.Port
}
