// Package serverudp implements the destination-facing half of UDP
// associate: a single UDP socket the Trojan server uses to talk to
// whatever real hosts the client's datagrams target, resolving hostname
// destinations to a socket address before the first send to each.
package serverudp

import (
	"context"
	"fmt"
	"net"

	"trojanlite/internal/mixaddr"
)

// Stream is the server-side UDP socket used to forward client datagrams
// to their real destinations and relay replies back.
type Stream struct {
	conn *net.UDPConn
}

// New wraps an unbound (or already-bound) UDP socket for server-side
// relaying.
func New(conn *net.UDPConn) *Stream {
	return &Stream{conn: conn}
}

// SendTo resolves dest (directly for a literal IP, via a blocking DNS
// lookup on the calling goroutine for a hostname) and writes payload to it. A hostname that
// resolves to zero addresses is treated as a no-op send, matching a
// client racing ahead of a destination that simply isn't there.
func (s *Stream) SendTo(ctx context.Context, dest mixaddr.MixAddr, payload []byte) error {
	addr, err := s.resolve(ctx, dest)
	if err != nil {
		return err
	}
	if addr == nil {
		return nil
	}
	_, err = s.conn.WriteToUDP(payload, addr)
	return err
}

// resolve turns a MixAddr into a *net.UDPAddr. IPv4/IPv6 addresses
// resolve synchronously; hostnames are resolved via net.Resolver on the
// calling goroutine (the idiomatic Go replacement for the original's
// spawn-a-blocking-task-and-poll-it state machine — net.DefaultResolver's
// LookupIPAddr already blocks a single goroutine for exactly this long,
// so there is nothing a hand-rolled Pending/Ready state machine would add
// besides bookkeeping context.Context already gives us for free).
func (s *Stream) resolve(ctx context.Context, dest mixaddr.MixAddr) (*net.UDPAddr, error) {
	switch dest.Type {
	case mixaddr.TypeIPv4, mixaddr.TypeIPv6:
		return &net.UDPAddr{IP: dest.IP, Port: int(dest.Port)}, nil
	case mixaddr.TypeHostname:
		ips, err := net.DefaultResolver.LookupIPAddr(ctx, dest.Hostname)
		if err != nil {
			return nil, fmt.Errorf("serverudp: resolving %q: %w", dest.Hostname, err)
		}
		if len(ips) == 0 {
			return nil, nil
		}
		return &net.UDPAddr{IP: ips[0].IP, Port: int(dest.Port)}, nil
	default:
		return nil, fmt.Errorf("serverudp: cannot send to an unresolved destination")
	}
}

// Recv reads the next datagram arriving at the relay socket. The source
// address is not surfaced at this layer — by the time a reply reaches the
// client it has already been re-tagged with the MixAddr the client
// originally asked for, not the literal socket the reply came from.
func (s *Stream) Recv(buf []byte) (int, error) {
	n, _, err := s.conn.ReadFromUDP(buf)
	return n, err
}
