// Package client implements the Trojan client endpoint: a local listener
// that speaks HTTP proxy and SOCKS5 to applications on the same machine,
// and forwards each request over an authenticated tunnel to a trojanlite
// server.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/quic-go/quic-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trojanlite/internal/auth"
	"trojanlite/internal/config"
	"trojanlite/internal/ingress"
	"trojanlite/internal/litetls"
	"trojanlite/internal/logging"
	"trojanlite/internal/mixaddr"
	"trojanlite/internal/relay"
	"trojanlite/internal/session"
	"trojanlite/internal/socks5udp"
	"trojanlite/internal/transport/quictransport"
	"trojanlite/internal/transport/utlsconn"
	"trojanlite/internal/trojan"
)

// Client is the local proxy endpoint: it accepts plaintext connections
// from browsers and other local applications and tunnels them out.
type Client struct {
	cfg     config.Config
	log     *zap.Logger
	tickets *session.TicketCache
	hash    string

	quicMu   sync.Mutex
	quicConn quic.Connection
}

// New builds a Client from a validated configuration.
func New(cfg config.Config, log *zap.Logger) *Client {
	return &Client{cfg: cfg, log: log, tickets: session.NewTicketCache(log), hash: auth.Hash(cfg.Password)}
}

// Run starts the local listener and serves connections until ln closes
// or ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", c.cfg.Listen)
	if err != nil {
		return fmt.Errorf("client: listening on %s: %w", c.cfg.Listen, err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("client: accept: %w", err)
		}
		go c.handleLocal(ctx, conn)
	}
}

// dialUpstream opens an authenticated tunnel to the configured server and
// sends the given Trojan request.
func (c *Client) dialUpstream(ctx context.Context, cmd trojan.Command, dest mixaddr.MixAddr) (net.Conn, error) {
	upstream, err := c.dialTransport(ctx)
	if err != nil {
		return nil, fmt.Errorf("client: dialing %s: %w", c.cfg.Remote, err)
	}
	req := trojan.Request{PasswordHash: c.hash, Cmd: cmd, Dest: dest}
	if err := trojan.WriteRequest(upstream, req); err != nil {
		upstream.Close()
		return nil, fmt.Errorf("client: sending request: %w", err)
	}
	return upstream, nil
}

// dialTransport opens one request-carrying connection over whichever wire
// transport the config selects: a uTLS-fingerprinted TLS stream (resuming
// from c.tickets when the server offers a session ticket), or a stream on
// a shared, lazily-dialed QUIC connection that later requests reuse
// instead of repeating the handshake.
func (c *Client) dialTransport(ctx context.Context) (net.Conn, error) {
	if c.cfg.Transport != config.TransportQUIC {
		return utlsconn.Dial(ctx, c.cfg.Remote, c.cfg.SNI, c.tickets)
	}

	c.quicMu.Lock()
	defer c.quicMu.Unlock()

	conn, qconn, err := quictransport.DialStream(ctx, c.quicConn, c.cfg.Remote, c.cfg.SNI)
	if err != nil {
		c.quicConn = nil
		return nil, err
	}
	c.quicConn = qconn
	return conn, nil
}

func (c *Client) handleLocal(ctx context.Context, local net.Conn) {
	defer local.Close()
	r := bufio.NewReader(local)

	first, err := r.Peek(1)
	if err != nil {
		return
	}

	if first[0] == 0x05 {
		c.handleSOCKS5(ctx, local, r)
		return
	}
	c.handleHTTP(ctx, local, r)
}

func (c *Client) handleHTTP(ctx context.Context, local net.Conn, r *bufio.Reader) {
	target, err := ingress.ParseHTTPRequest(r)
	if err != nil {
		c.log.Debug("⚠️ malformed http proxy request", zap.Error(err))
		return
	}
	dest := mixaddr.NewHostname(target.Host, target.Port)

	localSide, upstream, err := c.openTunnel(ctx, dest, local, r)
	if err != nil {
		c.log.Warn("❌ failed to reach trojanlite server", zap.Error(err))
		return
	}
	defer upstream.Close()

	if target.IsConnect {
		if _, err := localSide.Write([]byte("HTTP/1.1 200 Connection established\r\n\r\n")); err != nil {
			return
		}
	} else {
		fmt.Fprintf(upstream, "%s\r\n", target.RawRequestLine)
		for _, h := range target.RawHeaders {
			fmt.Fprintf(upstream, "%s\r\n", h)
		}
		upstream.Write([]byte("\r\n"))
	}
	relay.TCP(localSide, upstream, c.log)
}

func (c *Client) handleSOCKS5(ctx context.Context, local net.Conn, r *bufio.Reader) {
	req, err := ingress.NegotiateSOCKS5(r, local)
	if err != nil {
		c.log.Debug("⚠️ malformed socks5 request", zap.Error(err))
		return
	}

	if req.UDPAssociate {
		c.handleSOCKS5UDP(ctx, local)
		return
	}

	localSide, upstream, err := c.openTunnel(ctx, req.Dest, local, r)
	if err != nil {
		ingress.ReplyFailed(local)
		c.log.Warn("❌ failed to reach trojanlite server", zap.Error(err))
		return
	}
	defer upstream.Close()
	if err := ingress.ReplyConnected(localSide, mixaddr.None); err != nil {
		return
	}
	relay.TCP(localSide, upstream, c.log)
}

// openTunnel dials the server for a CONNECT-style request and, when
// Lite-TLS is enabled, runs the handshake-boundary state machine over the
// freshly opened tunnel before the caller starts relaying ordinary bytes
// across it. It returns the two connections the caller should relay
// between: localSide (wrapping local, with any bytes buffered while
// parsing the local request already accounted for) and upstream (the
// tunnel to the server). Once Lite-TLS has engaged, both returned values
// read through the same ChunkReaders the handshake used, so the
// underlying sockets are never read from by a second goroutine.
func (c *Client) openTunnel(ctx context.Context, dest mixaddr.MixAddr, local net.Conn, r *bufio.Reader) (net.Conn, net.Conn, error) {
	localBuffered := &bufferedConn{Conn: local, r: r}

	cmd := trojan.CommandConnect
	if c.cfg.LiteTLS {
		cmd = trojan.CommandMiniTLS
	}

	upstream, err := c.dialUpstream(ctx, cmd, dest)
	if err != nil {
		return nil, nil, err
	}

	if cmd != trojan.CommandMiniTLS {
		return localBuffered, upstream, nil
	}

	remote := upstream.RemoteAddr().String()
	inbound := litetls.NewChunkReader(localBuffered)
	outbound := litetls.NewChunkReader(upstream)

	stream := litetls.NewClientEndpoint()
	err = stream.HandshakeTimeout(ctx, upstream, localBuffered, outbound, inbound)
	if err != nil {
		if !litetls.IsInvalid(err) && err != context.DeadlineExceeded {
			upstream.Close()
			return nil, nil, err
		}
		logging.LiteTLSFellBack(c.log, remote, err)
	} else {
		logging.LiteTLSEngaged(c.log, remote)
	}

	if err := stream.Flush(upstream, localBuffered); err != nil {
		upstream.Close()
		return nil, nil, err
	}
	return readerConn{inbound, localBuffered}, readerConn{outbound, upstream}, nil
}

func (c *Client) handleSOCKS5UDP(ctx context.Context, local net.Conn) {
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		ingress.ReplyFailed(local)
		return
	}
	defer udpConn.Close()

	boundPort := udpConn.LocalAddr().(*net.UDPAddr).Port
	if err := ingress.ReplyConnected(local, mixaddr.NewIP(net.IPv4(127, 0, 0, 1), uint16(boundPort))); err != nil {
		return
	}

	upstream, err := c.dialUpstream(ctx, trojan.CommandUDPAssoc, mixaddr.NewIP(net.IPv4zero, 0))
	if err != nil {
		c.log.Warn("❌ failed to reach trojanlite server for udp associate", zap.Error(err))
		return
	}
	defer upstream.Close()

	appSide := socks5udp.New(udpConn)
	defer appSide.Close()
	tunnelSide := trojan.NewUdpStream(upstream)

	// Both directions run concurrently for the lifetime of the
	// association; whichever pump ends first closes the side the other one
	// is blocked reading, so the control connection (and so the tunnel
	// side) tears down as soon as either direction stops.
	var g errgroup.Group
	g.Go(func() error {
		defer upstream.Close()
		err := relay.UDP(
			func(buf []byte) (mixaddr.MixAddr, int, error) { return appSide.Recv(buf) },
			func(addr mixaddr.MixAddr, payload []byte) error { return tunnelSide.WriteDatagram(addr, payload) },
			65536,
		)
		if err != nil {
			c.log.Debug("⚠️ udp relay (app->tunnel) ended", zap.Error(err))
		}
		return err
	})
	g.Go(func() error {
		defer appSide.Close()
		err := relay.UDP(
			func(buf []byte) (mixaddr.MixAddr, int, error) { return tunnelSide.ReadDatagram(buf) },
			func(addr mixaddr.MixAddr, payload []byte) error { return appSide.Send(addr, payload) },
			65536,
		)
		if err != nil {
			c.log.Debug("⚠️ udp relay (tunnel->app) ended", zap.Error(err))
		}
		return err
	})
	g.Wait()
}

// bufferedConn lets a bufio.Reader already holding some of a conn's bytes
// be handed to the litetls/relay helpers as a plain net.Conn.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) { return b.r.Read(p) }

// readerConn pairs a ChunkReader with a connection's write/close side, so
// the connection is never read from outside the ChunkReader again.
type readerConn struct {
	r *litetls.ChunkReader
	net.Conn
}

func (c readerConn) Read(p []byte) (int, error) { return c.r.Read(p) }
