// Package server implements the Trojan server endpoint: it terminates
// the outer TLS (or QUIC) tunnel, authenticates the request, and either
// relays a TCP stream, relays UDP datagrams, or — for a MiniTLS request —
// blindly forwards an inner TLS connection the client is tunneling
// through it, applying the Lite-TLS optimization to that inner stream
// once its handshake completes.
package server

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trojanlite/internal/auth"
	"trojanlite/internal/config"
	"trojanlite/internal/litetls"
	"trojanlite/internal/logging"
	"trojanlite/internal/mixaddr"
	"trojanlite/internal/relay"
	"trojanlite/internal/serverudp"
	"trojanlite/internal/session"
	"trojanlite/internal/transport/quictransport"
	"trojanlite/internal/transport/tlsconn"
	"trojanlite/internal/trojan"
)

// Server accepts Trojan connections and dispatches each one.
type Server struct {
	cfg      config.Config
	log      *zap.Logger
	sessions *session.Registry
}

// New builds a Server from a validated configuration.
func New(cfg config.Config, log *zap.Logger) *Server {
	return &Server{cfg: cfg, log: log, sessions: session.NewRegistry(log)}
}

// Run starts the configured TLS or QUIC listener and serves connections
// until ln closes or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.listen()
	if err != nil {
		return err
	}
	defer ln.Close()

	stop := make(chan struct{})
	go s.sessions.RunEviction(time.Minute, s.cfg.IdleTimeout(), stop)
	defer close(stop)

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
			return fmt.Errorf("server: accept: %w", err)
		}
		go s.handleConn(ctx, conn)
	}
}

// listen opens the configured wire transport's listener: a plain TLS
// listener, or a QUIC listener presenting the same certificate, each
// surfaced as a net.Listener so the rest of Run stays transport-agnostic.
func (s *Server) listen() (net.Listener, error) {
	switch s.cfg.Transport {
	case config.TransportQUIC:
		cert, err := tls.LoadX509KeyPair(s.cfg.CertFile, s.cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("server: loading certificate: %w", err)
		}
		return quictransport.NewListener(s.cfg.Listen, cert)
	default:
		return tlsconn.Listen(s.cfg.Listen, tlsconn.ListenConfig{CertFile: s.cfg.CertFile, KeyFile: s.cfg.KeyFile})
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()

	r := bufio.NewReader(conn)
	req, err := trojan.ReadRequest(r)
	if err != nil {
		s.log.Debug("🔹 non-trojan or malformed request, relaying to fallback", zap.String("remote", remote), zap.Error(err))
		s.relayToFallback(conn, r)
		return
	}

	if !auth.Verify(req.PasswordHash, auth.Hash(s.cfg.Password)) {
		logging.AuthFailed(s.log, remote)
		s.relayToFallback(conn, r)
		return
	}

	logging.ConnectionAccepted(s.log, remote, req.Dest.String())
	sess := s.sessions.Create(conn.RemoteAddr(), req.Dest)
	defer s.sessions.Remove(sess.ID)

	client := &bufferedConn{Conn: conn, r: r}

	switch req.Cmd {
	case trojan.CommandConnect:
		s.handleConnect(req, client)
	case trojan.CommandUDPAssoc:
		s.handleUDPAssociate(ctx, req, client)
	case trojan.CommandMiniTLS:
		s.handleMiniTLS(ctx, req, client)
	default:
		s.log.Warn("❌ unknown trojan command", zap.String("remote", remote), zap.Uint8("cmd", uint8(req.Cmd)))
	}
}

// relayToFallback sends whatever was already buffered plus the rest of
// the connection to a plain site, so an active prober sees an ordinary
// HTTPS response instead of a reset — trojan's classic anti-probing
// defense.
func (s *Server) relayToFallback(conn net.Conn, buffered *bufio.Reader) {
	if s.cfg.FallbackAddr == "" {
		return
	}
	dst, err := net.DialTimeout("tcp", s.cfg.FallbackAddr, 5*time.Second)
	if err != nil {
		s.log.Warn("⚠️ fallback dial failed", zap.Error(err))
		return
	}
	defer dst.Close()
	if n := buffered.Buffered(); n > 0 {
		pending := make([]byte, n)
		buffered.Read(pending)
		dst.Write(pending)
	}
	relay.TCP(conn, dst, s.log)
}

func (s *Server) handleConnect(req trojan.Request, client net.Conn) {
	destConn, err := net.DialTimeout("tcp", req.Dest.String(), 10*time.Second)
	if err != nil {
		s.log.Warn("❌ dial destination failed", zap.String("dest", req.Dest.String()), zap.Error(err))
		return
	}
	defer destConn.Close()
	relay.TCP(client, destConn, s.log)
}

func (s *Server) handleUDPAssociate(ctx context.Context, req trojan.Request, client net.Conn) {
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		s.log.Warn("❌ failed to open relay udp socket", zap.Error(err))
		return
	}
	defer udpConn.Close()
	dest := serverudp.New(udpConn)
	stream := trojan.NewUdpStream(client)

	// Whichever direction ends first closes the socket the other one is
	// blocked reading, so the association tears down as a whole.
	var g errgroup.Group
	g.Go(func() error {
		defer udpConn.Close()
		err := relay.UDP(
			func(buf []byte) (mixaddr.MixAddr, int, error) { return stream.ReadDatagram(buf) },
			func(addr mixaddr.MixAddr, payload []byte) error { return dest.SendTo(ctx, addr, payload) },
			65536,
		)
		if err != nil {
			s.log.Debug("⚠️ udp relay (client->dest) ended", zap.Error(err))
		}
		return err
	})
	g.Go(func() error {
		defer client.Close()
		err := relay.UDP(
			func(buf []byte) (mixaddr.MixAddr, int, error) {
				n, err := dest.Recv(buf)
				return req.Dest, n, err
			},
			func(addr mixaddr.MixAddr, payload []byte) error { return stream.WriteDatagram(addr, payload) },
			65536,
		)
		if err != nil {
			s.log.Debug("⚠️ udp relay (dest->client) ended", zap.Error(err))
		}
		return err
	})
	g.Wait()
}

func (s *Server) handleMiniTLS(ctx context.Context, req trojan.Request, client net.Conn) {
	remote := client.RemoteAddr().String()
	destConn, err := net.DialTimeout("tcp", req.Dest.String(), 10*time.Second)
	if err != nil {
		s.log.Warn("❌ dial destination failed", zap.String("dest", req.Dest.String()), zap.Error(err))
		return
	}
	defer destConn.Close()

	inbound := litetls.NewChunkReader(client)
	outbound := litetls.NewChunkReader(destConn)

	stream := litetls.NewServerEndpoint()
	err = stream.HandshakeTimeout(ctx, destConn, client, outbound, inbound)

	if err != nil {
		if !litetls.IsInvalid(err) && err != context.DeadlineExceeded {
			s.log.Debug("❌ lite-tls inner tunnel aborted", zap.String("remote", remote), zap.Error(err))
			return
		}
		logging.LiteTLSFellBack(s.log, remote, err)
	} else {
		logging.LiteTLSEngaged(s.log, remote)
	}

	if err := stream.Flush(destConn, client); err != nil {
		return
	}
	relay.TCP(readerConn{inbound, client}, readerConn{outbound, destConn}, s.log)
}

// bufferedConn lets a bufio.Reader already holding some of a conn's bytes
// (read while parsing the Trojan request) be handed to the generic relay
// helpers as a plain net.Conn.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (b *bufferedConn) Read(p []byte) (int, error) { return b.r.Read(p) }

// readerConn pairs a ChunkReader (the single reader of record for a
// connection once litetls has started pulling from it) with the
// connection's Write/Close side, so relay.TCP can keep using it without
// ever issuing a second concurrent Read against the same socket.
type readerConn struct {
	r *litetls.ChunkReader
	net.Conn
}

func (c readerConn) Read(p []byte) (int, error) { return c.r.Read(p) }
