// Package quictransport runs trojanlite over QUIC instead of a raw TLS
// TCP stream, using quic-go. Each Trojan request gets its own bidirectional
// stream, so a busy client multiplexes many requests over one encrypted
// connection without head-of-line blocking between them.
package quictransport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

// ALPN is the protocol string both ends advertise during the QUIC TLS
// handshake, chosen to look like an ordinary HTTP/3-adjacent service
// rather than announcing itself as a proxy.
var ALPN = []string{"hq-29"}

// MaxConcurrentBidiStreams bounds how many Trojan requests a single QUIC
// connection juggles at once.
const MaxConcurrentBidiStreams = 30

// MaxIdleTimeout closes a QUIC connection that's carried no traffic for
// this long.
const MaxIdleTimeout = 600 * time.Second

func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIncomingStreams: MaxConcurrentBidiStreams,
		MaxIdleTimeout:     MaxIdleTimeout,
	}
}

// Listen starts a QUIC listener presenting the given certificate.
func Listen(addr string, cert tls.Certificate) (*quic.Listener, error) {
	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   ALPN,
		MinVersion:   tls.VersionTLS13,
	}
	ln, err := quic.ListenAddr(addr, tlsCfg, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("quictransport: listening on %s: %w", addr, err)
	}
	return ln, nil
}

// Dial connects to a trojanlite QUIC server.
func Dial(ctx context.Context, addr, serverName string) (quic.Connection, error) {
	tlsCfg := &tls.Config{
		ServerName: serverName,
		NextProtos: ALPN,
		MinVersion: tls.VersionTLS13,
	}
	conn, err := quic.DialAddr(ctx, addr, tlsCfg, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("quictransport: dialing %s: %w", addr, err)
	}
	return conn, nil
}

// OpenRequestStream opens a new bidirectional stream for one Trojan
// request over an established QUIC connection.
func OpenRequestStream(ctx context.Context, conn quic.Connection) (quic.Stream, error) {
	return conn.OpenStreamSync(ctx)
}

// AcceptRequestStream waits for the next incoming request stream on the
// server side.
func AcceptRequestStream(ctx context.Context, conn quic.Connection) (quic.Stream, error) {
	return conn.AcceptStream(ctx)
}

// Conn adapts one QUIC stream, plus its parent connection's addresses, to
// net.Conn, so the rest of trojanlite can treat a Trojan request carried
// over a QUIC stream exactly like one carried over a raw TCP connection.
type Conn struct {
	quic.Stream
	local  net.Addr
	remote net.Addr
}

func newConn(stream quic.Stream, qconn quic.Connection) *Conn {
	return &Conn{Stream: stream, local: qconn.LocalAddr(), remote: qconn.RemoteAddr()}
}

func (c *Conn) LocalAddr() net.Addr  { return c.local }
func (c *Conn) RemoteAddr() net.Addr { return c.remote }

// Listener presents every stream accepted off any QUIC connection as a
// single stream of net.Conn values, so a server's one-Accept-per-request
// loop stays transport-agnostic: one QUIC connection multiplexes many
// Trojan requests as separate streams, but from the caller's side it
// still looks like net.Listener.Accept returning one connection per
// request.
type Listener struct {
	quicLn *quic.Listener
	conns  chan net.Conn
	errs   chan error
	closed chan struct{}
}

// NewListener starts a QUIC listener and begins fanning its streams into
// Listener.Accept.
func NewListener(addr string, cert tls.Certificate) (*Listener, error) {
	quicLn, err := Listen(addr, cert)
	if err != nil {
		return nil, err
	}
	l := &Listener{
		quicLn: quicLn,
		conns:  make(chan net.Conn),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
	go l.acceptConnections()
	return l, nil
}

func (l *Listener) acceptConnections() {
	for {
		qconn, err := l.quicLn.Accept(context.Background())
		if err != nil {
			select {
			case l.errs <- err:
			default:
			}
			return
		}
		go l.acceptStreams(qconn)
	}
}

func (l *Listener) acceptStreams(qconn quic.Connection) {
	for {
		stream, err := qconn.AcceptStream(context.Background())
		if err != nil {
			return
		}
		select {
		case l.conns <- newConn(stream, qconn):
		case <-l.closed:
			stream.CancelRead(0)
			return
		}
	}
}

// Accept returns the next request stream, from any accepted QUIC
// connection, as a net.Conn.
func (l *Listener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case err := <-l.errs:
		return nil, err
	}
}

// Close stops accepting new connections and streams.
func (l *Listener) Close() error {
	l.closeOnce()
	return l.quicLn.Close()
}

func (l *Listener) closeOnce() {
	select {
	case <-l.closed:
	default:
		close(l.closed)
	}
}

// Addr returns the address the listener is bound to.
func (l *Listener) Addr() net.Addr { return l.quicLn.Addr() }

// DialStream opens a new bidirectional stream for one Trojan request,
// dialing a fresh QUIC connection first if existing is nil. It returns
// the stream wrapped as a net.Conn alongside the QUIC connection used, so
// a client can hang onto that connection and pass it back in as existing
// on the next call to multiplex further requests over it instead of
// paying for a new handshake each time.
func DialStream(ctx context.Context, existing quic.Connection, addr, serverName string) (net.Conn, quic.Connection, error) {
	qconn := existing
	if qconn == nil {
		var err error
		qconn, err = Dial(ctx, addr, serverName)
		if err != nil {
			return nil, nil, err
		}
	}
	stream, err := OpenRequestStream(ctx, qconn)
	if err != nil {
		return nil, nil, err
	}
	return newConn(stream, qconn), qconn, nil
}
