package litetls

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Side identifies which Trojan endpoint a LiteTlsStream is running on. The
// termination sub-protocol is asymmetric, so each side runs different code
// at the same point in the handshake.
type Side int

const (
	ClientSide Side = iota
	ServerSide
)

// HandshakeTimeout bounds how long a LiteTlsStream handshake is allowed to
// run before giving up and falling back to a plain relay.
const HandshakeTimeout = 10 * time.Second

// leaveTLSCommand is written in place of a real TLS record once the
// handshake has completed far enough that both peers only need to agree on
// the exact moment to leave the record layer. 0xff is never a valid TLS
// record type, so a peer that doesn't understand it sees a clearly broken
// stream rather than silently misinterpreting it as content.
var leaveTLSCommand = []byte{0xff, 0x03, 0x03, 0x00, 0x00}

// LiteTlsStream runs the handshake-boundary state machine for one
// connection: it watches both directions of a TLS 1.2 or 1.3 handshake go
// by, without decrypting anything, and stops exactly at the point where it
// is safe for both peers to leave the record layer and relay plaintext TCP
// from then on.
type LiteTlsStream struct {
	inboundBuf  *TlsRelayBuffer
	outboundBuf *TlsRelayBuffer
	seen0x17    Seen0x17
	side        Side
}

// NewClientEndpoint returns a LiteTlsStream for the Trojan client side:
// inbound faces the local application, outbound faces the remote server.
func NewClientEndpoint() *LiteTlsStream {
	return &LiteTlsStream{
		inboundBuf:  NewTlsRelayBuffer(),
		outboundBuf: NewTlsRelayBuffer(),
		side:        ClientSide,
	}
}

// NewServerEndpoint returns a LiteTlsStream for the Trojan server side:
// inbound faces the client, outbound faces the real destination.
func NewServerEndpoint() *LiteTlsStream {
	return &LiteTlsStream{
		inboundBuf:  NewTlsRelayBuffer(),
		outboundBuf: NewTlsRelayBuffer(),
		side:        ServerSide,
	}
}

// relayPending forwards whatever has been checked in the buffer belonging
// to dir to the opposite peer. A direction with nothing checked yet is a
// no-op rather than a zero-length write, so it can never be confused with
// the writer-side EOF convention used elsewhere in this package.
func (s *LiteTlsStream) relayPending(dir Direction, outbound, inbound io.Writer) error {
	if dir == Inbound {
		return s.inboundBuf.FlushChecked(outbound)
	}
	return s.outboundBuf.FlushChecked(inbound)
}

// clientHello blocks until a complete ClientHello record has arrived on
// inbound, growing inboundBuf one chunk at a time.
func (s *LiteTlsStream) clientHello(inbound *ChunkReader) error {
	for {
		if _, err := s.inboundBuf.ReadOnce(inbound); err != nil {
			return err
		}
		err := s.inboundBuf.CheckClientHello()
		if err == nil {
			return nil
		}
		if !IsIncomplete(err) {
			return err
		}
	}
}

// handshakeTLS12Server runs the server-side termination for a TLS 1.2
// handshake: flush anything already queued for the client, inject the
// leave-TLS command, then require the client's next record to be a 0xff
// leave-TLS record (only the type byte is checked) before trusting the
// client to have truly left too.
func (s *LiteTlsStream) handshakeTLS12Server(inboundConn io.Writer, inbound *ChunkReader) error {
	if err := s.outboundBuf.FlushChecked(inboundConn); err != nil {
		return err
	}
	if _, err := inboundConn.Write(leaveTLSCommand); err != nil {
		return err
	}
	if _, err := s.inboundBuf.ReadOnce(inbound); err != nil {
		return err
	}
	packetType, err := s.inboundBuf.CheckTlsPacket()
	if err != nil {
		return err
	}
	if packetType != 0xff {
		// The client spoke before acking leave-TLS: rather than guess at
		// resynchronizing, treat it as a desync and fall back.
		return invalidf("expected leave-tls ack from client, got record type 0x%02x", packetType)
	}
	s.inboundBuf.PopCheckedPackets()
	return nil
}

// handshakeTLS12Client runs the client-side termination for a TLS 1.2
// handshake: consume the server's injected leave-TLS command and echo it
// straight back on outbound.
func (s *LiteTlsStream) handshakeTLS12Client(outboundConn io.Writer, inboundConn io.Writer) error {
	if err := s.outboundBuf.FlushChecked(inboundConn); err != nil {
		return err
	}
	if _, err := s.outboundBuf.CheckTlsPacket(); err != nil {
		return err
	}
	s.outboundBuf.PopCheckedPackets()
	if _, err := outboundConn.Write(leaveTLSCommand); err != nil {
		return err
	}
	return nil
}

// handshakeTLS13Client consumes the server's 0.5-RTT dummy ChangeCipherSpec
// beacon, which in TLS 1.3 is the natural synchronization point: no
// injected command is needed on this path.
func (s *LiteTlsStream) handshakeTLS13Client(outbound *ChunkReader) error {
	if _, err := s.outboundBuf.ReadOnce(outbound); err != nil {
		return err
	}
	packetType, err := s.outboundBuf.CheckTlsPacket()
	if err != nil {
		return err
	}
	if packetType != 0x14 {
		return invalidf("expected tls 1.3 ccs beacon, got record type 0x%02x", packetType)
	}
	s.outboundBuf.Reset()
	return nil
}

// handshakeTLS13Server emits the dummy ChangeCipherSpec beacon that gives
// the client a synchronization point to leave the record layer at.
func (s *LiteTlsStream) handshakeTLS13Server(inboundConn io.Writer) error {
	if s.inboundBuf.Len() != 0 {
		return invalidf("inbound buffer not empty before tls 1.3 ccs beacon")
	}
	if _, err := inboundConn.Write([]byte{0x14, 0x03, 0x03, 0x00, 0x01, 0x01}); err != nil {
		return err
	}
	return nil
}

// handshakeTLS13 drains one more complete record from inbound before
// dispatching to the side-specific termination, mirroring the extra
// buffering the server needs to have seen the client's real Finished
// message land before it can safely emit its own beacon.
func (s *LiteTlsStream) handshakeTLS13(outboundConn io.Writer, inboundConn io.Writer, outbound, inbound *ChunkReader) error {
	for {
		if _, err := s.inboundBuf.CheckTlsPacket(); err == nil {
			break
		} else if IsIncomplete(err) {
			if _, rerr := s.inboundBuf.ReadOnce(inbound); rerr != nil {
				return rerr
			}
			continue
		} else {
			return err
		}
	}
	if err := s.inboundBuf.FlushChecked(outboundConn); err != nil {
		return err
	}
	switch s.side {
	case ClientSide:
		return s.handshakeTLS13Client(outbound)
	default:
		return s.handshakeTLS13Server(inboundConn)
	}
}

// handshake is the main loop: race a read from inbound against a read
// from outbound, run the generic record scanner over whichever buffer
// just grew, and dispatch to a termination sub-protocol the moment the
// scanner recognizes the handshake boundary. Both ChunkReaders keep
// running in the background for as long as the connections live, so
// whichever one loses a given race is simply consumed on a later
// iteration rather than left as a dangling read.
func (s *LiteTlsStream) handshake(outboundConn, inboundConn io.Writer, outbound, inbound *ChunkReader) error {
	if err := s.clientHello(inbound); err != nil {
		return err
	}
	if _, err := outboundConn.Write(s.inboundBuf.Bytes()); err != nil {
		return err
	}
	s.inboundBuf.Reset()

	for {
		var dir Direction
		select {
		case res := <-inbound.Chan():
			if res.err != nil {
				return res.err
			}
			if len(res.b) == 0 {
				return fmt.Errorf("litetls: inbound closed during handshake")
			}
			s.inboundBuf.appendChunk(res.b)
			inbound.pump()
			dir = Inbound
		case res := <-outbound.Chan():
			if res.err != nil {
				return res.err
			}
			if len(res.b) == 0 {
				return fmt.Errorf("litetls: outbound closed during handshake")
			}
			s.outboundBuf.appendChunk(res.b)
			outbound.pump()
			dir = Outbound
		}

		var version TlsVersion
		var err error
		if dir == Inbound {
			version, err = s.inboundBuf.FindKeyPackets(&s.seen0x17, Inbound)
		} else {
			version, err = s.outboundBuf.FindKeyPackets(&s.seen0x17, Outbound)
		}

		switch {
		case err == nil:
			switch version {
			case Tls12:
				if s.side == ServerSide {
					err = s.handshakeTLS12Server(inboundConn, inbound)
				} else {
					err = s.handshakeTLS12Client(outboundConn, inboundConn)
				}
			case Tls13:
				err = s.handshakeTLS13(outboundConn, inboundConn, outbound, inbound)
			}
			return err
		case IsIncomplete(err):
			if err := s.relayPending(dir, outboundConn, inboundConn); err != nil {
				return err
			}
		default:
			return err
		}
	}
}

// HandshakeTimeout runs the handshake with a deadline. outboundConn and
// inboundConn are the raw writers; outbound and inbound are ChunkReaders
// wrapping the matching connections' read side — callers construct these
// once per connection and keep using them (as plain io.Reader) for the
// plaintext relay that follows, so the connection is never read from by
// more than one goroutine across the handshake-to-relay transition.
// On error, including a timeout, callers should fall back to a plain TLS
// relay using the same outboundConn/inboundConn/outbound/inbound values.
func (s *LiteTlsStream) HandshakeTimeout(ctx context.Context, outboundConn, inboundConn io.Writer, outbound, inbound *ChunkReader) error {
	ctx, cancel := context.WithTimeout(ctx, HandshakeTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.handshake(outboundConn, inboundConn, outbound, inbound) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush drains any residual bytes left in either buffer after a successful
// handshake, so the plaintext relay that follows starts from a clean
// slate. It consumes the stream: callers discard it afterward.
func (s *LiteTlsStream) Flush(outboundConn, inboundConn io.Writer) error {
	if err := s.inboundBuf.FlushAll(outboundConn); err != nil {
		return err
	}
	return s.outboundBuf.FlushAll(inboundConn)
}
