package litetls

import (
	"context"
	"net"
	"testing"
	"time"
)

// harness wires a LiteTlsStream's four connection-facing parameters to a
// pair of net.Pipe conns, giving the test direct control over both "the
// other end of outbound" and "the other end of inbound".
type harness struct {
	stream *LiteTlsStream

	outboundConn net.Conn // this stream's view of the network to the peer
	outboundPeer net.Conn // the test drives this as "the peer"

	inboundConn net.Conn // this stream's view of its local application
	inboundPeer net.Conn // the test drives this as "the application"

	outbound *ChunkReader
	inbound  *ChunkReader
}

func newHarness(s *LiteTlsStream) *harness {
	outboundConn, outboundPeer := net.Pipe()
	inboundConn, inboundPeer := net.Pipe()
	return &harness{
		stream:       s,
		outboundConn: outboundConn,
		outboundPeer: outboundPeer,
		inboundConn:  inboundConn,
		inboundPeer:  inboundPeer,
		outbound:     NewChunkReader(outboundConn),
		inbound:      NewChunkReader(inboundConn),
	}
}

func (h *harness) run(ctx context.Context) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- h.stream.HandshakeTimeout(ctx, h.outboundConn, h.inboundConn, h.outbound, h.inbound)
	}()
	return errCh
}

func TestHandshakeTls12FullHandshake(t *testing.T) {
	server := NewServerEndpoint()
	h := newHarness(server)
	defer h.outboundConn.Close()
	defer h.inboundConn.Close()
	defer h.outboundPeer.Close()
	defer h.inboundPeer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	errCh := h.run(ctx)

	// client sends ClientHello
	clientHello := tlsRecord(0x16, []byte("client-hello"))
	if _, err := h.inboundPeer.Write(clientHello); err != nil {
		t.Fatalf("write client hello: %v", err)
	}

	// server forwards it verbatim to the real destination
	buf := make([]byte, len(clientHello))
	if _, err := readFull(h.outboundPeer, buf); err != nil {
		t.Fatalf("read forwarded client hello: %v", err)
	}

	// client sends its first application-data record (its actual trojan
	// request, indistinguishable on the wire from real TLS app data) —
	// this is what the server's Seen0x17 tracker is watching for.
	go func() {
		h.inboundPeer.Write(tlsRecord(0x17, []byte("trojan-request")))
	}()

	// server must inject leave-tls to the client and expect it echoed back
	cmd := make([]byte, len(leaveTLSCommand))
	if _, err := readFull(h.inboundPeer, cmd); err != nil {
		t.Fatalf("read leave-tls command: %v", err)
	}
	for i, b := range cmd {
		if b != leaveTLSCommand[i] {
			t.Fatalf("leave-tls command mismatch: got %v want %v", cmd, leaveTLSCommand)
		}
	}
	if _, err := h.inboundPeer.Write(leaveTLSCommand); err != nil {
		t.Fatalf("write leave-tls ack: %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("handshake failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handshake did not complete")
	}
}

func TestHandshakeInvalidFirstRecordFallsBack(t *testing.T) {
	client := NewClientEndpoint()
	h := newHarness(client)
	defer h.outboundConn.Close()
	defer h.inboundConn.Close()
	defer h.outboundPeer.Close()
	defer h.inboundPeer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	errCh := h.run(ctx)

	// local application sends something that is not a TLS record at all
	go func() {
		h.inboundPeer.Write([]byte("GET / HTTP/1.1\r\n\r\n"))
	}()

	select {
	case err := <-errCh:
		if !IsInvalid(err) {
			t.Fatalf("expected Invalid error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handshake did not return")
	}
}

func TestHandshakeTimesOut(t *testing.T) {
	client := NewClientEndpoint()
	h := newHarness(client)
	defer h.outboundConn.Close()
	defer h.inboundConn.Close()
	defer h.outboundPeer.Close()
	defer h.inboundPeer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	errCh := h.run(ctx)

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected timeout error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handshake did not return after context deadline")
	}
}

func readFull(r net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
