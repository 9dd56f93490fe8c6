// Package relay drives the bidirectional byte-pumps that run after a
// Trojan connection has been authenticated and its destination resolved:
// a plain TCP copy loop for CONNECT-style streams, and a datagram pump
// for UDP-associate sessions.
package relay

import (
	"io"
	"net"

	"go.uber.org/zap"
)

// copyBufferSize is large enough to move a full TLS record (or a chunky
// plaintext response) in one Read/Write pair; sultry used the same size
// for exactly this reason.
const copyBufferSize = 65536

// TCP relays bytes in both directions between a and b until either side
// closes, then closes both. It blocks until the relay is finished.
func TCP(a, b net.Conn, log *zap.Logger) {
	done := make(chan struct{}, 2)

	pump := func(dst, src net.Conn, label string) {
		buf := make([]byte, copyBufferSize)
		_, err := io.CopyBuffer(dst, src, buf)
		if err != nil && err != io.EOF {
			log.Debug("relay: copy ended", zap.String("direction", label), zap.Error(err))
		}
		done <- struct{}{}
	}

	go pump(b, a, "a->b")
	go pump(a, b, "b->a")

	<-done
	a.Close()
	b.Close()
	<-done
}
