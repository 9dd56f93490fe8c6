package relay

import (
	"errors"
	"io"

	"trojanlite/internal/mixaddr"
)

// DatagramReader yields one datagram (destination address + payload) per
// call, copying the payload into buf. Returning mixaddr.None with a nil
// error signals a graceful end of the session (the EOF convention the
// buffered streams in this module all share).
type DatagramReader func(buf []byte) (mixaddr.MixAddr, int, error)

// DatagramWriter sends one datagram toward addr.
type DatagramWriter func(addr mixaddr.MixAddr, payload []byte) error

// UDP pumps datagrams from read to write until read reports the
// session's end (mixaddr.None, nil error) or returns an error.
// bufSize should be large enough for the relay's largest expected
// datagram; Trojan/SOCKS5 UDP is not fragmented, so an oversized
// datagram is a protocol error rather than something to split across
// calls.
func UDP(read DatagramReader, write DatagramWriter, bufSize int) error {
	buf := make([]byte, bufSize)
	for {
		addr, n, err := read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if addr.IsNone() {
			return nil
		}
		if err := write(addr, buf[:n]); err != nil {
			return err
		}
	}
}
