package litetls

import "io"

// chunkResult is one Read outcome delivered by a ChunkReader.
type chunkResult struct {
	b   []byte
	err error
}

// readChunk is the size of the scratch buffer each background Read fills:
// room for one maximum-size TLS record.
const readChunk = maxTLSRecordAlloc

// ChunkReader performs every Read against an underlying connection in the
// background, delivering each chunk over a channel. This is the Go answer
// to tokio::select! racing two read_buf() futures: Go has no way to cancel
// an in-flight blocking Read, so pump starts one short-lived goroutine per
// Read, and the next one is started only after the previous chunk has been
// taken from the channel. At most one Read is ever in flight on a given
// ChunkReader's connection, and a Read whose select arm lost a race is not
// abandoned: its chunk waits in the channel. The handshake's select loop
// and the plaintext relay that runs after it both consume the same
// ChunkReader, so a connection is never read from concurrently by two
// goroutines.
type ChunkReader struct {
	r   io.Reader
	ch  chan chunkResult
	buf []byte
	rem []byte
}

// NewChunkReader starts the background read loop immediately.
func NewChunkReader(r io.Reader) *ChunkReader {
	c := &ChunkReader{r: r, ch: make(chan chunkResult, 1), buf: make([]byte, readChunk)}
	c.pump()
	return c
}

func (c *ChunkReader) pump() {
	go func() {
		n, err := c.r.Read(c.buf)
		chunk := make([]byte, n)
		copy(chunk, c.buf[:n])
		c.ch <- chunkResult{b: chunk, err: err}
	}()
}

// Chan exposes the next pending chunk's arrival, for use as one arm of a
// select statement. Callers that receive from it must call pump
// afterward to re-arm the background read.
func (c *ChunkReader) Chan() <-chan chunkResult { return c.ch }

// Next blocks for the next chunk and re-arms the reader for the one after
// that, unless the connection has reached EOF or errored.
func (c *ChunkReader) Next() ([]byte, error) {
	res := <-c.ch
	if res.err == nil {
		c.pump()
	}
	return res.b, res.err
}

// Read implements io.Reader on top of the channel-fed chunks, so a
// ChunkReader can be handed to io.Copy once the handshake is done with it.
func (c *ChunkReader) Read(p []byte) (int, error) {
	if len(c.rem) == 0 {
		b, err := c.Next()
		if err != nil {
			return 0, err
		}
		c.rem = b
	}
	n := copy(p, c.rem)
	c.rem = c.rem[n:]
	return n, nil
}
