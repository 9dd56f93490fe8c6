// Package udprelay implements a cursor-tracked growable buffer: a single
// []byte with a read cursor, so a caller can read a variable amount
// straight off the wire and then parse however many whole records happen
// to be sitting in it. Its one user in this module is socks5udp's Recv;
// the Trojan framing and the server-side UDP socket do not use it.
package udprelay

// Buffer is a growable byte buffer with a read cursor, used to accumulate
// UDP datagrams before a complete record is ready to extract.
type Buffer struct {
	buf    []byte
	cursor int
}

// NewBuffer returns an empty buffer with a modest starting capacity, large
// enough for one typical UDP datagram without reallocating.
func NewBuffer() *Buffer {
	return &Buffer{buf: make([]byte, 0, 2048)}
}

// Remaining returns how many unconsumed bytes are sitting after the
// cursor.
func (b *Buffer) Remaining() int { return len(b.buf) - b.cursor }

// Len returns the total number of bytes held, consumed or not.
func (b *Buffer) Len() int { return len(b.buf) }

// Reserve grows the buffer's backing array so that at least extra bytes
// of spare capacity are available past the current contents, without
// changing Len.
func (b *Buffer) Reserve(extra int) {
	if cap(b.buf)-len(b.buf) >= extra {
		return
	}
	grown := make([]byte, len(b.buf), len(b.buf)+extra)
	copy(grown, b.buf)
	b.buf = grown
}

// AsReadBuf returns a slice over the buffer's full spare capacity, for a
// net.PacketConn.ReadFrom (or similar) call to read directly into.
func (b *Buffer) AsReadBuf() []byte {
	return b.buf[len(b.buf):cap(b.buf)]
}

// AdvanceMut records that n bytes were just written into the slice
// returned by AsReadBuf, extending Len by n.
func (b *Buffer) AdvanceMut(n int) {
	b.buf = b.buf[:len(b.buf)+n]
}

// Advance moves the cursor forward by n bytes, marking them consumed.
func (b *Buffer) Advance(n int) {
	b.cursor += n
}

// Bytes returns the unconsumed tail of the buffer, from the cursor on.
func (b *Buffer) Bytes() []byte {
	return b.buf[b.cursor:]
}

// Compact discards everything before the cursor, shifting the remaining
// bytes to the start of the backing array and resetting the cursor to 0.
func (b *Buffer) Compact() {
	n := copy(b.buf[:b.Remaining()], b.buf[b.cursor:])
	b.buf = b.buf[:n]
	b.cursor = 0
}

// Reset empties the buffer entirely.
func (b *Buffer) Reset() {
	b.buf = b.buf[:0]
	b.cursor = 0
}

// Append copies p onto the end of the buffer, growing as needed.
func (b *Buffer) Append(p []byte) {
	b.buf = append(b.buf, p...)
}
