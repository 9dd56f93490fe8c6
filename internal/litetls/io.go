package litetls

import "io"

// ReadOnce pulls the next chunk from cr and appends it to the buffer. It
// returns the number of bytes appended, surfacing io.EOF whenever that
// count is zero — even if cr.Next() itself reported a nil error — matching
// the Rust original's read_buf() == 0 check at the equivalent call sites.
func (b *TlsRelayBuffer) ReadOnce(cr *ChunkReader) (int, error) {
	chunk, err := cr.Next()
	if len(chunk) > 0 {
		dst := b.Grow(len(chunk))
		copy(dst, chunk)
	}
	if len(chunk) == 0 && err == nil {
		err = io.EOF
	}
	return len(chunk), err
}

// appendChunk appends a chunk already received from a ChunkReader's
// channel (via Chan(), inside a select) without blocking for another one.
func (b *TlsRelayBuffer) appendChunk(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	dst := b.Grow(len(chunk))
	copy(dst, chunk)
}

// FlushChecked writes the checked prefix of the buffer to w and pops it,
// doing nothing if nothing has been checked yet (so a zero-length write is
// never issued and confused with EOF on the writer side).
func (b *TlsRelayBuffer) FlushChecked(w io.Writer) error {
	checked := b.CheckedPackets()
	if len(checked) == 0 {
		return nil
	}
	if _, err := w.Write(checked); err != nil {
		return err
	}
	b.PopCheckedPackets()
	return nil
}

// FlushAll writes every buffered byte, checked or not, to w and clears the
// buffer. Used when a handshake attempt is abandoned and falls back to a
// plain relay: everything observed so far must still reach the peer
// untouched.
func (b *TlsRelayBuffer) FlushAll(w io.Writer) error {
	if b.Len() == 0 {
		return nil
	}
	if _, err := w.Write(b.Bytes()); err != nil {
		return err
	}
	b.Reset()
	return nil
}
