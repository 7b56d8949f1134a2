package cstruct

import (
	"fmt"
	"io"
)

// Cursor is a position-tracking reader/writer over an in-memory buffer or a
// streaming source. Byte positions only; bitfield runs keep their own bit
// pointer inside the structure codec.
type Cursor struct {
	buf []byte
	pos int

	// stream mode: reads come from r, buf is unused
	r io.Reader
}

// NewCursor returns a seekable cursor over data. The cursor reads from and
// writes into its own copy of data.
func NewCursor(data []byte) *Cursor {
	buf := make([]byte, len(data))
	copy(buf, data)
	return &Cursor{buf: buf}
}

// NewStreamCursor returns a forward-only cursor over r. Seeking backwards and
// absolute seeks fail.
func NewStreamCursor(r io.Reader) *Cursor {
	return &Cursor{r: r}
}

// newWriteCursor returns an empty growable cursor for emission.
func newWriteCursor() *Cursor {
	return &Cursor{buf: []byte{}}
}

// Tell returns the current byte position.
func (c *Cursor) Tell() int { return c.pos }

// Seekable reports whether absolute seeks are possible.
func (c *Cursor) Seekable() bool { return c.r == nil }

// Seek repositions the cursor. whence is io.SeekStart, io.SeekCurrent or
// io.SeekEnd. Stream cursors only support forward relative seeks, which
// discard the skipped bytes.
func (c *Cursor) Seek(offset int, whence int) (int, error) {
	if c.r != nil {
		if whence != io.SeekCurrent || offset < 0 {
			return c.pos, fmt.Errorf("stream cursor only seeks forward")
		}
		if _, err := io.CopyN(io.Discard, c.r, int64(offset)); err != nil {
			return c.pos, fmt.Errorf("%w: seek past end of stream", ErrTruncated)
		}
		c.pos += offset
		return c.pos, nil
	}

	var abs int
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = c.pos + offset
	case io.SeekEnd:
		abs = len(c.buf) + offset
	default:
		return c.pos, fmt.Errorf("invalid whence %d", whence)
	}
	if abs < 0 {
		return c.pos, fmt.Errorf("seek before start of buffer")
	}
	c.pos = abs
	return c.pos, nil
}

// ReadExact reads exactly n bytes, failing with ErrTruncated on a short read.
func (c *Cursor) ReadExact(n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("negative read size %d", n)
	}
	if c.r != nil {
		b := make([]byte, n)
		if _, err := io.ReadFull(c.r, b); err != nil {
			return nil, fmt.Errorf("%w: wanted %d bytes", ErrTruncated, n)
		}
		c.pos += n
		return b, nil
	}
	if c.pos+n > len(c.buf) {
		return nil, fmt.Errorf("%w: wanted %d bytes at offset %d, have %d",
			ErrTruncated, n, c.pos, len(c.buf)-c.pos)
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

// ReadByte reads a single byte.
func (c *Cursor) ReadByte() (byte, error) {
	b, err := c.ReadExact(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Write writes p at the current position, growing the buffer as needed.
// Stream cursors are read-only.
func (c *Cursor) Write(p []byte) (int, error) {
	if c.r != nil {
		return 0, fmt.Errorf("stream cursor is read-only")
	}
	end := c.pos + len(p)
	if end > len(c.buf) {
		grown := make([]byte, end)
		copy(grown, c.buf)
		c.buf = grown
	}
	copy(c.buf[c.pos:end], p)
	c.pos = end
	return len(p), nil
}

// Bytes returns the cursor's backing buffer. Only meaningful for buffer
// cursors.
func (c *Cursor) Bytes() []byte { return c.buf }
