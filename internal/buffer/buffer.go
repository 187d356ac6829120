// Package buffer provides the growable byte region used by the codec and the
// frame pipeline.
//
// A Buffer has independent read and write cursors. Bytes between the two
// cursors are readable; appends always land at the write cursor and grow the
// backing array on demand. The read cursor can be marked and reset so that
// decoders may read speculatively and rewind when a value turns out to be
// incomplete.
//
// Buffers are not safe for concurrent use.
package buffer

import (
	"encoding/binary"
	"errors"
	"io"
)

// ErrShortBuffer is returned when fewer bytes are readable than requested.
var ErrShortBuffer = errors.New("buffer: insufficient readable bytes")

// ErrOutOfRange is returned when a cursor would move outside the written region.
var ErrOutOfRange = errors.New("buffer: index out of range")

// Buffer is a growable byte region with independent read and write cursors.
type Buffer struct {
	data []byte
	r    int
	w    int
	mark int
}

// New creates an empty Buffer with the given initial capacity.
func New(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer{data: make([]byte, 0, capacity)}
}

// Wrap creates a Buffer whose readable region is b. The Buffer takes
// ownership of b; callers must not modify it afterwards.
func Wrap(b []byte) *Buffer {
	return &Buffer{data: b, w: len(b)}
}

// Readable returns the number of unread bytes.
func (b *Buffer) Readable() int {
	return b.w - b.r
}

// ReadIndex returns the read cursor position.
func (b *Buffer) ReadIndex() int {
	return b.r
}

// WriteIndex returns the write cursor position.
func (b *Buffer) WriteIndex() int {
	return b.w
}

// SetReadIndex moves the read cursor. The index must lie within [0, WriteIndex].
func (b *Buffer) SetReadIndex(i int) error {
	if i < 0 || i > b.w {
		return ErrOutOfRange
	}
	b.r = i
	return nil
}

// Mark records the current read cursor for a later Reset.
func (b *Buffer) Mark() {
	b.mark = b.r
}

// Reset rewinds the read cursor to the last Mark.
func (b *Buffer) Reset() {
	if b.mark > b.w {
		b.mark = b.w
	}
	b.r = b.mark
}

// Bytes returns the readable region without consuming it. The slice aliases
// the buffer and is only valid until the next write or Compact.
func (b *Buffer) Bytes() []byte {
	return b.data[b.r:b.w]
}

// Peek returns the next readable byte without consuming it.
func (b *Buffer) Peek() (byte, error) {
	if b.r >= b.w {
		return 0, ErrShortBuffer
	}
	return b.data[b.r], nil
}

// PeekAt returns the byte at offset off from the read cursor without consuming it.
func (b *Buffer) PeekAt(off int) (byte, error) {
	if off < 0 || b.r+off >= b.w {
		return 0, ErrShortBuffer
	}
	return b.data[b.r+off], nil
}

// need checks that n bytes are readable and advances the read cursor.
func (b *Buffer) need(n int) (int, error) {
	if n < 0 || b.r+n > b.w {
		return 0, ErrShortBuffer
	}
	off := b.r
	b.r += n
	return off, nil
}

// ReadByte consumes one byte.
func (b *Buffer) ReadByte() (byte, error) {
	off, err := b.need(1)
	if err != nil {
		return 0, err
	}
	return b.data[off], nil
}

// ReadUint16 consumes a big-endian uint16.
func (b *Buffer) ReadUint16() (uint16, error) {
	off, err := b.need(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b.data[off:]), nil
}

// ReadUint32 consumes a big-endian uint32.
func (b *Buffer) ReadUint32() (uint32, error) {
	off, err := b.need(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b.data[off:]), nil
}

// ReadUint64 consumes a big-endian uint64.
func (b *Buffer) ReadUint64() (uint64, error) {
	off, err := b.need(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b.data[off:]), nil
}

// Next consumes n bytes and returns them as a sub-slice of the buffer
// (zero-copy). The slice is only valid until the next write or Compact.
func (b *Buffer) Next(n int) ([]byte, error) {
	off, err := b.need(n)
	if err != nil {
		return nil, err
	}
	return b.data[off : off+n : off+n], nil
}

// Skip consumes n bytes.
func (b *Buffer) Skip(n int) error {
	_, err := b.need(n)
	return err
}

// Read implements io.Reader over the readable region.
func (b *Buffer) Read(p []byte) (int, error) {
	if b.r >= b.w {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := copy(p, b.data[b.r:b.w])
	b.r += n
	return n, nil
}

// Grow guarantees room for n more bytes without another allocation.
func (b *Buffer) Grow(n int) {
	if cap(b.data)-b.w >= n {
		return
	}
	// Reclaim consumed space first when that is enough.
	if b.r > 0 && cap(b.data)-b.Readable() >= n {
		b.Compact()
		return
	}
	size := 2*cap(b.data) + n
	if size < 64 {
		size = 64
	}
	grown := make([]byte, b.w, size)
	copy(grown, b.data[:b.w])
	b.data = grown
}

// Write appends p at the write cursor.
func (b *Buffer) Write(p []byte) (int, error) {
	b.Grow(len(p))
	b.data = append(b.data[:b.w], p...)
	b.w += len(p)
	return len(p), nil
}

// WriteByte appends one byte.
func (b *Buffer) WriteByte(c byte) error {
	b.Grow(1)
	b.data = append(b.data[:b.w], c)
	b.w++
	return nil
}

// WriteUint16 appends a big-endian uint16.
func (b *Buffer) WriteUint16(v uint16) {
	b.Grow(2)
	b.data = binary.BigEndian.AppendUint16(b.data[:b.w], v)
	b.w += 2
}

// WriteUint32 appends a big-endian uint32.
func (b *Buffer) WriteUint32(v uint32) {
	b.Grow(4)
	b.data = binary.BigEndian.AppendUint32(b.data[:b.w], v)
	b.w += 4
}

// WriteUint64 appends a big-endian uint64.
func (b *Buffer) WriteUint64(v uint64) {
	b.Grow(8)
	b.data = binary.BigEndian.AppendUint64(b.data[:b.w], v)
	b.w += 8
}

// SetUint32At overwrites four already-written bytes at absolute index i.
// Used to back-patch length prefixes once a body has been written.
func (b *Buffer) SetUint32At(i int, v uint32) error {
	if i < 0 || i+4 > b.w {
		return ErrOutOfRange
	}
	binary.BigEndian.PutUint32(b.data[i:], v)
	return nil
}

// SetByteAt overwrites one already-written byte at absolute index i.
func (b *Buffer) SetByteAt(i int, v byte) error {
	if i < 0 || i >= b.w {
		return ErrOutOfRange
	}
	b.data[i] = v
	return nil
}

// Compact discards consumed bytes, moving the readable region to the front.
func (b *Buffer) Compact() {
	if b.r == 0 {
		return
	}
	n := copy(b.data[:cap(b.data)], b.data[b.r:b.w])
	b.data = b.data[:n]
	b.mark -= b.r
	if b.mark < 0 {
		b.mark = 0
	}
	b.r = 0
	b.w = n
}

// Clear empties the buffer, keeping its capacity.
func (b *Buffer) Clear() {
	b.data = b.data[:0]
	b.r, b.w, b.mark = 0, 0, 0
}

// Copy returns a copy of the readable region.
func (b *Buffer) Copy() []byte {
	out := make([]byte, b.Readable())
	copy(out, b.data[b.r:b.w])
	return out
}
