package frame

import (
	"fmt"

	"github.com/roach88/amqpcore/internal/buffer"
	"github.com/roach88/amqpcore/internal/codec"
	"github.com/roach88/amqpcore/internal/types"
)

// Writer encodes frames. Each call returns a freshly allocated slice holding
// exactly one frame, so callers may hand it to a transport and forget it.
type Writer struct {
	enc          *codec.Encoder
	buf          *buffer.Buffer
	maxFrameSize uint32
}

// NewWriter creates a writer. Frames are unbounded until SetMaxFrameSize.
func NewWriter(enc *codec.Encoder) *Writer {
	return &Writer{enc: enc, buf: buffer.New(256)}
}

// SetMaxFrameSize bounds written frames. Zero means unbounded.
func (w *Writer) SetMaxFrameSize(n uint32) {
	w.maxFrameSize = n
}

// MaxFrameSize returns the current bound.
func (w *Writer) MaxFrameSize() uint32 {
	return w.maxFrameSize
}

// Write encodes body and payload as one frame of type t on channel.
func (w *Writer) Write(t Type, channel uint16, body types.Performative, payload []byte) ([]byte, error) {
	w.buf.Clear()
	w.buf.WriteUint32(0)
	w.buf.WriteByte(minDataOffset)
	w.buf.WriteByte(byte(t))
	w.buf.WriteUint16(channel)
	if err := w.enc.Encode(w.buf, body); err != nil {
		return nil, fmt.Errorf("frame: encode %s: %w", body.Name(), err)
	}
	w.buf.Write(payload)

	size := uint64(w.buf.Readable())
	if w.maxFrameSize != 0 && size > uint64(w.maxFrameSize) {
		return nil, fmt.Errorf("%w: %s frame of %d bytes > %d", ErrFrameTooLarge, body.Name(), size, w.maxFrameSize)
	}
	_ = w.buf.SetUint32At(0, uint32(size))
	return w.buf.Copy(), nil
}

// Overhead returns the bytes a frame carrying body uses before any payload.
func (w *Writer) Overhead(body types.Performative) (int, error) {
	n, err := w.enc.Size(body)
	if err != nil {
		return 0, err
	}
	return MinSize + n, nil
}

// Heartbeat returns an empty AMQP frame on channel 0.
func Heartbeat() []byte {
	return []byte{0, 0, 0, MinSize, minDataOffset, byte(TypeAMQP), 0, 0}
}
