// Package frame implements AMQP 1.0 framing: the 8-byte protocol header, the
// frame header, an incremental parser that tolerates arbitrary chunking, and
// a writer that encodes one performative and payload per frame.
package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/roach88/amqpcore/internal/types"
)

const (
	// HeaderSize is the length of the protocol header.
	HeaderSize = 8
	// MinSize is the smallest legal frame: the frame header alone.
	MinSize = 8
	// MinMaxFrameSize is the smallest max-frame-size a peer may advertise.
	MinMaxFrameSize = 512
	// minDataOffset is in 4-byte words.
	minDataOffset = 2
)

var (
	ErrBadHeader       = errors.New("frame: bad protocol header")
	ErrFrameTooSmall   = errors.New("frame: size smaller than frame header")
	ErrBadDataOffset   = errors.New("frame: data offset outside frame")
	ErrFrameTooLarge   = errors.New("frame: size exceeds max frame size")
	ErrUnknownType     = errors.New("frame: unknown frame type")
	ErrNotPerformative = errors.New("frame: body is not a performative")
)

// Type is the frame type byte.
type Type uint8

const (
	TypeAMQP Type = 0
	TypeSASL Type = 1
)

func (t Type) String() string {
	switch t {
	case TypeAMQP:
		return "amqp"
	case TypeSASL:
		return "sasl"
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// Header is the protocol header that opens each direction of a connection
// and, after SASL, the AMQP layer.
type Header struct {
	ProtocolID uint8
	Major      uint8
	Minor      uint8
	Revision   uint8
}

var (
	AMQPHeader = Header{ProtocolID: 0, Major: 1}
	SASLHeader = Header{ProtocolID: 3, Major: 1}
)

var magic = []byte("AMQP")

// Bytes returns the wire form of h.
func (h Header) Bytes() []byte {
	return []byte{'A', 'M', 'Q', 'P', h.ProtocolID, h.Major, h.Minor, h.Revision}
}

func (h Header) String() string {
	return fmt.Sprintf("AMQP %d %d.%d.%d", h.ProtocolID, h.Major, h.Minor, h.Revision)
}

// ParseHeader decodes an 8-byte protocol header.
func ParseHeader(b []byte) (Header, error) {
	if len(b) != HeaderSize || !bytes.Equal(b[:4], magic) {
		return Header{}, ErrBadHeader
	}
	return Header{ProtocolID: b[4], Major: b[5], Minor: b[6], Revision: b[7]}, nil
}

// Frame is one decoded frame. Body is nil for heartbeat frames. Payload
// aliases parser memory and is only valid for the duration of the callback.
type Frame struct {
	Type    Type
	Channel uint16
	Size    uint32
	Body    types.Performative
	Payload []byte
}

// IsHeartbeat reports whether f carried no performative.
func (f *Frame) IsHeartbeat() bool {
	return f.Body == nil
}

func (f *Frame) String() string {
	if f.Body == nil {
		return fmt.Sprintf("%s[%d] heartbeat", f.Type, f.Channel)
	}
	return fmt.Sprintf("%s[%d] %s (%d bytes, payload %d)", f.Type, f.Channel, f.Body.Name(), f.Size, len(f.Payload))
}

// frameHeader is the fixed 8-byte prefix of every frame.
type frameHeader struct {
	size    uint32
	doff    uint8
	typ     Type
	channel uint16
}

func readFrameHeader(b []byte) frameHeader {
	return frameHeader{
		size:    binary.BigEndian.Uint32(b[0:4]),
		doff:    b[4],
		typ:     Type(b[5]),
		channel: binary.BigEndian.Uint16(b[6:8]),
	}
}

func (h frameHeader) validate(maxSize uint32) error {
	if h.size < MinSize {
		return fmt.Errorf("%w: %d", ErrFrameTooSmall, h.size)
	}
	if maxSize != 0 && h.size > maxSize {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, h.size, maxSize)
	}
	if h.doff < minDataOffset || uint32(h.doff)*4 > h.size {
		return fmt.Errorf("%w: %d", ErrBadDataOffset, h.doff)
	}
	if h.typ != TypeAMQP && h.typ != TypeSASL {
		return fmt.Errorf("%w: %d", ErrUnknownType, uint8(h.typ))
	}
	return nil
}
