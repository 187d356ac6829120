package frame

import (
	"bytes"
	"fmt"

	"github.com/roach88/amqpcore/internal/buffer"
	"github.com/roach88/amqpcore/internal/codec"
	"github.com/roach88/amqpcore/internal/types"
)

type parseState uint8

const (
	stateHeader parseState = iota
	stateFrames
)

// Handler receives parser output in arrival order. Returning an error stops
// parsing; the parser then refuses further input.
type Handler interface {
	OnHeader(h Header) error
	OnFrame(f *Frame) error
}

// Parser splits inbound bytes into protocol headers and frames. It keeps
// whatever it cannot yet dispatch, so input may arrive in chunks of any size.
type Parser struct {
	buf          *buffer.Buffer
	dec          *codec.Decoder
	state        parseState
	maxFrameSize uint32
	err          error
}

// NewParser creates a parser that expects a protocol header first.
func NewParser(dec *codec.Decoder) *Parser {
	return &Parser{buf: buffer.New(1024), dec: dec}
}

// SetMaxFrameSize bounds accepted frames. Zero means unbounded.
func (p *Parser) SetMaxFrameSize(n uint32) {
	p.maxFrameSize = n
}

// ExpectHeader makes the next bytes parse as a protocol header. It is used
// when a SASL exchange completes and the AMQP layer starts over.
func (p *Parser) ExpectHeader() {
	p.state = stateHeader
}

// Buffered returns the number of bytes held waiting for more input.
func (p *Parser) Buffered() int {
	return p.buf.Readable()
}

// Err returns the error that stopped the parser, if any.
func (p *Parser) Err() error {
	return p.err
}

// Ingest appends b and dispatches every complete header and frame to h.
// The bytes of b are copied; the caller may reuse b once Ingest returns.
func (p *Parser) Ingest(b []byte, h Handler) error {
	if p.err != nil {
		return p.err
	}
	p.buf.Write(b)
	err := p.drain(h)
	p.buf.Compact()
	if err != nil {
		p.err = err
	}
	return err
}

func (p *Parser) drain(h Handler) error {
	for {
		switch p.state {
		case stateHeader:
			if p.buf.Readable() < HeaderSize {
				return nil
			}
			raw, _ := p.buf.Next(HeaderSize)
			hdr, err := ParseHeader(raw)
			if err != nil {
				return fmt.Errorf("%w: % x", err, raw)
			}
			p.state = stateFrames
			if err := h.OnHeader(hdr); err != nil {
				return err
			}
		case stateFrames:
			if p.buf.Readable() < MinSize {
				return nil
			}
			// A protocol header may follow any frame: the peer repeats it,
			// or the client sends its AMQP header right after sasl-init.
			// A frame starting with the magic would declare over 1 GiB.
			if bytes.HasPrefix(p.buf.Bytes(), magic) {
				p.state = stateHeader
				continue
			}
			fh := readFrameHeader(p.buf.Bytes())
			if err := fh.validate(p.maxFrameSize); err != nil {
				return err
			}
			if uint32(p.buf.Readable()) < fh.size {
				return nil
			}
			raw, _ := p.buf.Next(int(fh.size))
			f, err := p.decode(fh, raw)
			if err != nil {
				return err
			}
			if err := h.OnFrame(f); err != nil {
				return err
			}
		}
	}
}

func (p *Parser) decode(fh frameHeader, raw []byte) (*Frame, error) {
	f := &Frame{Type: fh.typ, Channel: fh.channel, Size: fh.size}
	body := raw[int(fh.doff)*4:]
	if len(body) == 0 {
		return f, nil
	}
	bb := buffer.Wrap(body)
	v, err := p.dec.ReadValue(bb)
	if err != nil {
		return nil, err
	}
	perf, ok := v.(types.Performative)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrNotPerformative, v)
	}
	f.Body = perf
	if bb.Readable() > 0 {
		f.Payload, _ = bb.Next(bb.Readable())
	}
	return f, nil
}
