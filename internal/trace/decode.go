package trace

import (
	"fmt"

	"github.com/roach88/amqpcore/internal/codec"
	"github.com/roach88/amqpcore/internal/frame"
	"github.com/roach88/amqpcore/internal/store"
	"github.com/roach88/amqpcore/internal/types"
)

// Entry is one protocol header or frame split out of a byte stream.
type Entry struct {
	Kind    store.Kind
	Header  frame.Header
	Channel uint16
	Body    types.Performative
	// Payload is a copy; it stays valid after the callback returns.
	Payload []byte
}

// Name is the performative name, the header text, or "heartbeat".
func (e Entry) Name() string {
	switch e.Kind {
	case store.KindHeader:
		return e.Header.String()
	case store.KindHeartbeat:
		return "heartbeat"
	}
	return e.Body.Name()
}

// Splitter decodes one direction of a connection into entries. It follows
// the stream through a SASL exchange in either direction: the server's AMQP
// header comes after sasl-outcome, the client's may come right after
// sasl-init.
type Splitter struct {
	parser *frame.Parser
	emit   func(Entry) error
}

// NewSplitter creates a Splitter that calls emit for each entry in order.
func NewSplitter(emit func(Entry) error) *Splitter {
	dec := codec.NewDecoder(types.NewRegistry(), codec.NewSymbolTable())
	return &Splitter{parser: frame.NewParser(dec), emit: emit}
}

// Write feeds bytes in. Chunks may split headers and frames anywhere. After
// an error the Splitter refuses further input.
func (s *Splitter) Write(b []byte) error {
	return s.parser.Ingest(b, s)
}

// Buffered reports bytes held back waiting for the rest of a frame.
func (s *Splitter) Buffered() int {
	return s.parser.Buffered()
}

func (s *Splitter) OnHeader(h frame.Header) error {
	return s.emit(Entry{Kind: store.KindHeader, Header: h})
}

func (s *Splitter) OnFrame(f *frame.Frame) error {
	e := Entry{Channel: f.Channel, Body: f.Body}
	switch {
	case f.IsHeartbeat():
		e.Kind = store.KindHeartbeat
	case f.Type == frame.TypeSASL:
		e.Kind = store.KindSASL
		if _, ok := f.Body.(*types.SASLOutcome); ok {
			s.parser.ExpectHeader()
		}
	default:
		e.Kind = store.KindAMQP
	}
	if len(f.Payload) > 0 {
		e.Payload = append([]byte(nil), f.Payload...)
	}
	return s.emit(e)
}

// Decode splits a complete byte stream. A trailing partial frame is an
// error.
func Decode(b []byte) ([]Entry, error) {
	var out []Entry
	s := NewSplitter(func(e Entry) error {
		out = append(out, e)
		return nil
	})
	if err := s.Write(b); err != nil {
		return out, err
	}
	if n := s.Buffered(); n > 0 {
		return out, fmt.Errorf("%d trailing bytes do not form a frame", n)
	}
	return out, nil
}
