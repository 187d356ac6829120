package testutil

import (
	"fmt"

	"github.com/roach88/amqpcore/internal/engine"
)

// maxRounds bounds Flush so two engines that keep answering each other
// fail the test instead of hanging it.
const maxRounds = 10000

// Pipe connects two engines back to back, as if over a socket.
//
// Output handlers only queue bytes; Flush feeds the queues to the other side.
// An engine is therefore never re-entered from inside its own handlers,
// which Ingest does not allow.
//
// Thread-safety: Pipe is NOT safe for concurrent use.
type Pipe struct {
	A, B *engine.Engine

	toA, toB [][]byte
	chunk    int

	// Wire, when set, sees every chunk as it is delivered.
	Wire func(from string, b []byte)
}

// NewPipe wires the output of a to the input of b and the reverse. It
// replaces both engines' output handlers.
func NewPipe(a, b *engine.Engine) *Pipe {
	p := &Pipe{A: a, B: b}
	a.OutputHandler(func(out []byte) { p.toB = append(p.toB, append([]byte(nil), out...)) })
	b.OutputHandler(func(out []byte) { p.toA = append(p.toA, append([]byte(nil), out...)) })
	return p
}

// SetChunkSize makes Flush deliver bytes in pieces of at most n bytes,
// regardless of frame boundaries. Zero delivers whole output calls.
func (p *Pipe) SetChunkSize(n int) { p.chunk = n }

// Pending returns the number of output calls not yet delivered.
func (p *Pipe) Pending() int { return len(p.toA) + len(p.toB) }

// Flush delivers queued bytes in both directions until neither side has
// anything left to say. It stops at the first Ingest error.
func (p *Pipe) Flush() error {
	for range maxRounds {
		if p.Pending() == 0 {
			return nil
		}
		toB := p.toB
		p.toB = nil
		if err := p.deliver("A", p.B, toB); err != nil {
			return err
		}
		toA := p.toA
		p.toA = nil
		if err := p.deliver("B", p.A, toA); err != nil {
			return err
		}
	}
	return fmt.Errorf("pipe still busy after %d rounds", maxRounds)
}

func (p *Pipe) deliver(from string, to *engine.Engine, queue [][]byte) error {
	for _, b := range queue {
		if p.Wire != nil {
			p.Wire(from, b)
		}
		for len(b) > 0 {
			n := len(b)
			if p.chunk > 0 {
				n = min(n, p.chunk)
			}
			if err := to.Ingest(b[:n]); err != nil {
				return fmt.Errorf("deliver from %s: %w", from, err)
			}
			b = b[n:]
		}
	}
	return nil
}
