package engine

import (
	"encoding/binary"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator generates container ids for connections that do not set one.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 container ids.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined ids for testing.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
//
//	gen := NewFixedGenerator("c-1", "c-2")
//	gen.Generate() // "c-1"
//	gen.Generate() // "c-2"
//	gen.Generate() // panic: all ids exhausted
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined id.
// Panics once every id has been handed out.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}

// TagGenerator produces delivery tags for a sender that is not given one.
// Tags only need to be unique among the sender's unsettled deliveries.
type TagGenerator interface {
	NextTag() []byte
}

// SequentialTagGenerator yields the big-endian encoding of an increasing
// counter with leading zero bytes stripped, so early tags are one byte.
type SequentialTagGenerator struct {
	next uint64
}

func (g *SequentialTagGenerator) NextTag() []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], g.next)
	g.next++
	i := 0
	for i < 7 && b[i] == 0 {
		i++
	}
	return append([]byte(nil), b[i:]...)
}

// UUIDTagGenerator yields the 16 raw bytes of a fresh UUIDv7 per delivery.
type UUIDTagGenerator struct{}

func (UUIDTagGenerator) NextTag() []byte {
	u := uuid.Must(uuid.NewV7())
	return u[:]
}
