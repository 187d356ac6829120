package engine

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7Generator_Generate(t *testing.T) {
	gen := UUIDv7Generator{}
	a, b := gen.Generate(), gen.Generate()

	assert.NotEqual(t, a, b)
	u, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), u.Version())
}

func TestFixedGenerator_Generate(t *testing.T) {
	gen := NewFixedGenerator("c-1", "c-2")
	assert.Equal(t, "c-1", gen.Generate())
	assert.Equal(t, "c-2", gen.Generate())
	assert.PanicsWithValue(t, "FixedGenerator: all ids exhausted", func() { gen.Generate() })
}

func TestSequentialTagGenerator_NextTag(t *testing.T) {
	gen := &SequentialTagGenerator{}
	assert.Equal(t, []byte{0}, gen.NextTag())
	assert.Equal(t, []byte{1}, gen.NextTag())

	gen.next = 256
	assert.Equal(t, []byte{1, 0}, gen.NextTag())
}

func TestUUIDTagGenerator_NextTag(t *testing.T) {
	gen := UUIDTagGenerator{}
	a, b := gen.NextTag(), gen.NextTag()
	assert.Len(t, a, 16)
	assert.NotEqual(t, a, b)
}

func TestWithTagGenerator(t *testing.T) {
	f := newFixture(t, WithTagGenerator(func() TagGenerator { return UUIDTagGenerator{} }))
	f.open()
	s := f.session(1)
	snd := f.sender(s, 1, "out", 0)
	f.mustIngest(1, linkFlow(0, 0, 1, false), nil)

	d, err := snd.Send(nil, []byte("x"), true)
	require.NoError(t, err)
	assert.Len(t, d.Tag(), 16)
}
