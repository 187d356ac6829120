package trace

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/amqpcore/internal/codec"
	"github.com/roach88/amqpcore/internal/frame"
	"github.com/roach88/amqpcore/internal/store"
	"github.com/roach88/amqpcore/internal/types"
)

// stream concatenates headers and frames into one byte stream.
type stream struct {
	t *testing.T
	w *frame.Writer
	b bytes.Buffer
}

func newStream(t *testing.T) *stream {
	return &stream{t: t, w: frame.NewWriter(codec.NewEncoder())}
}

func (s *stream) header(h frame.Header) *stream {
	s.b.Write(h.Bytes())
	return s
}

func (s *stream) frame(typ frame.Type, ch uint16, body types.Performative, payload []byte) *stream {
	s.t.Helper()
	b, err := s.w.Write(typ, ch, body, payload)
	require.NoError(s.t, err)
	s.b.Write(b)
	return s
}

func (s *stream) heartbeat() *stream {
	s.b.Write(frame.Heartbeat())
	return s
}

func (s *stream) bytes() []byte { return s.b.Bytes() }

func names(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name()
	}
	return out
}

func TestDecode_AMQP(t *testing.T) {
	id := uint32(0)
	b := newStream(t).
		header(frame.AMQPHeader).
		frame(frame.TypeAMQP, 0, &types.Open{ContainerID: "c"}, nil).
		heartbeat().
		frame(frame.TypeAMQP, 2, &types.Transfer{Handle: 1, DeliveryID: &id, DeliveryTag: []byte{0}}, []byte("hello")).
		bytes()

	entries, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, []string{"AMQP 0 1.0.0", "open", "heartbeat", "transfer"}, names(entries))
	assert.Equal(t, store.KindHeader, entries[0].Kind)
	assert.Equal(t, store.KindHeartbeat, entries[2].Kind)
	assert.Equal(t, uint16(2), entries[3].Channel)
	assert.Equal(t, []byte("hello"), entries[3].Payload)
}

func TestDecode_FollowsSASL(t *testing.T) {
	b := newStream(t).
		header(frame.SASLHeader).
		frame(frame.TypeSASL, 0, &types.SASLMechanisms{Mechanisms: []codec.Symbol{"PLAIN"}}, nil).
		frame(frame.TypeSASL, 0, &types.SASLOutcome{Code: types.SASLCodeOK}, nil).
		header(frame.AMQPHeader).
		frame(frame.TypeAMQP, 0, &types.Open{ContainerID: "c"}, nil).
		bytes()

	entries, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, []string{"AMQP 3 1.0.0", "sasl-mechanisms", "sasl-outcome", "AMQP 0 1.0.0", "open"}, names(entries))
	assert.Equal(t, store.KindSASL, entries[1].Kind)
	assert.Equal(t, store.KindAMQP, entries[4].Kind)
}

func TestDecode_ClientSideOfSASL(t *testing.T) {
	b := newStream(t).
		header(frame.SASLHeader).
		frame(frame.TypeSASL, 0, &types.SASLInit{Mechanism: "PLAIN", InitialResponse: []byte("\x00u\x00p")}, nil).
		header(frame.AMQPHeader).
		frame(frame.TypeAMQP, 0, &types.Open{ContainerID: "c"}, nil).
		bytes()

	entries, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, []string{"AMQP 3 1.0.0", "sasl-init", "AMQP 0 1.0.0", "open"}, names(entries))
	assert.Equal(t, store.KindSASL, entries[1].Kind)
	assert.Equal(t, store.KindAMQP, entries[3].Kind)
}

func TestDecode_Errors(t *testing.T) {
	full := newStream(t).header(frame.AMQPHeader).frame(frame.TypeAMQP, 0, &types.Open{ContainerID: "c"}, nil).bytes()

	entries, err := Decode(full[:len(full)-3])
	assert.ErrorContains(t, err, "trailing bytes")
	assert.Len(t, entries, 1, "header decoded before the partial frame")

	_, err = Decode([]byte("HTTP/1.1"))
	assert.Error(t, err)
}

func TestSplitter_Chunked(t *testing.T) {
	b := newStream(t).
		header(frame.AMQPHeader).
		frame(frame.TypeAMQP, 0, &types.Open{ContainerID: "c"}, nil).
		frame(frame.TypeAMQP, 0, &types.Close{}, nil).
		bytes()

	var got []Entry
	s := NewSplitter(func(e Entry) error {
		got = append(got, e)
		return nil
	})
	for i := range b {
		require.NoError(t, s.Write(b[i:i+1]))
	}
	assert.Equal(t, []string{"AMQP 0 1.0.0", "open", "close"}, names(got))
	assert.Zero(t, s.Buffered())
}
