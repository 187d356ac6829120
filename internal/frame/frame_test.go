package frame

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/amqpcore/internal/codec"
	"github.com/roach88/amqpcore/internal/types"
)

type recorder struct {
	headers  []Header
	frames   []*Frame
	payloads [][]byte
	onFrame  func(*Frame) error
}

func (r *recorder) OnHeader(h Header) error {
	r.headers = append(r.headers, h)
	return nil
}

func (r *recorder) OnFrame(f *Frame) error {
	r.frames = append(r.frames, f)
	r.payloads = append(r.payloads, bytes.Clone(f.Payload))
	if r.onFrame != nil {
		return r.onFrame(f)
	}
	return nil
}

func newParser() *Parser {
	return NewParser(codec.NewDecoder(types.NewRegistry(), codec.NewSymbolTable()))
}

func mustWrite(t *testing.T, typ Type, ch uint16, body types.Performative, payload []byte) []byte {
	t.Helper()
	b, err := NewWriter(codec.NewEncoder()).Write(typ, ch, body, payload)
	require.NoError(t, err)
	return b
}

func TestHeader_Parse(t *testing.T) {
	assert.Equal(t, []byte("AMQP\x00\x01\x00\x00"), AMQPHeader.Bytes())
	assert.Equal(t, []byte("AMQP\x03\x01\x00\x00"), SASLHeader.Bytes())

	h, err := ParseHeader(SASLHeader.Bytes())
	require.NoError(t, err)
	assert.Equal(t, SASLHeader, h)

	_, err = ParseHeader([]byte("HTTP/1.1"))
	assert.ErrorIs(t, err, ErrBadHeader)
	_, err = ParseHeader([]byte("AMQP"))
	assert.ErrorIs(t, err, ErrBadHeader)
}

func TestWriter_Write(t *testing.T) {
	b := mustWrite(t, TypeAMQP, 0, &types.Close{}, nil)
	assert.Equal(t, []byte{0, 0, 0, 12, 2, 0, 0, 0, 0x00, 0x53, 0x18, 0x45}, b)

	b = mustWrite(t, TypeAMQP, 7, &types.Transfer{Handle: 1}, []byte("xyz"))
	assert.Equal(t, []byte{0, 7}, b[6:8])
	assert.Equal(t, []byte("xyz"), b[len(b)-3:])
	assert.Equal(t, uint32(len(b)), uint32(b[3]))
}

func TestWriter_MaxFrameSize(t *testing.T) {
	w := NewWriter(codec.NewEncoder())
	w.SetMaxFrameSize(MinMaxFrameSize)
	_, err := w.Write(TypeAMQP, 0, &types.Transfer{Handle: 1}, make([]byte, MinMaxFrameSize))
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	overhead, err := w.Overhead(&types.Transfer{Handle: 1})
	require.NoError(t, err)
	b, err := w.Write(TypeAMQP, 0, &types.Transfer{Handle: 1}, make([]byte, MinMaxFrameSize-overhead))
	require.NoError(t, err)
	assert.Len(t, b, MinMaxFrameSize)
}

func stream(t *testing.T) []byte {
	var in []byte
	in = append(in, AMQPHeader.Bytes()...)
	in = append(in, mustWrite(t, TypeAMQP, 0, &types.Open{ContainerID: "peer", ChannelMax: types.DefaultChannelMax}, nil)...)
	in = append(in, Heartbeat()...)
	in = append(in, mustWrite(t, TypeAMQP, 3, &types.Transfer{Handle: 2, DeliveryTag: []byte{1}}, []byte("payload"))...)
	in = append(in, mustWrite(t, TypeAMQP, 3, &types.Close{}, nil)...)
	return in
}

func TestParser_FragmentationInvariance(t *testing.T) {
	in := stream(t)

	whole := &recorder{}
	require.NoError(t, newParser().Ingest(in, whole))

	chunked := &recorder{}
	p := newParser()
	for i := range in {
		require.NoError(t, p.Ingest(in[i:i+1], chunked))
	}
	assert.Zero(t, p.Buffered())

	require.Len(t, whole.frames, 4)
	assert.Equal(t, whole.headers, chunked.headers)
	assert.Equal(t, whole.payloads, chunked.payloads)
	require.Len(t, chunked.frames, 4)
	for i := range whole.frames {
		assert.Equal(t, whole.frames[i].Body, chunked.frames[i].Body)
		assert.Equal(t, whole.frames[i].Channel, chunked.frames[i].Channel)
	}

	assert.Equal(t, []Header{AMQPHeader}, whole.headers)
	assert.Equal(t, "open", whole.frames[0].Body.Name())
	assert.True(t, whole.frames[1].IsHeartbeat())
	assert.Equal(t, uint16(3), whole.frames[2].Channel)
	assert.Equal(t, []byte("payload"), whole.payloads[2])
	assert.Nil(t, whole.payloads[3])
}

func TestParser_PartialFrameWaits(t *testing.T) {
	in := stream(t)
	r := &recorder{}
	p := newParser()
	require.NoError(t, p.Ingest(in[:HeaderSize+5], r))
	assert.Len(t, r.headers, 1)
	assert.Empty(t, r.frames)
	assert.Equal(t, 5, p.Buffered())
}

func TestParser_ExpectHeaderAfterSASL(t *testing.T) {
	var in []byte
	in = append(in, SASLHeader.Bytes()...)
	in = append(in, mustWrite(t, TypeSASL, 0, &types.SASLOutcome{Code: types.SASLCodeOK}, nil)...)
	in = append(in, AMQPHeader.Bytes()...)
	in = append(in, mustWrite(t, TypeAMQP, 0, &types.Close{}, nil)...)

	p := newParser()
	r := &recorder{}
	r.onFrame = func(f *Frame) error {
		if _, ok := f.Body.(*types.SASLOutcome); ok {
			p.ExpectHeader()
		}
		return nil
	}
	require.NoError(t, p.Ingest(in, r))
	assert.Equal(t, []Header{SASLHeader, AMQPHeader}, r.headers)
	require.Len(t, r.frames, 2)
	assert.Equal(t, TypeSASL, r.frames[0].Type)
	assert.Equal(t, TypeAMQP, r.frames[1].Type)
}

func TestParser_HeaderAfterFrames(t *testing.T) {
	// The client direction: its AMQP header follows sasl-init with no
	// outcome in between.
	var in []byte
	in = append(in, SASLHeader.Bytes()...)
	in = append(in, mustWrite(t, TypeSASL, 0, &types.SASLInit{Mechanism: "ANONYMOUS"}, nil)...)
	in = append(in, AMQPHeader.Bytes()...)
	in = append(in, mustWrite(t, TypeAMQP, 0, &types.Open{ContainerID: "c"}, nil)...)

	for _, chunk := range []int{len(in), 1, 3} {
		p := newParser()
		r := &recorder{}
		for b := in; len(b) > 0; {
			n := min(chunk, len(b))
			require.NoError(t, p.Ingest(b[:n], r), "chunk %d", chunk)
			b = b[n:]
		}
		assert.Equal(t, []Header{SASLHeader, AMQPHeader}, r.headers, "chunk %d", chunk)
		require.Len(t, r.frames, 2)
		assert.IsType(t, &types.SASLInit{}, r.frames[0].Body)
		assert.IsType(t, &types.Open{}, r.frames[1].Body)
	}
}

func TestParser_RepeatedHeader(t *testing.T) {
	p := newParser()
	r := &recorder{}
	require.NoError(t, p.Ingest(AMQPHeader.Bytes(), r))
	require.NoError(t, p.Ingest(AMQPHeader.Bytes(), r))
	require.NoError(t, p.Ingest(Heartbeat(), r))

	assert.Equal(t, []Header{AMQPHeader, AMQPHeader}, r.headers)
	assert.Len(t, r.frames, 1)
}

func TestParser_Errors(t *testing.T) {
	unknown, err := codec.Marshal(codec.Described{Descriptor: uint64(0x99), Value: codec.List{}})
	require.NoError(t, err)
	notPerformative := append([]byte{0, 0, 0, byte(8 + len(unknown)), 2, 0, 0, 0}, unknown...)

	tests := []struct {
		name  string
		input []byte
		max   uint32
		want  error
	}{
		{"size below header", []byte{0, 0, 0, 7, 2, 0, 0, 0}, 0, ErrFrameTooSmall},
		{"size over max", []byte{0, 0, 2, 1, 2, 0, 0, 0}, 512, ErrFrameTooLarge},
		{"doff below two", []byte{0, 0, 0, 8, 1, 0, 0, 0}, 0, ErrBadDataOffset},
		{"doff past frame", []byte{0, 0, 0, 8, 3, 0, 0, 0}, 0, ErrBadDataOffset},
		{"unknown type", []byte{0, 0, 0, 8, 2, 9, 0, 0}, 0, ErrUnknownType},
		{"not a performative", notPerformative, 0, ErrNotPerformative},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newParser()
			p.SetMaxFrameSize(tt.max)
			r := &recorder{}
			require.NoError(t, p.Ingest(AMQPHeader.Bytes(), r))
			err := p.Ingest(tt.input, r)
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, r.frames)

			// the parser stays stopped
			assert.ErrorIs(t, p.Ingest(Heartbeat(), r), tt.want)
			assert.Empty(t, r.frames)
		})
	}
}

func TestParser_BadHeader(t *testing.T) {
	p := newParser()
	err := p.Ingest([]byte("GET / HTTP/1.1\r\n"), &recorder{})
	assert.ErrorIs(t, err, ErrBadHeader)
	assert.ErrorIs(t, p.Err(), ErrBadHeader)
}

func TestParser_DecodeErrorPropagates(t *testing.T) {
	frame := []byte{0, 0, 0, 10, 2, 0, 0, 0, 0x00, 0xff}
	p := newParser()
	r := &recorder{}
	err := p.Ingest(append(AMQPHeader.Bytes(), frame...), r)
	require.Error(t, err)
	assert.True(t, codec.IsDecodeError(err))
}

func TestParser_HandlerErrorStops(t *testing.T) {
	boom := errors.New("boom")
	p := newParser()
	r := &recorder{onFrame: func(*Frame) error { return boom }}
	err := p.Ingest(stream(t), r)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, r.frames, 1)
}
