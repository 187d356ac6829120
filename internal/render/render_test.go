package render

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/amqpcore/internal/codec"
	"github.com/roach88/amqpcore/internal/types"
)

func TestMarshal_Scalars(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{"null", nil, "null"},
		{"bool", true, "true"},
		{"ubyte", uint8(255), "255"},
		{"ulong max", uint64(math.MaxUint64), "18446744073709551615"},
		{"long min", int64(math.MinInt64), "-9223372036854775808"},
		{"float", 1.5, "1.5"},
		{"float32", float32(0.1), "0.1"},
		{"nan", math.NaN(), `"NaN"`},
		{"inf", math.Inf(-1), `"-Infinity"`},
		{"string", "hello", `"hello"`},
		{"symbol", codec.Symbol("amqp:accepted:list"), `"amqp:accepted:list"`},
		{"char", codec.Char('é'), `"é"`},
		{"binary", []byte{0xde, 0xad}, `"0xdead"`},
		{"decimal32", codec.Decimal32{1, 2, 3, 4}, `"0x01020304"`},
		{"timestamp", time.UnixMilli(1700000000123), `"2023-11-14T22:13:20.123Z"`},
		{"uuid", uuid.MustParse("0190b6a0-0000-7000-8000-000000000001"), `"0190b6a0-0000-7000-8000-000000000001"`},
		{"duration", 2 * time.Second, `"2s"`},
		{"role", types.RoleReceiver, `"receiver"`},
		{"settle mode", types.SenderSettleModeMixed, `"mixed"`},
		{"nil pointer", (*uint32)(nil), "null"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Marshal(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestMarshal_Strings(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"html not escaped", "<a&b>", `"<a&b>"`},
		{"quote and backslash", `"\`, `"\"\\"`},
		{"short escapes", "\n\t", `"\n\t"`},
		{"other control", "\x01", `"\u0001"`},
		{"line separator literal", "\u2028", "\"\u2028\""},
		{"nfc normalized", "e\u0301", "\"\u00e9\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Marshal(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestMarshal_Compound(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{"list", codec.List{uint32(1), "a", nil}, `[1,"a",null]`},
		{"symbol map sorted", codec.Map{
			{Key: codec.Symbol("zeta"), Value: 1},
			{Key: codec.Symbol("alpha"), Value: 2},
		}, `{"alpha":2,"zeta":1}`},
		{"mixed keys keep wire order", codec.Map{
			{Key: uint64(2), Value: "b"},
			{Key: codec.Symbol("a"), Value: "a"},
		}, `[[2,"b"],["a","a"]]`},
		{"fields", map[codec.Symbol]any{"b": true, "a": false}, `{"a":false,"b":true}`},
		{"described", codec.Described{Descriptor: uint64(0x77), Value: "x"}, `{"descriptor":119,"value":"x"}`},
		{"typed array", []int32{-1, 2}, `[-1,2]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Marshal(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestMarshal_Performative(t *testing.T) {
	open := &types.Open{ContainerID: "c", MaxFrameSize: 512, ChannelMax: 1, IdleTimeout: 2 * time.Second}
	got, err := Marshal(open)
	require.NoError(t, err)
	assert.Equal(t, `{"$type":"open","channel_max":1,"container_id":"c","idle_timeout":"2s","max_frame_size":512}`, string(got))

	credit := uint32(10)
	handle := uint32(0)
	flow := &types.Flow{Handle: &handle, LinkCredit: &credit, Drain: true}
	got, err = Marshal(flow)
	require.NoError(t, err)
	assert.Equal(t, `{"$type":"flow","drain":true,"echo":false,"handle":0,"incoming_window":0,"link_credit":10,"next_outgoing_id":0,"outgoing_window":0}`, string(got))
}

func TestMarshal_FieldTag(t *testing.T) {
	got, err := Marshal(&types.Attach{LinkName: "orders", Handle: 3})
	require.NoError(t, err)
	assert.Contains(t, string(got), `"name":"orders"`)
	assert.NotContains(t, string(got), "link_name")
}

func TestMarshal_DescribedStruct(t *testing.T) {
	got, err := Marshal(&types.Rejected{Error: &types.Error{Condition: "amqp:not-found"}})
	require.NoError(t, err)
	assert.Equal(t, `{"$type":"amqp:rejected:list","error":{"$type":"amqp:error:list","condition":"amqp:not-found"}}`, string(got))
}

func TestMarshal_Deterministic(t *testing.T) {
	props := map[codec.Symbol]any{}
	for _, k := range []string{"q", "w", "e", "r", "t", "y"} {
		props[codec.Symbol(k)] = k
	}
	first, err := Marshal(props)
	require.NoError(t, err)
	for range 20 {
		again, err := Marshal(props)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestMarshal_Errors(t *testing.T) {
	_, err := Marshal(make(chan int))
	assert.Error(t, err)

	_, err = Marshal(map[int]string{1: "a"})
	assert.Error(t, err)

	var deep any = "leaf"
	for range maxDepth + 2 {
		deep = codec.List{deep}
	}
	_, err = Marshal(deep)
	assert.ErrorContains(t, err, "nested deeper")
}

func TestMarshalIndent(t *testing.T) {
	got, err := MarshalIndent(codec.List{uint8(1)}, "  ")
	require.NoError(t, err)
	assert.Equal(t, "[\n  1\n]", string(got))
}

func TestSnakeCase(t *testing.T) {
	tests := map[string]string{
		"ContainerID":    "container_id",
		"MaxFrameSize":   "max_frame_size",
		"NextIncomingID": "next_incoming_id",
		"SASLCode":       "sasl_code",
		"Handle":         "handle",
	}
	for in, want := range tests {
		assert.Equal(t, want, snakeCase(in), in)
	}
}

func TestCompareUTF16(t *testing.T) {
	// U+1F600 sorts after U+FF61 by code point but before it in UTF-16.
	assert.Negative(t, compareUTF16("\U0001F600", "｡"))
	assert.Negative(t, compareUTF16("a", "b"))
	assert.Zero(t, compareUTF16("x", "x"))
}
