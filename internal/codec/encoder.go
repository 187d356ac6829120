package codec

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/amqpcore/internal/buffer"
)

// node is one element of the encoding tree. Nodes live in the Encoder's arena
// and refer to each other by index; -1 means none.
//
// size is the number of bytes that follow the constructor byte. For array
// elements the constructor is shared, so only the body is written.
type node struct {
	code  EncodingCode
	size  int
	count int
	first int32
	next  int32
	bits  uint64
	str   string
	raw   []byte
}

const noNode int32 = -1

// Encoder converts values into their most compact legal wire encoding. The
// first pass builds an arena of nodes and settles every container size; the
// second writes bytes front to back with no patching. An Encoder reuses its
// arena between calls and must not be shared between goroutines.
type Encoder struct {
	nodes []node
}

// NewEncoder creates an Encoder.
func NewEncoder() *Encoder {
	return &Encoder{nodes: make([]node, 0, 32)}
}

// Encode appends the encoding of v to b.
func (e *Encoder) Encode(b *buffer.Buffer, v any) error {
	e.nodes = e.nodes[:0]
	root, err := e.build(v)
	if err != nil {
		return err
	}
	b.Grow(1 + e.nodes[root].size)
	e.write(b, root)
	return nil
}

// Size returns the number of bytes Encode would append for v.
func (e *Encoder) Size(v any) (int, error) {
	e.nodes = e.nodes[:0]
	root, err := e.build(v)
	if err != nil {
		return 0, err
	}
	return e.total(root), nil
}

// Marshal encodes v into a new byte slice.
func Marshal(v any) ([]byte, error) {
	b := buffer.New(64)
	if err := NewEncoder().Encode(b, v); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// add appends n to the arena. Links are set afterwards by link.
func (e *Encoder) add(n node) int32 {
	n.first, n.next = noNode, noNode
	e.nodes = append(e.nodes, n)
	return int32(len(e.nodes) - 1)
}

func (e *Encoder) leaf(code EncodingCode, size int, bits uint64) int32 {
	return e.add(node{code: code, size: size, bits: bits})
}

func (e *Encoder) total(i int32) int {
	return 1 + e.nodes[i].size
}

func (e *Encoder) build(v any) (int32, error) {
	if isNil(v) {
		return e.leaf(CodeNull, 0, 0), nil
	}
	switch v := v.(type) {
	case bool:
		if v {
			return e.leaf(CodeBooleanTrue, 0, 0), nil
		}
		return e.leaf(CodeBooleanFalse, 0, 0), nil
	case uint8:
		return e.leaf(CodeUbyte, 1, uint64(v)), nil
	case uint16:
		return e.leaf(CodeUshort, 2, uint64(v)), nil
	case uint32:
		return e.buildUint(uint64(v)), nil
	case uint64:
		return e.buildUlong(v), nil
	case uint:
		return e.buildUlong(uint64(v)), nil
	case int8:
		return e.leaf(CodeByte, 1, uint64(uint8(v))), nil
	case int16:
		return e.leaf(CodeShort, 2, uint64(uint16(v))), nil
	case int32:
		if v >= math.MinInt8 && v <= math.MaxInt8 {
			return e.leaf(CodeSmallInt, 1, uint64(uint8(int8(v)))), nil
		}
		return e.leaf(CodeInt, 4, uint64(uint32(v))), nil
	case int64:
		return e.buildLong(v), nil
	case int:
		return e.buildLong(int64(v)), nil
	case float32:
		return e.leaf(CodeFloat, 4, uint64(math.Float32bits(v))), nil
	case float64:
		return e.leaf(CodeDouble, 8, math.Float64bits(v)), nil
	case Char:
		return e.leaf(CodeChar, 4, uint64(uint32(v))), nil
	case time.Time:
		return e.leaf(CodeTimestamp, 8, uint64(v.UnixMilli())), nil
	case uuid.UUID:
		return e.add(node{code: CodeUUID, size: 16, raw: v[:]}), nil
	case Decimal32:
		return e.add(node{code: CodeDecimal32, size: 4, raw: v[:]}), nil
	case Decimal64:
		return e.add(node{code: CodeDecimal64, size: 8, raw: v[:]}), nil
	case Decimal128:
		return e.add(node{code: CodeDecimal128, size: 16, raw: v[:]}), nil
	case []byte:
		return e.buildVariable(CodeVBin8, CodeVBin32, len(v), node{raw: v})
	case string:
		return e.buildVariable(CodeStr8, CodeStr32, len(v), node{str: v})
	case Symbol:
		return e.buildVariable(CodeSym8, CodeSym32, len(v), node{str: string(v)})
	case List:
		return e.buildList(v)
	case []any:
		return e.buildList(List(v))
	case Map:
		return e.buildMap(v)
	case map[Symbol]any:
		return e.buildMap(MapFromFields(v))
	case []Symbol:
		return buildArray(e, v, variableArrayCode(v, CodeSym8, CodeSym32, func(s Symbol) int { return len(s) }))
	case []string:
		return buildArray(e, v, variableArrayCode(v, CodeStr8, CodeStr32, func(s string) int { return len(s) }))
	case [][]byte:
		return buildArray(e, v, variableArrayCode(v, CodeVBin8, CodeVBin32, func(b []byte) int { return len(b) }))
	case []uint32:
		return buildArray(e, v, CodeUint)
	case []uint64:
		return buildArray(e, v, CodeUlong)
	case []int32:
		return buildArray(e, v, CodeInt)
	case []int64:
		return buildArray(e, v, CodeLong)
	case []bool:
		return buildArray(e, v, CodeBooleanType)
	case []uuid.UUID:
		return buildArray(e, v, CodeUUID)
	case DescribedType:
		d := v.Descriptor()
		var desc any = d.Code
		if d.Code == 0 && d.Symbol != "" {
			desc = d.Symbol
		}
		return e.buildDescribed(desc, v.Body())
	case Described:
		return e.buildDescribed(v.Descriptor, v.Value)
	case *Described:
		return e.buildDescribed(v.Descriptor, v.Value)
	}
	return 0, encodeErrorf("unsupported type %T", v)
}

func (e *Encoder) buildUint(v uint64) int32 {
	switch {
	case v == 0:
		return e.leaf(CodeUint0, 0, 0)
	case v <= math.MaxUint8:
		return e.leaf(CodeSmallUint, 1, v)
	}
	return e.leaf(CodeUint, 4, v)
}

func (e *Encoder) buildUlong(v uint64) int32 {
	switch {
	case v == 0:
		return e.leaf(CodeUlong0, 0, 0)
	case v <= math.MaxUint8:
		return e.leaf(CodeSmallUlong, 1, v)
	}
	return e.leaf(CodeUlong, 8, v)
}

func (e *Encoder) buildLong(v int64) int32 {
	if v >= math.MinInt8 && v <= math.MaxInt8 {
		return e.leaf(CodeSmallLong, 1, uint64(uint8(int8(v))))
	}
	return e.leaf(CodeLong, 8, uint64(v))
}

func (e *Encoder) buildVariable(short, long EncodingCode, n int, payload node) (int32, error) {
	if uint64(n) > math.MaxUint32 {
		return 0, encodeErrorf("value of %d bytes exceeds 32-bit length", n)
	}
	payload.code, payload.size = short, 1+n
	if n > math.MaxUint8 {
		payload.code, payload.size = long, 4+n
	}
	return e.add(payload), nil
}

// link appends child after prev under parent and returns child.
func (e *Encoder) link(parent, prev, child int32) int32 {
	if prev == noNode {
		e.nodes[parent].first = child
	} else {
		e.nodes[prev].next = child
	}
	return child
}

// compound settles the constructor and size of a list or map whose elements
// occupy body bytes.
func (e *Encoder) compound(i int32, short, long EncodingCode, body int) error {
	n := &e.nodes[i]
	if 1+body <= math.MaxUint8 && n.count <= math.MaxUint8 {
		n.code, n.size = short, 2+body
		return nil
	}
	if uint64(4+body) > math.MaxUint32 {
		return encodeErrorf("compound of %d bytes exceeds 32-bit size", body)
	}
	n.code, n.size = long, 8+body
	return nil
}

func (e *Encoder) buildList(l List) (int32, error) {
	if len(l) == 0 {
		return e.leaf(CodeList0, 0, 0), nil
	}
	i := e.add(node{count: len(l)})
	prev, body := noNode, 0
	for _, v := range l {
		c, err := e.build(v)
		if err != nil {
			return 0, err
		}
		prev = e.link(i, prev, c)
		body += e.total(c)
	}
	return i, e.compound(i, CodeList8, CodeList32, body)
}

func (e *Encoder) buildMap(m Map) (int32, error) {
	i := e.add(node{count: 2 * len(m)})
	prev, body := noNode, 0
	for _, entry := range m {
		for _, v := range [2]any{entry.Key, entry.Value} {
			c, err := e.build(v)
			if err != nil {
				return 0, err
			}
			prev = e.link(i, prev, c)
			body += e.total(c)
		}
	}
	return i, e.compound(i, CodeMap8, CodeMap32, body)
}

func (e *Encoder) buildDescribed(descriptor, value any) (int32, error) {
	switch descriptor.(type) {
	case uint64, Symbol:
	default:
		return 0, encodeErrorf("invalid descriptor type %T", descriptor)
	}
	i := e.add(node{code: CodeDescribedTypeIndicator})
	d, err := e.build(descriptor)
	if err != nil {
		return 0, err
	}
	body, err := e.build(value)
	if err != nil {
		return 0, err
	}
	e.link(i, noNode, d)
	e.link(i, d, body)
	e.nodes[i].size = e.total(d) + e.total(body)
	return i, nil
}

// variableArrayCode picks the one-byte or four-byte length form shared by all
// elements of a variable-width array.
func variableArrayCode[T any](elems []T, short, long EncodingCode, length func(T) int) EncodingCode {
	for _, el := range elems {
		if length(el) > math.MaxUint8 {
			return long
		}
	}
	return short
}

// buildArray adds an array whose elements all use the constructor code. The
// element nodes carry only their body size; the array node keeps the shared
// code in bits.
func buildArray[T any](e *Encoder, elems []T, code EncodingCode) (int32, error) {
	i := e.add(node{count: len(elems), bits: uint64(code)})
	prev, body := noNode, 1
	for _, el := range elems {
		c, err := e.buildElement(code, el)
		if err != nil {
			return 0, err
		}
		prev = e.link(i, prev, c)
		body += e.nodes[c].size
	}
	return i, e.compound(i, CodeArray8, CodeArray32, body)
}

func (e *Encoder) buildElement(code EncodingCode, v any) (int32, error) {
	switch v := v.(type) {
	case Symbol:
		return e.elementVariable(code, len(v), node{str: string(v)}), nil
	case string:
		return e.elementVariable(code, len(v), node{str: v}), nil
	case []byte:
		return e.elementVariable(code, len(v), node{raw: v}), nil
	case uint32:
		return e.leaf(code, 4, uint64(v)), nil
	case uint64:
		return e.leaf(code, 8, v), nil
	case int32:
		return e.leaf(code, 4, uint64(uint32(v))), nil
	case int64:
		return e.leaf(code, 8, uint64(v)), nil
	case bool:
		var bit uint64
		if v {
			bit = 1
		}
		return e.leaf(code, 1, bit), nil
	case uuid.UUID:
		return e.add(node{code: code, size: 16, raw: v[:]}), nil
	}
	return 0, encodeErrorf("unsupported array element %T", v)
}

func (e *Encoder) elementVariable(code EncodingCode, n int, payload node) int32 {
	payload.code = code
	payload.size = 1 + n
	if code == CodeVBin32 || code == CodeStr32 || code == CodeSym32 {
		payload.size = 4 + n
	}
	return e.add(payload)
}

func (e *Encoder) write(b *buffer.Buffer, i int32) {
	b.WriteByte(e.nodes[i].code)
	e.writeBody(b, i)
}

func (e *Encoder) writeBody(b *buffer.Buffer, i int32) {
	n := &e.nodes[i]
	switch n.code {
	case CodeNull, CodeBooleanTrue, CodeBooleanFalse, CodeUint0, CodeUlong0, CodeList0:
	case CodeBooleanType, CodeUbyte, CodeByte, CodeSmallUint, CodeSmallUlong, CodeSmallInt, CodeSmallLong:
		b.WriteByte(byte(n.bits))
	case CodeUshort, CodeShort:
		b.WriteUint16(uint16(n.bits))
	case CodeUint, CodeInt, CodeFloat, CodeChar:
		b.WriteUint32(uint32(n.bits))
	case CodeUlong, CodeLong, CodeDouble, CodeTimestamp:
		b.WriteUint64(n.bits)
	case CodeUUID, CodeDecimal32, CodeDecimal64, CodeDecimal128:
		b.Write(n.raw)
	case CodeVBin8, CodeStr8, CodeSym8:
		b.WriteByte(byte(n.size - 1))
		e.writePayload(b, n)
	case CodeVBin32, CodeStr32, CodeSym32:
		b.WriteUint32(uint32(n.size - 4))
		e.writePayload(b, n)
	case CodeList8, CodeMap8:
		b.WriteByte(byte(n.size - 1))
		b.WriteByte(byte(n.count))
		for c := n.first; c != noNode; c = e.nodes[c].next {
			e.write(b, c)
		}
	case CodeList32, CodeMap32:
		b.WriteUint32(uint32(n.size - 4))
		b.WriteUint32(uint32(n.count))
		for c := n.first; c != noNode; c = e.nodes[c].next {
			e.write(b, c)
		}
	case CodeArray8, CodeArray32:
		e.writeArray(b, n)
	case CodeDescribedTypeIndicator:
		d := n.first
		e.write(b, d)
		e.write(b, e.nodes[d].next)
	}
}

func (e *Encoder) writeArray(b *buffer.Buffer, n *node) {
	if n.code == CodeArray8 {
		b.WriteByte(byte(n.size - 1))
		b.WriteByte(byte(n.count))
	} else {
		b.WriteUint32(uint32(n.size - 4))
		b.WriteUint32(uint32(n.count))
	}
	b.WriteByte(EncodingCode(n.bits))
	for c := n.first; c != noNode; c = e.nodes[c].next {
		e.writeBody(b, c)
	}
}

func (e *Encoder) writePayload(b *buffer.Buffer, n *node) {
	if n.raw != nil {
		b.Write(n.raw)
		return
	}
	b.Write([]byte(n.str))
}
