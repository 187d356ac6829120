package codec

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/roach88/amqpcore/internal/buffer"
)

// maxPrealloc caps the capacity reserved from a declared element count.
// Larger compounds grow as their elements decode.
const maxPrealloc = 256

// maxDepth bounds nesting of compound values so adversarial input cannot
// exhaust the stack.
const maxDepth = 64

// DefaultMaxStreamValueSize bounds a single variable-length value read from a
// stream, where the declared length cannot be checked against what is left.
const DefaultMaxStreamValueSize = 64 << 20

// source is the byte supply a reader decodes from. Implementations never
// rewind: the same rules apply to buffers and to forward-only streams.
type source interface {
	readByte() (byte, error)
	// readN returns n bytes. The slice may alias internal storage and is only
	// valid until the next call.
	readN(n int) ([]byte, error)
	skip(n int) error
	// available returns the number of bytes known to remain, or -1.
	available() int
	// limit bounds the size any single compound may declare.
	limit() int
}

type bufferSource struct {
	buf *buffer.Buffer
}

func (s bufferSource) readByte() (byte, error) { return s.buf.ReadByte() }
func (s bufferSource) readN(n int) ([]byte, error) {
	return s.buf.Next(n)
}
func (s bufferSource) skip(n int) error { return s.buf.Skip(n) }
func (s bufferSource) available() int   { return s.buf.Readable() }
func (s bufferSource) limit() int       { return s.buf.Readable() }

type streamSource struct {
	r       io.Reader
	one     [1]byte
	scratch []byte
	maxSize int
}

func (s *streamSource) readByte() (byte, error) {
	if br, ok := s.r.(io.ByteReader); ok {
		return br.ReadByte()
	}
	if _, err := io.ReadFull(s.r, s.one[:]); err != nil {
		return 0, err
	}
	return s.one[0], nil
}

func (s *streamSource) readN(n int) ([]byte, error) {
	if n > s.maxSize {
		return nil, decodeErrorf("declared length %d exceeds stream limit %d", n, s.maxSize)
	}
	if cap(s.scratch) < n {
		s.scratch = make([]byte, n)
	}
	b := s.scratch[:n]
	if _, err := io.ReadFull(s.r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *streamSource) skip(n int) error {
	if _, err := io.CopyN(io.Discard, s.r, int64(n)); err != nil {
		return err
	}
	return nil
}

func (s *streamSource) available() int { return -1 }
func (s *streamSource) limit() int     { return s.maxSize }

// reader holds the decoding logic shared by Decoder and StreamDecoder.
type reader struct {
	src     source
	reg     *Registry
	symbols *SymbolTable
	pos     int
	depth   int
}

func truncated(err error) error {
	var de *DecodeError
	if errors.As(err, &de) {
		return err
	}
	return &DecodeError{Message: "truncated input", Err: err}
}

func (r *reader) byte1() (byte, error) {
	b, err := r.src.readByte()
	if err != nil {
		return 0, truncated(err)
	}
	r.pos++
	return b, nil
}

func (r *reader) bytesN(n int) ([]byte, error) {
	if n < 0 {
		return nil, decodeErrorf("negative length %d", n)
	}
	if avail := r.src.available(); avail >= 0 && n > avail {
		return nil, decodeErrorf("declared length %d exceeds remaining %d bytes", n, avail)
	}
	b, err := r.src.readN(n)
	if err != nil {
		return nil, truncated(err)
	}
	r.pos += n
	return b, nil
}

func (r *reader) skipN(n int) error {
	if avail := r.src.available(); avail >= 0 && n > avail {
		return decodeErrorf("declared length %d exceeds remaining %d bytes", n, avail)
	}
	if err := r.src.skip(n); err != nil {
		return truncated(err)
	}
	r.pos += n
	return nil
}

func (r *reader) prefix(width uint8) (int, error) {
	switch width {
	case 0:
		return 0, nil
	case 1:
		b, err := r.byte1()
		return int(b), err
	default:
		b, err := r.bytesN(4)
		if err != nil {
			return 0, err
		}
		v := binary.BigEndian.Uint32(b)
		if uint64(v) > math.MaxInt32 {
			return 0, decodeErrorf("length %d out of range", v)
		}
		return int(v), nil
	}
}

func (r *reader) constructor() (EncodingCode, constructor, error) {
	code, err := r.byte1()
	if err != nil {
		return 0, constructor{}, err
	}
	c, ok := lookup(code)
	if !ok {
		return code, c, decodeErrorf("unknown encoding code 0x%02x", code)
	}
	return code, c, nil
}

func (r *reader) readValue() (any, error) {
	code, c, err := r.constructor()
	if err != nil {
		return nil, err
	}
	return r.readBody(code, c)
}

func (r *reader) readBody(code EncodingCode, c constructor) (any, error) {
	switch c.cat {
	case catNull:
		return nil, nil
	case catTrue:
		return true, nil
	case catFalse:
		return false, nil
	case catFixed:
		return r.readFixed(c)
	case catVariable:
		return r.readVariable(c)
	case catList:
		return r.readList(c)
	case catMap:
		return r.readMap(c)
	case catArray:
		return r.readArray(c)
	case catDescribed:
		return r.readDescribed()
	}
	return nil, decodeErrorf("unknown encoding code 0x%02x", code)
}

func (r *reader) readFixed(c constructor) (any, error) {
	var b []byte
	if c.width > 0 {
		var err error
		if b, err = r.bytesN(int(c.width)); err != nil {
			return nil, err
		}
	}
	switch c.kind {
	case kindBool:
		return b[0] != 0, nil
	case kindUbyte:
		return b[0], nil
	case kindUshort:
		return binary.BigEndian.Uint16(b), nil
	case kindUint:
		switch c.width {
		case 0:
			return uint32(0), nil
		case 1:
			return uint32(b[0]), nil
		}
		return binary.BigEndian.Uint32(b), nil
	case kindUlong:
		switch c.width {
		case 0:
			return uint64(0), nil
		case 1:
			return uint64(b[0]), nil
		}
		return binary.BigEndian.Uint64(b), nil
	case kindByte:
		return int8(b[0]), nil
	case kindShort:
		return int16(binary.BigEndian.Uint16(b)), nil
	case kindInt:
		if c.width == 1 {
			return int32(int8(b[0])), nil
		}
		return int32(binary.BigEndian.Uint32(b)), nil
	case kindLong:
		if c.width == 1 {
			return int64(int8(b[0])), nil
		}
		return int64(binary.BigEndian.Uint64(b)), nil
	case kindFloat:
		return math.Float32frombits(binary.BigEndian.Uint32(b)), nil
	case kindDouble:
		return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
	case kindDecimal32:
		return Decimal32(b), nil
	case kindDecimal64:
		return Decimal64(b), nil
	case kindDecimal128:
		return Decimal128(b), nil
	case kindChar:
		return Char(binary.BigEndian.Uint32(b)), nil
	case kindTimestamp:
		return time.UnixMilli(int64(binary.BigEndian.Uint64(b))).UTC(), nil
	case kindUUID:
		return uuid.UUID(b), nil
	}
	return nil, decodeErrorf("unexpected fixed kind %d", c.kind)
}

func (r *reader) readVariable(c constructor) (any, error) {
	n, err := r.prefix(c.width)
	if err != nil {
		return nil, err
	}
	b, err := r.bytesN(n)
	if err != nil {
		return nil, err
	}
	switch c.kind {
	case kindBinary:
		out := make([]byte, n)
		copy(out, b)
		return out, nil
	case kindString:
		if !utf8.Valid(b) {
			return nil, decodeErrorf("string of %d bytes is not valid utf-8", n)
		}
		return string(b), nil
	case kindSymbol:
		if r.symbols != nil {
			return r.symbols.Intern(b), nil
		}
		return Symbol(b), nil
	}
	return nil, decodeErrorf("unexpected variable kind %d", c.kind)
}

// compoundHeader reads the size and count prefix of a list, map or array.
// size counts every byte after the size field, the count field included.
func (r *reader) compoundHeader(c constructor) (size, count int, err error) {
	if c.width == 0 {
		return 0, 0, nil
	}
	if size, err = r.prefix(c.width); err != nil {
		return 0, 0, err
	}
	if size < int(c.width) {
		return 0, 0, decodeErrorf("compound size %d smaller than count field", size)
	}
	if avail := r.src.available(); avail >= 0 && size > avail {
		return 0, 0, decodeErrorf("declared size %d exceeds remaining %d bytes", size, avail)
	}
	if lim := r.src.limit(); size > lim {
		return 0, 0, decodeErrorf("declared size %d exceeds stream limit %d", size, lim)
	}
	if count, err = r.prefix(c.width); err != nil {
		return 0, 0, err
	}
	return size, count, nil
}

func (r *reader) enter() error {
	r.depth++
	if r.depth > maxDepth {
		return decodeErrorf("nesting deeper than %d", maxDepth)
	}
	return nil
}

func (r *reader) leave() { r.depth-- }

// checkConsumed verifies that a compound body used exactly its declared size.
func (r *reader) checkConsumed(start, size int, width uint8) error {
	if used := r.pos - start; used != size-int(width) {
		return decodeErrorf("compound declared %d bytes but elements used %d", size-int(width), used)
	}
	return nil
}

func (r *reader) readList(c constructor) (any, error) {
	size, count, err := r.compoundHeader(c)
	if err != nil {
		return nil, err
	}
	if c.width > 0 && count > size-int(c.width) {
		return nil, decodeErrorf("list count %d cannot fit in %d bytes", count, size)
	}
	if err := r.enter(); err != nil {
		return nil, err
	}
	defer r.leave()

	start := r.pos
	out := make(List, 0, min(count, maxPrealloc))
	for i := 0; i < count; i++ {
		v, err := r.readValue()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if c.width > 0 {
		if err := r.checkConsumed(start, size, c.width); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *reader) readMap(c constructor) (any, error) {
	size, count, err := r.compoundHeader(c)
	if err != nil {
		return nil, err
	}
	if count%2 != 0 {
		return nil, decodeErrorf("map has odd element count %d", count)
	}
	if count > size-int(c.width) {
		return nil, decodeErrorf("map count %d cannot fit in %d bytes", count, size)
	}
	if err := r.enter(); err != nil {
		return nil, err
	}
	defer r.leave()

	start := r.pos
	out := make(Map, 0, min(count/2, maxPrealloc))
	for i := 0; i < count; i += 2 {
		k, err := r.readValue()
		if err != nil {
			return nil, err
		}
		v, err := r.readValue()
		if err != nil {
			return nil, err
		}
		out = append(out, MapEntry{Key: k, Value: v})
	}
	if err := r.checkConsumed(start, size, c.width); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *reader) readArray(c constructor) (any, error) {
	size, count, err := r.compoundHeader(c)
	if err != nil {
		return nil, err
	}
	if err := r.enter(); err != nil {
		return nil, err
	}
	defer r.leave()

	start := r.pos
	code, elem, err := r.constructor()
	if err != nil {
		return nil, err
	}

	var dec *DescribedTypeDecoder
	var descriptor any
	if elem.cat == catDescribed {
		if descriptor, err = r.readDescriptor(); err != nil {
			return nil, err
		}
		dec = r.reg.lookup(descriptor)
		if code, elem, err = r.constructor(); err != nil {
			return nil, err
		}
	}
	if !hasBody(elem) && count > 0 {
		return nil, decodeErrorf("array element constructor 0x%02x carries no body", code)
	}
	if count > size {
		return nil, decodeErrorf("array count %d cannot fit in %d bytes", count, size)
	}

	values := make([]any, 0, min(count, maxPrealloc))
	for i := 0; i < count; i++ {
		var v any
		if dec != nil {
			v, err = r.readDescribedBody(dec, code, elem)
		} else {
			v, err = r.readBody(code, elem)
			if err == nil && descriptor != nil {
				v = Described{Descriptor: descriptor, Value: v}
			}
		}
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	if err := r.checkConsumed(start, size, c.width); err != nil {
		return nil, err
	}
	if descriptor != nil {
		return values, nil
	}
	return typedArray(elem.kind, values), nil
}

func hasBody(c constructor) bool {
	switch c.cat {
	case catFixed:
		return c.width > 0
	case catVariable, catMap, catArray:
		return true
	case catList:
		return c.width > 0
	}
	return false
}

// typedArray narrows a homogeneous array to the matching Go slice type.
func typedArray(k kind, values []any) any {
	switch k {
	case kindSymbol:
		return narrow[Symbol](values)
	case kindString:
		return narrow[string](values)
	case kindUint:
		return narrow[uint32](values)
	case kindUlong:
		return narrow[uint64](values)
	case kindInt:
		return narrow[int32](values)
	case kindLong:
		return narrow[int64](values)
	case kindBool:
		return narrow[bool](values)
	case kindBinary:
		return narrow[[]byte](values)
	case kindUUID:
		return narrow[uuid.UUID](values)
	}
	return values
}

func narrow[T any](values []any) []T {
	out := make([]T, len(values))
	for i, v := range values {
		out[i] = v.(T)
	}
	return out
}

func (r *reader) readDescriptor() (any, error) {
	d, err := r.readValue()
	if err != nil {
		return nil, err
	}
	switch d.(type) {
	case uint64, Symbol:
		return d, nil
	}
	return nil, decodeErrorf("invalid descriptor type %T", d)
}

func (r *reader) readDescribed() (any, error) {
	descriptor, err := r.readDescriptor()
	if err != nil {
		return nil, err
	}
	dec := r.reg.lookup(descriptor)
	code, c, err := r.constructor()
	if err != nil {
		return nil, err
	}
	if dec == nil {
		v, err := r.readBody(code, c)
		if err != nil {
			return nil, err
		}
		return Described{Descriptor: descriptor, Value: v}, nil
	}
	return r.readDescribedBody(dec, code, c)
}

// readDescribedBody reads the list body of a registered described type and
// enforces its field-count bounds.
func (r *reader) readDescribedBody(dec *DescribedTypeDecoder, code EncodingCode, c constructor) (any, error) {
	if c.cat != catList {
		return nil, decodeErrorf("%s: expected list encoding, got 0x%02x", dec.Symbol, code)
	}
	size, count, err := r.compoundHeader(c)
	if err != nil {
		return nil, err
	}
	if count < dec.MinFields {
		return nil, decodeErrorf("not enough entries in %s list encoding: %d", dec.Symbol, count)
	}
	if count > dec.MaxFields {
		return nil, decodeErrorf("too many entries in %s list encoding: %d", dec.Symbol, count)
	}
	if err := r.enter(); err != nil {
		return nil, err
	}
	defer r.leave()

	start := r.pos
	fields := make(List, dec.MaxFields)
	for i := 0; i < count; i++ {
		if fields[i], err = r.readValue(); err != nil {
			return nil, err
		}
	}
	if c.width > 0 {
		if err := r.checkConsumed(start, size, c.width); err != nil {
			return nil, err
		}
	}
	v, err := dec.New(fields)
	if err != nil {
		return nil, &DecodeError{Message: string(dec.Symbol), Err: err}
	}
	return v, nil
}

func (r *reader) skipValue() error {
	code, c, err := r.constructor()
	if err != nil {
		return err
	}
	switch c.cat {
	case catNull, catTrue, catFalse:
		return nil
	case catFixed:
		return r.skipN(int(c.width))
	case catVariable, catList, catMap, catArray:
		n, err := r.prefix(c.width)
		if err != nil {
			return err
		}
		return r.skipN(n)
	case catDescribed:
		if err := r.skipValue(); err != nil {
			return err
		}
		return r.skipValue()
	}
	return decodeErrorf("unknown encoding code 0x%02x", code)
}

func (r *reader) listHeader() (size, count int, err error) {
	code, c, err := r.constructor()
	if err != nil {
		return 0, 0, err
	}
	if c.cat != catList {
		return 0, 0, decodeErrorf("expected list encoding, got 0x%02x", code)
	}
	return r.compoundHeader(c)
}

func (r *reader) mapHeader() (size, count int, err error) {
	code, c, err := r.constructor()
	if err != nil {
		return 0, 0, err
	}
	if c.cat != catMap {
		return 0, 0, decodeErrorf("expected map encoding, got 0x%02x", code)
	}
	return r.compoundHeader(c)
}

// Decoder decodes values from a resettable in-memory buffer. A Decoder holds
// no per-call state and may be reused for any number of buffers, though not
// concurrently.
type Decoder struct {
	reg     *Registry
	symbols *SymbolTable
}

// NewDecoder creates a Decoder resolving described types through reg.
// A nil symbol table disables interning.
func NewDecoder(reg *Registry, symbols *SymbolTable) *Decoder {
	return &Decoder{reg: reg, symbols: symbols}
}

func (d *Decoder) reader(b *buffer.Buffer) reader {
	return reader{src: bufferSource{buf: b}, reg: d.reg, symbols: d.symbols}
}

// ReadValue decodes one value and advances b past exactly the bytes it used.
// On error the read position of b is undefined.
func (d *Decoder) ReadValue(b *buffer.Buffer) (any, error) {
	r := d.reader(b)
	return r.readValue()
}

// SkipValue advances b past one encoded value without decoding it.
func (d *Decoder) SkipValue(b *buffer.Buffer) error {
	r := d.reader(b)
	return r.skipValue()
}

// ReadListHeader consumes a list constructor with its size and count prefix
// and leaves b positioned at the first element. size counts the bytes after
// the size field; list0 reports zero for both.
func (d *Decoder) ReadListHeader(b *buffer.Buffer) (size, count int, err error) {
	r := d.reader(b)
	return r.listHeader()
}

// ReadMapHeader is ReadListHeader for map encodings. count is the number of
// keys plus values.
func (d *Decoder) ReadMapHeader(b *buffer.Buffer) (size, count int, err error) {
	r := d.reader(b)
	return r.mapHeader()
}

// StreamDecoder decodes values from a forward-only io.Reader. It never needs
// to rewind, so it works on network streams directly.
type StreamDecoder struct {
	r reader
}

// NewStreamDecoder creates a StreamDecoder reading from in.
func NewStreamDecoder(in io.Reader, reg *Registry, symbols *SymbolTable) *StreamDecoder {
	src := &streamSource{r: in, maxSize: DefaultMaxStreamValueSize}
	return &StreamDecoder{r: reader{src: src, reg: reg, symbols: symbols}}
}

// ReadValue decodes the next value from the stream.
func (d *StreamDecoder) ReadValue() (any, error) {
	d.r.depth = 0
	return d.r.readValue()
}

// SkipValue discards the next value from the stream.
func (d *StreamDecoder) SkipValue() error {
	return d.r.skipValue()
}

// ReadListHeader consumes a list constructor with its size and count prefix.
func (d *StreamDecoder) ReadListHeader() (size, count int, err error) {
	return d.r.listHeader()
}

// ReadMapHeader consumes a map constructor with its size and count prefix.
func (d *StreamDecoder) ReadMapHeader() (size, count int, err error) {
	return d.r.mapHeader()
}

// Consumed returns the number of bytes read from the stream so far.
func (d *StreamDecoder) Consumed() int {
	return d.r.pos
}
