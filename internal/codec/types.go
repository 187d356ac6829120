package codec

import (
	"bytes"
	"fmt"
	"reflect"
	"slices"
)

// Symbol is an ASCII symbolic value (sym8/sym32).
type Symbol string

// Char is a single Unicode code point encoded as UTF-32BE.
type Char rune

// Decimal32 holds an IEEE 754-2008 decimal32 in its raw wire form.
type Decimal32 [4]byte

// Decimal64 holds an IEEE 754-2008 decimal64 in its raw wire form.
type Decimal64 [8]byte

// Decimal128 holds an IEEE 754-2008 decimal128 in its raw wire form.
type Decimal128 [16]byte

// List is a polymorphic sequence of values (list0/list8/list32).
type List []any

// MapEntry is one key/value pair of a Map.
type MapEntry struct {
	Key   any
	Value any
}

// Map is a polymorphic map that keeps wire order. AMQP map keys may be of any
// type, including binary, so a Go map cannot hold them in general.
type Map []MapEntry

// Get returns the value stored under key.
func (m Map) Get(key any) (any, bool) {
	for _, e := range m {
		if keysEqual(e.Key, key) {
			return e.Value, true
		}
	}
	return nil, false
}

// Fields converts a symbol-keyed Map into the fields representation used by
// properties and error info. Entries with non-symbol keys are rejected.
func (m Map) Fields() (map[Symbol]any, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[Symbol]any, len(m))
	for _, e := range m {
		k, ok := e.Key.(Symbol)
		if !ok {
			return nil, fmt.Errorf("fields key must be symbol, got %T", e.Key)
		}
		out[k] = e.Value
	}
	return out, nil
}

// MapFromFields builds a Map with entries sorted by key, so that encoding a
// fields value is deterministic.
func MapFromFields(f map[Symbol]any) Map {
	if f == nil {
		return nil
	}
	keys := make([]Symbol, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	m := make(Map, 0, len(keys))
	for _, k := range keys {
		m = append(m, MapEntry{Key: k, Value: f[k]})
	}
	return m
}

func keysEqual(a, b any) bool {
	if ab, ok := a.([]byte); ok {
		bb, ok := b.([]byte)
		return ok && bytes.Equal(ab, bb)
	}
	if a == nil || b == nil {
		return a == b
	}
	if !reflect.TypeOf(a).Comparable() || !reflect.TypeOf(b).Comparable() {
		return false
	}
	return a == b
}

// Descriptor identifies a described type either by its numeric code or by its
// symbolic name. Both forms are legal on the wire.
type Descriptor struct {
	Code   uint64
	Symbol Symbol
}

// String renders the descriptor the way the AMQP type definitions do.
func (d Descriptor) String() string {
	if d.Symbol != "" {
		return string(d.Symbol)
	}
	return fmt.Sprintf("0x%08x:0x%08x", d.Code>>32, d.Code&0xffffffff)
}

// DescribedType is implemented by domain types that encode as a descriptor
// followed by a body value, typically a List of fields.
type DescribedType interface {
	Descriptor() Descriptor
	Body() any
}

// Described is a described value whose descriptor is not registered. The
// descriptor is either a uint64 or a Symbol.
type Described struct {
	Descriptor any
	Value      any
}

// TrimFields drops trailing nil fields so that list-bodied described types
// are encoded with the shortest legal list.
func TrimFields(fields List) List {
	n := len(fields)
	for n > 0 && isNil(fields[n-1]) {
		n--
	}
	return fields[:n]
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
