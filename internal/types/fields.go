package types

import (
	"fmt"
	"time"

	"github.com/roach88/amqpcore/internal/codec"
)

// fieldReader converts the padded field list of a described type into Go
// values, keeping the first error it meets.
type fieldReader struct {
	typ    string
	fields codec.List
	err    error
}

func (r *fieldReader) failf(i int, field, format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf("%s: field %d (%s): %s", r.typ, i, field, fmt.Sprintf(format, args...))
	}
}

func field[T any](r *fieldReader, i int, name string, mandatory bool) (T, bool) {
	var zero T
	v := r.fields[i]
	if v == nil {
		if mandatory {
			r.failf(i, name, "mandatory field is null")
		}
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		r.failf(i, name, "expected %T, got %T", zero, v)
		return zero, false
	}
	return t, true
}

func required[T any](r *fieldReader, i int, name string) T {
	v, _ := field[T](r, i, name, true)
	return v
}

func optional[T any](r *fieldReader, i int, name string, def T) T {
	if v, ok := field[T](r, i, name, false); ok {
		return v
	}
	return def
}

func optionalPtr[T any](r *fieldReader, i int, name string) *T {
	if v, ok := field[T](r, i, name, false); ok {
		return &v
	}
	return nil
}

// symbols reads a multiple="true" symbol field, which peers may send either as
// a single symbol or as an array.
func (r *fieldReader) symbols(i int, name string) []codec.Symbol {
	switch v := r.fields[i].(type) {
	case nil:
		return nil
	case codec.Symbol:
		return []codec.Symbol{v}
	case []codec.Symbol:
		return v
	default:
		r.failf(i, name, "expected symbol or symbol array, got %T", v)
		return nil
	}
}

func (r *fieldReader) properties(i int, name string) map[codec.Symbol]any {
	m, ok := field[codec.Map](r, i, name, false)
	if !ok {
		return nil
	}
	f, err := m.Fields()
	if err != nil {
		r.failf(i, name, "%v", err)
	}
	return f
}

func (r *fieldReader) milliseconds(i int, name string) time.Duration {
	return time.Duration(optional[uint32](r, i, name, 0)) * time.Millisecond
}

func (r *fieldReader) deliveryState(i int, name string) DeliveryState {
	switch v := r.fields[i].(type) {
	case nil:
		return nil
	case DeliveryState:
		return v
	default:
		r.failf(i, name, "unsupported delivery state %T", v)
		return nil
	}
}

func (r *fieldReader) amqpError(i int) *Error {
	return optional[*Error](r, i, "error", nil)
}

// omit returns nil when v equals the field default so the field is left off
// the wire.
func omit[T comparable](v, def T) any {
	if v == def {
		return nil
	}
	return v
}

func deref[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func str(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func bin(b []byte) any {
	if b == nil {
		return nil
	}
	return b
}

func flag(b bool) any {
	if !b {
		return nil
	}
	return true
}

func millis(d time.Duration) any {
	if d <= 0 {
		return nil
	}
	return uint32(d / time.Millisecond)
}

func props(p map[codec.Symbol]any) any {
	if len(p) == 0 {
		return nil
	}
	return p
}

func syms(s []codec.Symbol) any {
	if len(s) == 0 {
		return nil
	}
	return s
}
