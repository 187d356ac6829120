// Package render turns decoded AMQP values into canonical JSON.
//
// Output is deterministic: object keys are sorted by UTF-16 code units,
// strings are NFC normalized and only the characters JSON requires are
// escaped. The same frame always renders to the same bytes, which is what
// the trace store hashes and the CLI golden files compare.
//
// Mapping:
//
//	nil                      null
//	bool, integers           JSON literals
//	floats                   shortest repr, NaN and Inf as strings
//	string, Symbol, Char     strings
//	[]byte, decimals         "0x" + lowercase hex
//	time.Time                RFC 3339 with milliseconds, UTC
//	Stringer scalars         String() (uuid, settle modes, durations)
//	List, slices, arrays     arrays
//	Map                      object when every key is a string or symbol,
//	                         otherwise an array of [key, value] pairs
//	described structs        object with "$type" plus exported fields in
//	                         snake_case, nil and empty-string fields omitted
//	Described                {"descriptor": ..., "value": ...}
package render

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"
	"time"
	"unicode"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/amqpcore/internal/codec"
	"github.com/roach88/amqpcore/internal/types"
)

// maxDepth matches the decoder's nesting bound.
const maxDepth = 64

// Marshal renders v as canonical JSON.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := write(&buf, reflect.ValueOf(v), 0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalIndent renders v as canonical JSON indented for humans.
func MarshalIndent(v any, indent string) ([]byte, error) {
	b, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, b, "", indent); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

var (
	timeType     = reflect.TypeFor[time.Time]()
	bytesType    = reflect.TypeFor[[]byte]()
	stringerType = reflect.TypeFor[fmt.Stringer]()
	mapType      = reflect.TypeFor[codec.Map]()
	describedTyp = reflect.TypeFor[codec.Described]()
	charType     = reflect.TypeFor[codec.Char]()
)

func write(buf *bytes.Buffer, v reflect.Value, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("value nested deeper than %d", maxDepth)
	}
	if !v.IsValid() {
		buf.WriteString("null")
		return nil
	}
	switch v.Kind() {
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			buf.WriteString("null")
			return nil
		}
		if v.Kind() == reflect.Pointer && v.Elem().Kind() == reflect.Struct {
			return writeStruct(buf, v, depth)
		}
		return write(buf, v.Elem(), depth)
	}

	switch v.Type() {
	case timeType:
		writeString(buf, v.Interface().(time.Time).UTC().Format("2006-01-02T15:04:05.000Z07:00"))
		return nil
	case bytesType:
		writeString(buf, "0x"+hex.EncodeToString(v.Bytes()))
		return nil
	case mapType:
		return writeMap(buf, v.Interface().(codec.Map), depth)
	case describedTyp:
		d := v.Interface().(codec.Described)
		return writeObject(buf, []field{{"descriptor", reflect.ValueOf(d.Descriptor)}, {"value", reflect.ValueOf(d.Value)}}, depth)
	}

	if v.Type().Implements(stringerType) && v.Kind() != reflect.Struct && v.Kind() != reflect.Slice {
		writeString(buf, v.Interface().(fmt.Stringer).String())
		return nil
	}

	switch v.Kind() {
	case reflect.Bool:
		buf.WriteString(strconv.FormatBool(v.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if v.Type() == charType {
			writeString(buf, string(rune(v.Int())))
			return nil
		}
		buf.WriteString(strconv.FormatInt(v.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		buf.WriteString(strconv.FormatUint(v.Uint(), 10))
	case reflect.Float32, reflect.Float64:
		writeFloat(buf, v.Float(), v.Type().Bits())
	case reflect.String:
		writeString(buf, v.String())
	case reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, v.Len())
			reflect.Copy(reflect.ValueOf(b), v)
			writeString(buf, "0x"+hex.EncodeToString(b))
			return nil
		}
		return writeArray(buf, v, depth)
	case reflect.Slice:
		return writeArray(buf, v, depth)
	case reflect.Map:
		return writeGoMap(buf, v, depth)
	case reflect.Struct:
		return writeStruct(buf, v, depth)
	default:
		return fmt.Errorf("cannot render %s", v.Type())
	}
	return nil
}

func writeFloat(buf *bytes.Buffer, f float64, bits int) {
	switch {
	case math.IsNaN(f):
		writeString(buf, "NaN")
	case math.IsInf(f, 1):
		writeString(buf, "Infinity")
	case math.IsInf(f, -1):
		writeString(buf, "-Infinity")
	default:
		buf.WriteString(strconv.FormatFloat(f, 'g', -1, bits))
	}
}

func writeArray(buf *bytes.Buffer, v reflect.Value, depth int) error {
	buf.WriteByte('[')
	for i := range v.Len() {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := write(buf, v.Index(i), depth+1); err != nil {
			return fmt.Errorf("[%d]: %w", i, err)
		}
	}
	buf.WriteByte(']')
	return nil
}

type field struct {
	key string
	val reflect.Value
}

// writeObject sorts fields by UTF-16 code units and writes them.
func writeObject(buf *bytes.Buffer, fields []field, depth int) error {
	slices.SortFunc(fields, func(a, b field) int { return compareUTF16(a.key, b.key) })
	buf.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeString(buf, f.key)
		buf.WriteByte(':')
		if err := write(buf, f.val, depth+1); err != nil {
			return fmt.Errorf("%s: %w", f.key, err)
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeMap(buf *bytes.Buffer, m codec.Map, depth int) error {
	fields := make([]field, 0, len(m))
	for _, e := range m {
		var key string
		switch k := e.Key.(type) {
		case codec.Symbol:
			key = string(k)
		case string:
			key = k
		default:
			return writePairs(buf, m, depth)
		}
		fields = append(fields, field{key, reflect.ValueOf(e.Value)})
	}
	return writeObject(buf, fields, depth)
}

// writePairs keeps wire order: keys of mixed type have no canonical order.
func writePairs(buf *bytes.Buffer, m codec.Map, depth int) error {
	buf.WriteByte('[')
	for i, e := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('[')
		if err := write(buf, reflect.ValueOf(e.Key), depth+1); err != nil {
			return err
		}
		buf.WriteByte(',')
		if err := write(buf, reflect.ValueOf(e.Value), depth+1); err != nil {
			return err
		}
		buf.WriteByte(']')
	}
	buf.WriteByte(']')
	return nil
}

func writeGoMap(buf *bytes.Buffer, v reflect.Value, depth int) error {
	if v.Type().Key().Kind() != reflect.String {
		return fmt.Errorf("cannot render map keyed by %s", v.Type().Key())
	}
	fields := make([]field, 0, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		fields = append(fields, field{iter.Key().String(), iter.Value()})
	}
	return writeObject(buf, fields, depth)
}

func writeStruct(buf *bytes.Buffer, v reflect.Value, depth int) error {
	var fields []field
	if v.Kind() == reflect.Pointer {
		switch d := v.Interface().(type) {
		case types.Performative:
			fields = append(fields, field{"$type", reflect.ValueOf(d.Name())})
		case codec.DescribedType:
			fields = append(fields, field{"$type", reflect.ValueOf(d.Descriptor().String())})
		}
		v = v.Elem()
	}
	t := v.Type()
	for i := range t.NumField() {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		fv := v.Field(i)
		if omit(fv) {
			continue
		}
		name, ok := sf.Tag.Lookup("amqp")
		if !ok {
			name = snakeCase(sf.Name)
		}
		fields = append(fields, field{name, fv})
	}
	return writeObject(buf, fields, depth)
}

func omit(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return v.IsNil()
	case reflect.String:
		return v.Len() == 0
	}
	return false
}

// snakeCase maps Go field names to AMQP-style field names:
// ContainerID becomes container_id, MaxFrameSize becomes max_frame_size.
func snakeCase(s string) string {
	rs := []rune(s)
	out := make([]rune, 0, len(rs)+4)
	for i, r := range rs {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := rs[i-1]
				nextLower := i+1 < len(rs) && unicode.IsLower(rs[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					out = append(out, '_')
				}
			}
			r = unicode.ToLower(r)
		}
		out = append(out, r)
	}
	return string(out)
}

func compareUTF16(a, b string) int {
	return slices.Compare(utf16.Encode([]rune(a)), utf16.Encode([]rune(b)))
}

// writeString writes an NFC-normalized JSON string, escaping only the
// quote, the backslash and control characters.
func writeString(buf *bytes.Buffer, s string) {
	s = norm.NFC.String(s)
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(buf, `\u%04x`, r)
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}
