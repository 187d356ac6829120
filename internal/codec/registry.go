package codec

import "fmt"

// SymbolTable interns decoded symbols so that the handful of symbols a
// connection sees repeatedly (capabilities, error conditions, descriptor
// names) share one string. Each codec owns its own table; there is no
// process-wide state.
type SymbolTable struct {
	symbols map[string]Symbol
	limit   int
}

// DefaultSymbolTableLimit bounds how many distinct symbols a table retains.
// Symbols beyond the limit are still decoded, just not interned.
const DefaultSymbolTableLimit = 4096

// NewSymbolTable creates an empty table.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{symbols: make(map[string]Symbol), limit: DefaultSymbolTableLimit}
}

// Intern returns the canonical Symbol for the given bytes.
func (t *SymbolTable) Intern(b []byte) Symbol {
	// The string(b) conversion in a map index does not allocate.
	if s, ok := t.symbols[string(b)]; ok {
		return s
	}
	s := Symbol(b)
	if len(t.symbols) < t.limit {
		t.symbols[string(s)] = s
	}
	return s
}

// Len returns the number of interned symbols.
func (t *SymbolTable) Len() int {
	return len(t.symbols)
}

// DescribedTypeDecoder converts the field list of a registered described type
// into its domain value.
//
// MinFields and MaxFields bound the element count of the encoded list. Lists
// shorter than MaxFields are padded with nil so New always sees MaxFields
// entries.
type DescribedTypeDecoder struct {
	Code      uint64
	Symbol    Symbol
	MinFields int
	MaxFields int
	New       func(fields List) (any, error)
}

// Registry maps descriptors to decoders. A Registry is populated once before
// decoding starts and is read-only afterwards.
type Registry struct {
	byCode   map[uint64]*DescribedTypeDecoder
	bySymbol map[Symbol]*DescribedTypeDecoder
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byCode:   make(map[uint64]*DescribedTypeDecoder),
		bySymbol: make(map[Symbol]*DescribedTypeDecoder),
	}
}

// Register adds a decoder under both its numeric and symbolic descriptor.
func (r *Registry) Register(d DescribedTypeDecoder) {
	if d.MaxFields < d.MinFields {
		panic(fmt.Sprintf("codec: described type %s has max %d < min %d", d.Symbol, d.MaxFields, d.MinFields))
	}
	dd := d
	r.byCode[d.Code] = &dd
	if d.Symbol != "" {
		r.bySymbol[d.Symbol] = &dd
	}
}

// lookup finds the decoder for a decoded descriptor value.
func (r *Registry) lookup(descriptor any) *DescribedTypeDecoder {
	if r == nil {
		return nil
	}
	switch d := descriptor.(type) {
	case uint64:
		return r.byCode[d]
	case Symbol:
		return r.bySymbol[d]
	}
	return nil
}
