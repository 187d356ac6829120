package codec

// EncodingCode is the single constructor byte that precedes every encoded
// value on the wire.
type EncodingCode = byte

// Constructor bytes defined by the AMQP 1.0 type system.
const (
	CodeDescribedTypeIndicator EncodingCode = 0x00

	CodeNull EncodingCode = 0x40

	CodeBooleanType  EncodingCode = 0x56 // 1 byte, 0x00 false / 0x01 true
	CodeBooleanTrue  EncodingCode = 0x41
	CodeBooleanFalse EncodingCode = 0x42

	CodeUbyte      EncodingCode = 0x50
	CodeUshort     EncodingCode = 0x60
	CodeUint       EncodingCode = 0x70
	CodeSmallUint  EncodingCode = 0x52
	CodeUint0      EncodingCode = 0x43
	CodeUlong      EncodingCode = 0x80
	CodeSmallUlong EncodingCode = 0x53
	CodeUlong0     EncodingCode = 0x44

	CodeByte      EncodingCode = 0x51
	CodeShort     EncodingCode = 0x61
	CodeInt       EncodingCode = 0x71
	CodeSmallInt  EncodingCode = 0x54
	CodeLong      EncodingCode = 0x81
	CodeSmallLong EncodingCode = 0x55

	CodeFloat      EncodingCode = 0x72
	CodeDouble     EncodingCode = 0x82
	CodeDecimal32  EncodingCode = 0x74
	CodeDecimal64  EncodingCode = 0x84
	CodeDecimal128 EncodingCode = 0x94

	CodeChar      EncodingCode = 0x73
	CodeTimestamp EncodingCode = 0x83
	CodeUUID      EncodingCode = 0x98

	CodeVBin8  EncodingCode = 0xa0
	CodeVBin32 EncodingCode = 0xb0
	CodeStr8   EncodingCode = 0xa1
	CodeStr32  EncodingCode = 0xb1
	CodeSym8   EncodingCode = 0xa3
	CodeSym32  EncodingCode = 0xb3

	CodeList0   EncodingCode = 0x45
	CodeList8   EncodingCode = 0xc0
	CodeList32  EncodingCode = 0xd0
	CodeMap8    EncodingCode = 0xc1
	CodeMap32   EncodingCode = 0xd1
	CodeArray8  EncodingCode = 0xe0
	CodeArray32 EncodingCode = 0xf0
)

// category is the closed set of encoding families. Every constructor byte
// maps to exactly one category through the constructors table.
type category uint8

const (
	catInvalid category = iota
	catNull
	catTrue
	catFalse
	catFixed
	catVariable
	catList
	catMap
	catArray
	catDescribed
)

// kind names the Go value a constructor produces.
type kind uint8

const (
	kindNone kind = iota
	kindBool
	kindUbyte
	kindUshort
	kindUint
	kindUlong
	kindByte
	kindShort
	kindInt
	kindLong
	kindFloat
	kindDouble
	kindDecimal32
	kindDecimal64
	kindDecimal128
	kindChar
	kindTimestamp
	kindUUID
	kindBinary
	kindString
	kindSymbol
	kindList
	kindMap
	kindArray
)

// constructor describes how to read the body that follows a constructor byte.
// For fixed encodings width is the body width; for variable and compound
// encodings it is the width of the size (and count) prefix.
type constructor struct {
	cat   category
	kind  kind
	width uint8
}

// constructors is the tag-byte dispatch table. Zero entries are invalid.
var constructors = [256]constructor{
	CodeDescribedTypeIndicator: {cat: catDescribed},

	CodeNull:         {cat: catNull},
	CodeBooleanTrue:  {cat: catTrue, kind: kindBool},
	CodeBooleanFalse: {cat: catFalse, kind: kindBool},
	CodeBooleanType:  {cat: catFixed, kind: kindBool, width: 1},

	CodeUbyte:      {cat: catFixed, kind: kindUbyte, width: 1},
	CodeUshort:     {cat: catFixed, kind: kindUshort, width: 2},
	CodeUint:       {cat: catFixed, kind: kindUint, width: 4},
	CodeSmallUint:  {cat: catFixed, kind: kindUint, width: 1},
	CodeUint0:      {cat: catFixed, kind: kindUint, width: 0},
	CodeUlong:      {cat: catFixed, kind: kindUlong, width: 8},
	CodeSmallUlong: {cat: catFixed, kind: kindUlong, width: 1},
	CodeUlong0:     {cat: catFixed, kind: kindUlong, width: 0},

	CodeByte:      {cat: catFixed, kind: kindByte, width: 1},
	CodeShort:     {cat: catFixed, kind: kindShort, width: 2},
	CodeInt:       {cat: catFixed, kind: kindInt, width: 4},
	CodeSmallInt:  {cat: catFixed, kind: kindInt, width: 1},
	CodeLong:      {cat: catFixed, kind: kindLong, width: 8},
	CodeSmallLong: {cat: catFixed, kind: kindLong, width: 1},

	CodeFloat:      {cat: catFixed, kind: kindFloat, width: 4},
	CodeDouble:     {cat: catFixed, kind: kindDouble, width: 8},
	CodeDecimal32:  {cat: catFixed, kind: kindDecimal32, width: 4},
	CodeDecimal64:  {cat: catFixed, kind: kindDecimal64, width: 8},
	CodeDecimal128: {cat: catFixed, kind: kindDecimal128, width: 16},

	CodeChar:      {cat: catFixed, kind: kindChar, width: 4},
	CodeTimestamp: {cat: catFixed, kind: kindTimestamp, width: 8},
	CodeUUID:      {cat: catFixed, kind: kindUUID, width: 16},

	CodeVBin8:  {cat: catVariable, kind: kindBinary, width: 1},
	CodeVBin32: {cat: catVariable, kind: kindBinary, width: 4},
	CodeStr8:   {cat: catVariable, kind: kindString, width: 1},
	CodeStr32:  {cat: catVariable, kind: kindString, width: 4},
	CodeSym8:   {cat: catVariable, kind: kindSymbol, width: 1},
	CodeSym32:  {cat: catVariable, kind: kindSymbol, width: 4},

	CodeList0:   {cat: catList, kind: kindList, width: 0},
	CodeList8:   {cat: catList, kind: kindList, width: 1},
	CodeList32:  {cat: catList, kind: kindList, width: 4},
	CodeMap8:    {cat: catMap, kind: kindMap, width: 1},
	CodeMap32:   {cat: catMap, kind: kindMap, width: 4},
	CodeArray8:  {cat: catArray, kind: kindArray, width: 1},
	CodeArray32: {cat: catArray, kind: kindArray, width: 4},
}

func lookup(code EncodingCode) (constructor, bool) {
	c := constructors[code]
	return c, c.cat != catInvalid
}
