package codec

import (
	"errors"
	"fmt"
)

// DecodeError reports malformed encoded bytes: an unknown constructor, a
// declared length past the available input, or a described type whose field
// list violates its bounds.
type DecodeError struct {
	Message string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode: %s: %v", e.Message, e.Err)
	}
	return "decode: " + e.Message
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err is (or wraps) a DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

func decodeErrorf(format string, args ...any) *DecodeError {
	return &DecodeError{Message: fmt.Sprintf(format, args...)}
}

// EncodeError reports a value the encoder has no representation for.
type EncodeError struct {
	Message string
}

func (e *EncodeError) Error() string {
	return "encode: " + e.Message
}

func encodeErrorf(format string, args ...any) *EncodeError {
	return &EncodeError{Message: fmt.Sprintf(format, args...)}
}
