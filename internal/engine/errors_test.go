package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Error(t *testing.T) {
	err := newError(ErrCodeDecode, nil, "bad constructor 0x%02x", 0xff)
	assert.Equal(t, "DECODE_ERROR: bad constructor 0xff", err.Error())

	cause := errors.New("short read")
	err = newError(ErrCodeDecode, cause, "frame body")
	assert.Equal(t, "DECODE_ERROR: frame body: short read", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestErrorCode_Fatal(t *testing.T) {
	fatal := []ErrorCode{ErrCodeDecode, ErrCodeProtocolViolation, ErrCodeSASLFailed}
	local := []ErrorCode{ErrCodeNotStarted, ErrCodeEngineFailed, ErrCodeIllegalState, ErrCodeDrainTimeout}
	for _, c := range fatal {
		assert.True(t, c.Fatal(), c)
	}
	for _, c := range local {
		assert.False(t, c.Fatal(), c)
	}
}

func TestIsHelpers_Wrapped(t *testing.T) {
	tests := []struct {
		code ErrorCode
		is   func(error) bool
	}{
		{ErrCodeDecode, IsDecodeError},
		{ErrCodeProtocolViolation, IsProtocolViolation},
		{ErrCodeNotStarted, IsNotStarted},
		{ErrCodeEngineFailed, IsEngineFailed},
		{ErrCodeSASLFailed, IsSASLFailed},
		{ErrCodeIllegalState, IsIllegalState},
		{ErrCodeDrainTimeout, IsDrainTimeout},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", newError(tt.code, nil, "x"))
			assert.True(t, tt.is(wrapped))
			assert.False(t, tt.is(errors.New("plain")))
			assert.False(t, tt.is(nil))
		})
	}
}
