package vecpipe

import (
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These exercise only that the root package's re-exports behave the same
// as internal/vecerr's own tests (see internal/vecerr/vecerr_test.go for
// the taxonomy's full behavior).

func TestNewErrorReexport(t *testing.T) {
	err := NewError("reqflow.Process", ErrCodeParse, "num_vectors out of range")
	assert.Equal(t, ErrCodeParse, err.Code)
	assert.Equal(t, "vecpipe: num_vectors out of range (op=reqflow.Process)", err.Error())
}

func TestWrapIOErrorReexport(t *testing.T) {
	err := WrapIOError("ioengine.handleWrite", 7, syscall.ECONNRESET)
	require.NotNil(t, err)
	assert.Equal(t, ErrCodeIO, err.Code)

	var ve *Error
	assert.True(t, errors.As(err, &ve))
}

func TestIsCodeReexport(t *testing.T) {
	err := NewError("arena.Alloc", ErrCodeExhausted, "no space")
	assert.True(t, IsCode(err, ErrCodeExhausted))
	assert.False(t, IsCode(err, ErrCodeTooLarge))
}

func TestSentinelErrorsReexport(t *testing.T) {
	assert.True(t, errors.Is(ErrTooLarge, ErrTooLarge))
	assert.True(t, errors.Is(ErrExhausted, ErrExhausted))
	assert.False(t, errors.Is(ErrTooLarge, ErrExhausted))
}
