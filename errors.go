package vecpipe

import "github.com/vecpipe/vecpipe/internal/vecerr"

// Error, ErrorCode, and the taxonomy below are re-exported from
// internal/vecerr, which is where the domain packages (reqflow,
// ioengine) construct and tag these errors — vecerr sits below the root
// package specifically so they can do that without an import cycle back
// here. This file is the public-facing alias, kept so callers outside the
// module see a single vecpipe.Error type regardless of which internal
// package raised it.
type Error = vecerr.Error

// ErrorCode is the high-level taxonomy from the pipeline's error handling
// design: ErrCodeExhausted is always transient and retried by the caller;
// ErrCodeTooLarge, ErrCodeParse, and ErrCodeIO always close one connection.
type ErrorCode = vecerr.ErrorCode

// NoConnID marks an Error with no associated connection.
const NoConnID = vecerr.NoConnID

const (
	ErrCodeTooLarge  = vecerr.ErrCodeTooLarge
	ErrCodeExhausted = vecerr.ErrCodeExhausted
	ErrCodeParse     = vecerr.ErrCodeParse
	ErrCodeIO        = vecerr.ErrCodeIO
)

// NewError builds a structured error with no connection context.
func NewError(op string, code ErrorCode, msg string) *Error {
	return vecerr.NewError(op, code, msg)
}

// NewConnError builds a structured error tied to a specific connection.
func NewConnError(op string, connID uint32, code ErrorCode, msg string) *Error {
	return vecerr.NewConnError(op, connID, code, msg)
}

// WrapIOError wraps a syscall/IO failure observed on a connection.
func WrapIOError(op string, connID uint32, inner error) *Error {
	return vecerr.WrapIOError(op, connID, inner)
}

// IsCode reports whether err is a *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	return vecerr.IsCode(err, code)
}

// ErrTooLarge and ErrExhausted are sentinel errors carrying the two arena
// codes; errors.Is matches any *Error with the same code against them.
// arena.Alloc does not return them (it returns *arena.AllocError).
var (
	ErrTooLarge  = vecerr.ErrTooLarge
	ErrExhausted = vecerr.ErrExhausted
)
