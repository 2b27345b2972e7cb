package rhi

import "errors"

// Result carries either a value or an error code with a message.
//
// Go APIs in this module return (T, error) pairs; Result is the equivalent
// value form for callers that prefer chaining. The zero Result is a success
// holding the zero value of T.
type Result[T any] struct {
	value T
	err   *Error
}

// Ok returns a successful result holding v.
func Ok[T any](v T) Result[T] {
	return Result[T]{value: v}
}

// Fail returns a failed result with the given code and message.
func Fail[T any](code ErrorCode, message string) Result[T] {
	return Result[T]{err: NewError(code, message)}
}

// FromError converts a (value, error) pair into a Result. Errors that carry
// no code become Unknown with the error text as the message.
func FromError[T any](v T, err error) Result[T] {
	if err == nil {
		return Result[T]{value: v}
	}
	return Result[T]{err: asError(err)}
}

// asError returns err as an *Error, preserving code and message.
func asError(err error) *Error {
	var e *Error
	if !errors.As(err, &e) {
		return &Error{Code: Unknown, Message: err.Error(), cause: err}
	}
	if error(e) == err {
		return e
	}
	return &Error{Code: e.Code, Message: e.Message, cause: err}
}

// IsSuccess reports whether the result holds a value.
func (r Result[T]) IsSuccess() bool { return r.err == nil }

// Value returns the held value. It is the zero value for failed results.
func (r Result[T]) Value() T { return r.value }

// Code returns Success or the failure code.
func (r Result[T]) Code() ErrorCode {
	if r.err == nil {
		return Success
	}
	return r.err.Code
}

// Message returns the diagnostic message of a failed result.
func (r Result[T]) Message() string {
	if r.err == nil {
		return ""
	}
	return r.err.Message
}

// Err returns the failure as an error, or nil on success.
func (r Result[T]) Err() error {
	if r.err == nil {
		return nil
	}
	return r.err
}

// Unpack returns the (value, error) pair.
func (r Result[T]) Unpack() (T, error) {
	return r.value, r.Err()
}

// Then runs f on the value of a successful r. A failed r is propagated with
// its code and message unchanged and f is not called.
func Then[T, U any](r Result[T], f func(T) Result[U]) Result[U] {
	if r.err != nil {
		return Result[U]{err: r.err}
	}
	return f(r.value)
}

// ThenDo runs a void step on the value of a successful r and keeps the value.
// A failure from either r or f stops the chain unchanged.
func ThenDo[T any](r Result[T], f func(T) error) Result[T] {
	if r.err != nil {
		return r
	}
	if err := f(r.value); err != nil {
		return Result[T]{err: asError(err)}
	}
	return r
}

// Try wraps a (value, error) producing call for use in a Then chain.
func Try[T, U any](f func(T) (U, error)) func(T) Result[U] {
	return func(v T) Result[U] {
		u, err := f(v)
		return FromError(u, err)
	}
}
