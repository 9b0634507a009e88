package fn

import "fmt"

// Result carries either a value or the error that prevented it.
type Result[T any] struct {
	val T
	err error
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] { return Result[T]{val: v} }

// Err wraps a failure.
func Err[T any](err error) Result[T] { return Result[T]{err: err} }

// Errf wraps a failure built from a format string.
func Errf[T any](format string, args ...any) Result[T] {
	return Result[T]{err: fmt.Errorf(format, args...)}
}

// FromPair lifts a conventional (value, error) return into a Result.
func FromPair[T any](v T, err error) Result[T] {
	if err != nil {
		return Err[T](err)
	}
	return Ok(v)
}

// IsOk reports whether the Result holds a value.
func (r Result[T]) IsOk() bool { return r.err == nil }

// IsErr reports whether the Result holds an error.
func (r Result[T]) IsErr() bool { return r.err != nil }

// Unwrap returns the value and error as a conventional pair.
func (r Result[T]) Unwrap() (T, error) { return r.val, r.err }

// UnwrapOr returns the value, or fallback when the Result is an error.
func (r Result[T]) UnwrapOr(fallback T) T {
	if r.err != nil {
		return fallback
	}
	return r.val
}
