package fn

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

// Stage transforms an In into a Result[Out] within a context.
type Stage[In, Out any] func(context.Context, In) Result[Out]

// Then chains two stages. The second stage only runs when the first
// succeeds; its input is the first stage's value.
func Then[A, B, C any](first Stage[A, B], second Stage[B, C]) Stage[A, C] {
	return func(ctx context.Context, a A) Result[C] {
		v, err := first(ctx, a).Unwrap()
		if err != nil {
			return Err[C](err)
		}
		return second(ctx, v)
	}
}

// TapStage runs a side effect and passes the value through unchanged.
func TapStage[T any](tap func(context.Context, T)) Stage[T, T] {
	return func(ctx context.Context, v T) Result[T] {
		tap(ctx, v)
		return Ok(v)
	}
}

// TracedStage records the stage as an OTel span, marking it failed when
// the stage returns an error.
func TracedStage[In, Out any](name string, stage Stage[In, Out]) Stage[In, Out] {
	return func(ctx context.Context, in In) Result[Out] {
		ctx, span := otel.Tracer("trove/fn").Start(ctx, name)
		defer span.End()
		result := stage(ctx, in)
		if _, err := result.Unwrap(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return result
	}
}
