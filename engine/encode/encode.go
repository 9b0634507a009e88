// Package encode turns free text into fixed-width unit vectors.
//
// The model behind the Backend interface is loaded lazily and shared
// process-wide: concurrent first callers coalesce onto a single load,
// and a failed load is retried by the next caller instead of poisoning
// the process.
package encode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/trovekb/trove/engine/vector"
)

// DefaultDims is the output width of the default embedding model.
const DefaultDims = 384

var (
	// ErrEmptyInput is returned when the input is empty after trimming.
	// It is reported before any model work happens.
	ErrEmptyInput = errors.New("encode: empty input")

	// ErrEncodingFailed wraps model load and inference failures. These
	// are fatal for the request; the encoder does not retry them.
	ErrEncodingFailed = errors.New("encode: encoding failed")
)

// Backend produces raw token-level embedding rows for a text. Load may
// be slow and must be idempotent; Infer is only called after a
// successful Load.
type Backend interface {
	Load(ctx context.Context) error
	Infer(ctx context.Context, text string) ([][]float32, error)
}

// Encoder pools, repairs, and normalizes backend output into unit
// vectors of a fixed width.
type Encoder struct {
	backend Backend
	dims    int
	log     *slog.Logger

	loads singleflight.Group
	ready atomic.Bool
}

// New creates an encoder around backend. Output vectors always have
// dims elements regardless of what the backend produces.
func New(backend Backend, dims int, log *slog.Logger) *Encoder {
	if dims <= 0 {
		dims = DefaultDims
	}
	if log == nil {
		log = slog.Default()
	}
	return &Encoder{backend: backend, dims: dims, log: log}
}

// Dims returns the output vector width.
func (e *Encoder) Dims() int { return e.dims }

// Warm loads the model ahead of the first Embed call. Daemons call it
// at startup so the first query does not pay the load latency.
func (e *Encoder) Warm(ctx context.Context) error {
	return e.ensureReady(ctx)
}

func (e *Encoder) ensureReady(ctx context.Context) error {
	if e.ready.Load() {
		return nil
	}
	_, err, _ := e.loads.Do("load", func() (any, error) {
		// A flight that starts after a successful load must not hit
		// the backend again.
		if e.ready.Load() {
			return nil, nil
		}
		if err := e.backend.Load(ctx); err != nil {
			return nil, err
		}
		e.ready.Store(true)
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("%w: load: %w", ErrEncodingFailed, err)
	}
	return nil
}

// Embed encodes text into a unit-norm vector of Dims() elements.
// Output of the wrong width is repaired (padded or truncated) with a
// warning rather than rejected.
func (e *Encoder) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInput
	}
	if err := e.ensureReady(ctx); err != nil {
		return nil, err
	}
	rows, err := e.backend.Infer(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: infer: %w", ErrEncodingFailed, err)
	}
	pooled := meanPool(rows)
	repaired, altered := vector.Repair(pooled, e.dims)
	if altered {
		e.log.Warn("embedding repaired to expected width",
			"got", len(pooled), "want", e.dims)
	}
	return vector.Normalize(repaired), nil
}

// meanPool averages token rows element-wise. Short rows count as
// zero-padded. No rows pools to nil, which Repair turns into the zero
// vector.
func meanPool(rows [][]float32) []float32 {
	if len(rows) == 0 {
		return nil
	}
	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}
	out := make([]float32, width)
	for _, row := range rows {
		for i, x := range row {
			out[i] += x
		}
	}
	n := float32(len(rows))
	for i := range out {
		out[i] /= n
	}
	return out
}
