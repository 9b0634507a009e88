// Package vector holds the float32 vector primitives shared by the
// encoder, the stores, and the search pipeline: cosine similarity,
// L2 normalization, dimension repair, and the text codec used by
// backends that persist vectors as strings.
package vector

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrDimensionMismatch is returned when two vectors of different
	// lengths are compared.
	ErrDimensionMismatch = errors.New("vector: dimension mismatch")

	// ErrMalformed is returned when a stored vector string cannot be
	// decoded.
	ErrMalformed = errors.New("vector: malformed")
)

// Cosine returns the cosine similarity of a and b in [-1, 1].
// Comparing vectors of different lengths is an error. A zero-magnitude
// operand yields similarity 0 rather than NaN.
func Cosine(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0, nil
	}
	return float32(dot / (math.Sqrt(magA) * math.Sqrt(magB))), nil
}

// Normalize returns v scaled to unit L2 norm. The zero vector comes
// back unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// Repair pads v with zeros or truncates it so it has exactly dims
// elements. The bool reports whether the vector was altered, so
// callers can log the degradation.
func Repair(v []float32, dims int) ([]float32, bool) {
	if len(v) == dims {
		return v, false
	}
	out := make([]float32, dims)
	copy(out, v)
	return out, true
}

// Parse decodes a vector stored in the text form "[0.1, 0.2, ...]".
// This is the single place stored vector strings are interpreted;
// every backend that persists vectors as text goes through it.
func Parse(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, fmt.Errorf("%w: not bracketed", ErrMalformed)
	}
	s = strings.Trim(s, "[]")
	if strings.TrimSpace(s) == "" {
		return []float32{}, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		var f float64
		if _, err := fmt.Sscanf(strings.TrimSpace(p), "%f", &f); err != nil {
			return nil, fmt.Errorf("%w: element %d: %v", ErrMalformed, i, err)
		}
		out[i] = float32(f)
	}
	return out, nil
}

// Format encodes v in the text form accepted by Parse and by the
// pgvector input syntax. Full float32 precision is kept so a
// Format/Parse round trip is lossless.
func Format(v []float32) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.FormatFloat(float64(x), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
