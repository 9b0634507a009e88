package domain

import (
	"fmt"
	"strings"
)

// ValidateProblem checks a Problem before indexing.
func ValidateProblem(p Problem) error {
	if strings.TrimSpace(p.ID) == "" {
		return NewValidationError("id", p.ID, ErrMissingID)
	}
	if strings.TrimSpace(p.Title) == "" {
		return NewValidationError("title", p.Title, ErrMissingTitle)
	}
	if p.EmbeddingText() == "" {
		return NewValidationError("text", "", ErrNoContent)
	}
	return nil
}

// ValidateSearchRequest checks a normalized SearchRequest. The query must be
// non-empty after trimming; the threshold must lie in [-1, 1]; limits must
// be positive.
func ValidateSearchRequest(r SearchRequest) error {
	if strings.TrimSpace(r.Query) == "" {
		return NewValidationError("query", r.Query, ErrEmptyQuery)
	}
	if r.Threshold < -1 || r.Threshold > 1 {
		return NewValidationError("threshold", fmt.Sprintf("%g", r.Threshold), ErrInvalidThreshold)
	}
	if r.Limit < 0 {
		return NewValidationError("limit", fmt.Sprintf("%d", r.Limit), ErrInvalidLimit)
	}
	for src, n := range r.SourceLimits {
		if n < 0 {
			return NewValidationError("source_limits."+src, fmt.Sprintf("%d", n), ErrInvalidLimit)
		}
	}
	return nil
}
