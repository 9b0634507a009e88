// Package domain holds the problem and search types shared across the
// trove pipeline, plus the validation applied at its entry points.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Source tags for ranked results. The set is closed: every result carries
// exactly one of these.
const (
	SourceInternal      = "internal"
	SourceStackOverflow = "stackoverflow"
	SourceYouTube       = "youtube"
)

// ValidSources enumerates accepted result sources.
var ValidSources = map[string]bool{
	SourceInternal:      true,
	SourceStackOverflow: true,
	SourceYouTube:       true,
}

// Problem is a knowledge-base record: a reported technical problem together
// with its solution text. One embedding exists per problem, covering
// EmbeddingText; it is replaced wholesale when the text changes and removed
// when the problem is deleted.
type Problem struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Solution    string    `json:"solution,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// EmbeddingText returns the text the problem's embedding covers: title,
// description, and solution joined, blanks skipped.
func (p Problem) EmbeddingText() string {
	parts := make([]string, 0, 3)
	for _, s := range []string{p.Title, p.Description, p.Solution} {
		if t := strings.TrimSpace(s); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}

// ContentHash returns the SHA-256 of EmbeddingText, hex encoded. The indexer
// stores it alongside the vector to skip re-embedding unchanged problems.
func (p Problem) ContentHash() string {
	sum := sha256.Sum256([]byte(p.EmbeddingText()))
	return hex.EncodeToString(sum[:])
}

// Search defaults. Threshold is a hard floor below which a candidate is
// excluded regardless of rank.
const (
	DefaultLimit       = 10
	DefaultThreshold   = 0.5
	DefaultSourceLimit = 5
)

// SearchRequest carries one search call's parameters. SourceLimits bounds
// each external source's result count by source tag; sources not present
// fall back to DefaultSourceLimit.
type SearchRequest struct {
	Query        string         `json:"query"`
	Limit        int            `json:"limit,omitempty"`
	Threshold    float32        `json:"threshold,omitempty"`
	SourceLimits map[string]int `json:"source_limits,omitempty"`
}

// Normalize returns a copy with defaults applied: zero limit becomes
// DefaultLimit, zero threshold becomes DefaultThreshold, and the query is
// whitespace-trimmed.
func (r SearchRequest) Normalize() SearchRequest {
	out := r
	out.Query = strings.TrimSpace(r.Query)
	if out.Limit == 0 {
		out.Limit = DefaultLimit
	}
	if out.Threshold == 0 {
		out.Threshold = DefaultThreshold
	}
	return out
}

// SourceLimit returns the per-source result bound for the given source tag.
func (r SearchRequest) SourceLimit(source string) int {
	if n, ok := r.SourceLimits[source]; ok && n > 0 {
		return n
	}
	return DefaultSourceLimit
}
