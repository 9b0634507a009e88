// Package source adapts third-party knowledge providers to one
// normalized result shape. Adapters hold no state between calls beyond
// configuration, bound every outbound request with a short timeout, and
// degrade to empty results instead of failing the caller when a
// provider misbehaves.
package source

import (
	"context"
	"errors"
	"time"
)

// RequestTimeout bounds every outbound provider call.
const RequestTimeout = 10 * time.Second

var (
	// ErrQuotaExhausted marks a provider refusing calls for quota
	// reasons (daily key budget, HTTP 403).
	ErrQuotaExhausted = errors.New("source: quota exhausted")

	// ErrThrottled marks a provider rate-limit response (HTTP 429 or
	// an explicit throttle error body).
	ErrThrottled = errors.New("source: throttled")
)

// Source is a searchable external provider. Search returns at most
// limit hits; provider failures other than context cancellation come
// back as an empty list, already logged.
type Source interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]Hit, error)
}

// Hit is one normalized external result.
type Hit struct {
	Source    string  `json:"source"`
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	URL       string  `json:"link"`
	Relevance float32 `json:"relevance"`

	Question *QuestionMeta `json:"question,omitempty"`
	Video    *VideoMeta    `json:"video,omitempty"`
}

// QuestionMeta carries the Q&A signals behind a question hit's
// relevance score.
type QuestionMeta struct {
	Score       int       `json:"score"`
	AnswerCount int       `json:"answer_count"`
	HasAccepted bool      `json:"has_accepted"`
	ViewCount   int       `json:"view_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// VideoMeta carries the presentation fields of a video hit.
type VideoMeta struct {
	Channel     string    `json:"channel"`
	Description string    `json:"description"`
	PublishedAt time.Time `json:"published_at"`
}

// degraded classifies err as a swallowable provider failure. Context
// cancellation is never swallowed; the caller decides what a dead
// request means.
func degraded(ctx context.Context, err error) bool {
	return err != nil && ctx.Err() == nil
}
