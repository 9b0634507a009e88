package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/trovekb/trove/engine/domain"
	"github.com/trovekb/trove/pkg/fn"
	"github.com/trovekb/trove/pkg/resilience"
)

const stackOverflowBaseURL = "https://api.stackexchange.com/2.3"

// Weights tune the Stack Overflow relevance heuristic. Each signal
// approximates how often it predicts a usable answer.
type Weights struct {
	Upvote   float32 // per question upvote
	Answer   float32 // per posted answer
	Accepted float32 // bonus when an accepted answer exists
	ViewLog  float32 // per log10(views+1)
	Recency  float32 // bonus for questions younger than a year
}

// DefaultWeights are the production fusion weights.
var DefaultWeights = Weights{Upvote: 2, Answer: 5, Accepted: 50, ViewLog: 10, Recency: 25}

// StackOverflowConfig configures the adapter. Zero values select
// defaults; BaseURL exists so tests can point at a local server.
type StackOverflowConfig struct {
	BaseURL string
	APIKey  string
	Weights Weights
	Logger  *slog.Logger
}

// StackOverflow searches the StackExchange search/advanced API and
// scores questions with the Q&A heuristic.
type StackOverflow struct {
	baseURL string
	apiKey  string
	weights Weights
	client  *http.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	log     *slog.Logger
	now     func() time.Time // for testing
}

// NewStackOverflow creates the adapter.
func NewStackOverflow(cfg StackOverflowConfig) *StackOverflow {
	if cfg.BaseURL == "" {
		cfg.BaseURL = stackOverflowBaseURL
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &StackOverflow{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		weights: cfg.Weights,
		client: &http.Client{
			Timeout:   RequestTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 5),
		breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
		log:     cfg.Logger,
		now:     time.Now,
	}
}

// Name implements Source.
func (s *StackOverflow) Name() string { return domain.SourceStackOverflow }

// Search implements Source. Provider failures degrade to an empty
// result with a warning; only context cancellation propagates.
func (s *StackOverflow) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = domain.DefaultSourceLimit
	}
	hits, err := s.search(ctx, query, limit)
	if err != nil {
		if !degraded(ctx, err) {
			return nil, err
		}
		s.log.Warn("stackoverflow search degraded", "query", query, "err", err)
		return nil, nil
	}
	return hits, nil
}

func (s *StackOverflow) search(ctx context.Context, query string, limit int) ([]Hit, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	result := fn.Retry(ctx, fn.RetryOpts{
		MaxAttempts: 2,
		InitialWait: 500 * time.Millisecond,
		MaxWait:     2 * time.Second,
		Jitter:      true,
	}, func(ctx context.Context) fn.Result[*soSearchResponse] {
		return resilience.CallResult(s.breaker, ctx, func(ctx context.Context) fn.Result[*soSearchResponse] {
			return s.doSearch(ctx, query, limit)
		})
	})

	resp, err := result.Unwrap()
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(resp.Items))
	for _, q := range resp.Items {
		created := time.Unix(q.CreationDate, 0).UTC()
		hits = append(hits, Hit{
			Source:    domain.SourceStackOverflow,
			ID:        strconv.FormatInt(q.QuestionID, 10),
			Title:     q.Title,
			URL:       q.Link,
			Relevance: s.relevance(q),
			Question: &QuestionMeta{
				Score:       q.Score,
				AnswerCount: q.AnswerCount,
				HasAccepted: q.AcceptedAnswerID != 0,
				ViewCount:   q.ViewCount,
				CreatedAt:   created,
			},
		})
	}
	return hits, nil
}

func (s *StackOverflow) doSearch(ctx context.Context, query string, limit int) fn.Result[*soSearchResponse] {
	params := url.Values{
		"order":    {"desc"},
		"sort":     {"relevance"},
		"q":        {query},
		"site":     {"stackoverflow"},
		"pagesize": {strconv.Itoa(limit)},
	}
	if s.apiKey != "" {
		params.Set("key", s.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.baseURL+"/search/advanced?"+params.Encode(), nil)
	if err != nil {
		return fn.Err[*soSearchResponse](err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fn.Err[*soSearchResponse](fmt.Errorf("stackoverflow: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fn.Err[*soSearchResponse](ErrThrottled)
	case resp.StatusCode == http.StatusForbidden:
		return fn.Err[*soSearchResponse](ErrQuotaExhausted)
	case resp.StatusCode != http.StatusOK:
		return fn.Err[*soSearchResponse](fmt.Errorf("stackoverflow: status %d", resp.StatusCode))
	}

	var sr soSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return fn.Err[*soSearchResponse](fmt.Errorf("stackoverflow decode: %w", err))
	}
	if sr.ErrorName == "throttle_violation" {
		return fn.Err[*soSearchResponse](ErrThrottled)
	}
	return fn.Ok(&sr)
}

// relevance computes the Q&A heuristic: community approval, answer
// volume, an accepted-answer bonus, log-damped views, and a freshness
// bonus for questions under a year old.
func (s *StackOverflow) relevance(q soQuestion) float32 {
	w := s.weights
	score := float32(q.Score)*w.Upvote + float32(q.AnswerCount)*w.Answer
	if q.AcceptedAnswerID != 0 {
		score += w.Accepted
	}
	score += float32(math.Log10(float64(q.ViewCount)+1)) * w.ViewLog
	if s.now().Sub(time.Unix(q.CreationDate, 0)) < 365*24*time.Hour {
		score += w.Recency
	}
	return score
}

// StackExchange API response types.

type soSearchResponse struct {
	Items     []soQuestion `json:"items"`
	ErrorID   int          `json:"error_id"`
	ErrorName string       `json:"error_name"`
}

type soQuestion struct {
	QuestionID       int64  `json:"question_id"`
	Title            string `json:"title"`
	Link             string `json:"link"`
	Score            int    `json:"score"`
	AnswerCount      int    `json:"answer_count"`
	AcceptedAnswerID int64  `json:"accepted_answer_id"`
	ViewCount        int    `json:"view_count"`
	CreationDate     int64  `json:"creation_date"`
	IsAnswered       bool   `json:"is_answered"`
}
