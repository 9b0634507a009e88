package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/trovekb/trove/engine/domain"
	"github.com/trovekb/trove/pkg/resilience"
)

const youtubeBaseURL = "https://www.googleapis.com/youtube/v3"

// DefaultVideoScore is the flat relevance for video hits. The Data API
// gives no usable relevance signal, so every video lands below scored
// Q&A results unless the fusion weights say otherwise.
const DefaultVideoScore = 30

// YouTubeConfig configures the adapter. BaseURL exists so tests can
// point at a local server; Score zero selects DefaultVideoScore.
type YouTubeConfig struct {
	BaseURL string
	APIKey  string
	Score   float32
	Logger  *slog.Logger
}

// YouTube searches the Data API v3 search endpoint.
type YouTube struct {
	baseURL string
	apiKey  string
	score   float32
	client  *http.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	log     *slog.Logger
}

// NewYouTube creates the adapter.
func NewYouTube(cfg YouTubeConfig) *YouTube {
	if cfg.BaseURL == "" {
		cfg.BaseURL = youtubeBaseURL
	}
	if cfg.Score == 0 {
		cfg.Score = DefaultVideoScore
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &YouTube{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		score:   cfg.Score,
		client: &http.Client{
			Timeout:   RequestTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
		breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
		log:     cfg.Logger,
	}
}

// Name implements Source.
func (y *YouTube) Name() string { return domain.SourceYouTube }

// Search implements Source. Provider failures degrade to an empty
// result with a warning; only context cancellation propagates.
func (y *YouTube) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = domain.DefaultSourceLimit
	}
	hits, err := y.search(ctx, query, limit)
	if err != nil {
		if !degraded(ctx, err) {
			return nil, err
		}
		y.log.Warn("youtube search degraded", "query", query, "err", err)
		return nil, nil
	}
	return hits, nil
}

func (y *YouTube) search(ctx context.Context, query string, limit int) ([]Hit, error) {
	if y.apiKey == "" {
		return nil, fmt.Errorf("youtube: API key required for search")
	}
	if err := y.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var sr ytSearchResponse
	err := y.breaker.Call(ctx, func(ctx context.Context) error {
		return y.doSearch(ctx, query, limit, &sr)
	})
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(sr.Items))
	for _, item := range sr.Items {
		pub, _ := time.Parse(time.RFC3339, item.Snippet.PublishedAt)
		hits = append(hits, Hit{
			Source:    domain.SourceYouTube,
			ID:        item.ID.VideoID,
			Title:     item.Snippet.Title,
			URL:       "https://www.youtube.com/watch?v=" + item.ID.VideoID,
			Relevance: y.score,
			Video: &VideoMeta{
				Channel:     item.Snippet.ChannelTitle,
				Description: item.Snippet.Description,
				PublishedAt: pub,
			},
		})
	}
	return hits, nil
}

func (y *YouTube) doSearch(ctx context.Context, query string, limit int, out *ytSearchResponse) error {
	params := url.Values{
		"part":              {"snippet"},
		"q":                 {query},
		"type":              {"video"},
		"relevanceLanguage": {"en"},
		"maxResults":        {strconv.Itoa(limit)},
		"key":               {y.apiKey},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		y.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return err
	}

	resp, err := y.client.Do(req)
	if err != nil {
		return fmt.Errorf("youtube: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return ErrQuotaExhausted
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrThrottled
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("youtube: status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("youtube decode: %w", err)
	}
	return nil
}

// ytSearchResponse is the YouTube Data API v3 search response.
type ytSearchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			Title        string `json:"title"`
			Description  string `json:"description"`
			ChannelTitle string `json:"channelTitle"`
			PublishedAt  string `json:"publishedAt"`
		} `json:"snippet"`
	} `json:"items"`
}
