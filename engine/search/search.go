// Package search orchestrates the multi-source search pipeline: embed
// the query, score the internal knowledge base, fan out to the
// external providers, and fuse everything into one ranked list.
//
// External providers are best-effort. The whole fan-out settles before
// results are assembled, and a failed provider costs its own block
// only; the search itself fails solely on internal errors (encoder or
// store).
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/trovekb/trove/engine/domain"
	"github.com/trovekb/trove/engine/rank"
	"github.com/trovekb/trove/engine/source"
	"github.com/trovekb/trove/engine/store"
	"github.com/trovekb/trove/engine/vector"
	"github.com/trovekb/trove/pkg/fn"
)

// Embedder turns query text into a unit vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Reader hands back the stored embedding collection for scoring.
type Reader interface {
	BulkRead(ctx context.Context) ([]store.Record, error)
}

// Options configures fusion. Request-level knobs (threshold, limit,
// per-source limits) travel in domain.SearchRequest instead.
type Options struct {
	// InternalBonus is added to every internal hit's fused score on
	// top of similarity*100, pinning curated knowledge above
	// external results.
	InternalBonus float32
	// TopN caps the fused list.
	TopN int
	// SourceTimeout bounds each external branch.
	SourceTimeout time.Duration
}

// DefaultOptions returns the production fusion constants.
func DefaultOptions() Options {
	return Options{
		InternalBonus: 100,
		TopN:          10,
		SourceTimeout: 10 * time.Second,
	}
}

// Service runs semantic and multi-source searches.
type Service struct {
	encoder Embedder
	store   Reader
	sources []source.Source
	opts    Options
	logger  *slog.Logger
}

// New creates a Service. Invalid option fields fall back to defaults;
// an InternalBonus of zero is honored as "no bonus".
func New(encoder Embedder, st Reader, sources []source.Source, opts Options, logger *slog.Logger) *Service {
	def := DefaultOptions()
	if opts.TopN <= 0 {
		opts.TopN = def.TopN
	}
	if opts.SourceTimeout <= 0 {
		opts.SourceTimeout = def.SourceTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		encoder: encoder,
		store:   st,
		sources: sources,
		opts:    opts,
		logger:  logger,
	}
}

// SourceBlock is one source's contribution to an aggregated search.
type SourceBlock struct {
	Count int          `json:"count"`
	Hits  []source.Hit `json:"results"`
	Err   string       `json:"error,omitempty"`
}

// AggregatedResult is the full multi-source answer.
type AggregatedResult struct {
	Query     string                 `json:"query"`
	Sources   map[string]SourceBlock `json:"sources"`
	Fused     []source.Hit           `json:"fused"`
	Timestamp time.Time              `json:"timestamp"`
}

// Semantic searches the internal knowledge base only: embed the query,
// score every stored record by cosine similarity, and rank. Hits carry
// the raw similarity in Relevance. Deterministic for a fixed store:
// bulk reads are ID-ordered and the sort is stable.
func (s *Service) Semantic(ctx context.Context, req domain.SearchRequest) ([]source.Hit, error) {
	req = req.Normalize()
	if err := domain.ValidateSearchRequest(req); err != nil {
		return nil, err
	}

	qvec, err := s.encoder.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("search: embed query: %w", err)
	}

	recs, err := s.store.BulkRead(ctx)
	if err != nil {
		return nil, fmt.Errorf("search: bulk read: %w", err)
	}

	titles := make(map[string]string, len(recs))
	cands := make([]rank.Candidate, 0, len(recs))
	for _, rec := range recs {
		vec := rec.Vector
		if len(vec) != len(qvec) {
			vec, _ = vector.Repair(vec, len(qvec))
			s.logger.Warn("stored vector repaired for scoring",
				"id", rec.ID, "got", len(rec.Vector), "want", len(qvec))
		}
		sim, err := vector.Cosine(qvec, vec)
		if err != nil {
			return nil, fmt.Errorf("search: score %s: %w", rec.ID, err)
		}
		cands = append(cands, rank.Candidate{ID: rec.ID, Score: sim})
		titles[rec.ID] = rec.Meta[store.MetaTitle]
	}

	ranked := rank.Rank(cands, req.Threshold, req.Limit)
	return fn.Map(ranked, func(c rank.Candidate) source.Hit {
		return source.Hit{
			Source:    domain.SourceInternal,
			ID:        c.ID,
			Title:     titles[c.ID],
			URL:       "/problems/" + c.ID,
			Relevance: c.Score,
		}
	}), nil
}

// branch is one settled lane of the fan-out.
type branch struct {
	name string
	hits []source.Hit
	err  error
}

// Search runs the internal search and every registered provider
// concurrently, waits for all of them, and fuses the survivors.
// Provider failures degrade to an empty block with the error string;
// internal failures fail the whole search.
func (s *Service) Search(ctx context.Context, req domain.SearchRequest) (*AggregatedResult, error) {
	req = req.Normalize()
	if err := domain.ValidateSearchRequest(req); err != nil {
		return nil, err
	}

	jobs := make([]func() branch, 0, len(s.sources)+1)
	jobs = append(jobs, func() branch {
		hits, err := s.Semantic(ctx, req)
		return branch{name: domain.SourceInternal, hits: hits, err: err}
	})
	for _, src := range s.sources {
		jobs = append(jobs, func() branch {
			sctx, cancel := context.WithTimeout(ctx, s.opts.SourceTimeout)
			defer cancel()
			hits, err := src.Search(sctx, req.Query, req.SourceLimit(src.Name()))
			return branch{name: src.Name(), hits: hits, err: err}
		})
	}

	settled := fn.FanOut(jobs...)

	var (
		internal []source.Hit
		external []source.Hit
		blocks   = make(map[string]SourceBlock, len(settled))
	)
	for _, b := range settled {
		if b.name == domain.SourceInternal {
			if b.err != nil {
				return nil, fmt.Errorf("search: internal: %w", b.err)
			}
			internal = b.hits
			blocks[b.name] = SourceBlock{Count: len(b.hits), Hits: orEmpty(b.hits)}
			continue
		}
		if b.err != nil {
			s.logger.Warn("source failed, returning empty block", "source", b.name, "err", b.err)
			blocks[b.name] = SourceBlock{Hits: []source.Hit{}, Err: b.err.Error()}
			continue
		}
		blocks[b.name] = SourceBlock{Count: len(b.hits), Hits: orEmpty(b.hits)}
		external = append(external, b.hits...)
	}

	return &AggregatedResult{
		Query:     req.Query,
		Sources:   blocks,
		Fused:     s.fuse(internal, external),
		Timestamp: time.Now().UTC(),
	}, nil
}

// fuse merges internal and external hits onto one score scale.
// Internal similarity maps to similarity*100 + InternalBonus; external
// hits keep their adapter-computed relevance. The sort is stable, so
// ties keep branch registration order and the output is reproducible.
func (s *Service) fuse(internal, external []source.Hit) []source.Hit {
	scored := fn.Map(internal, func(h source.Hit) source.Hit {
		h.Relevance = h.Relevance*100 + s.opts.InternalBonus
		return h
	})

	all := append(scored, external...)
	all = fn.UniqueBy(all, func(h source.Hit) string { return h.Source + ":" + h.ID })
	sort.SliceStable(all, func(i, j int) bool { return all[i].Relevance > all[j].Relevance })
	if len(all) > s.opts.TopN {
		all = all[:s.opts.TopN]
	}
	return all
}

func orEmpty(hits []source.Hit) []source.Hit {
	if hits == nil {
		return []source.Hit{}
	}
	return hits
}
