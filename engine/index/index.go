// Package index keeps the vector store in step with the knowledge
// base: validate a problem, embed its text, and upsert the vector
// under the problem's own ID. Re-indexing a problem whose content has
// not changed is a no-op, detected by comparing content hashes, so
// title-only or metadata-only updates never hit the encoder.
package index

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/trovekb/trove/engine/domain"
	"github.com/trovekb/trove/engine/store"
	"github.com/trovekb/trove/pkg/fn"
)

// Embedder turns problem text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Validate checks a problem before it is embedded.
var Validate fn.Stage[domain.Problem, domain.Problem] = func(_ context.Context, p domain.Problem) fn.Result[domain.Problem] {
	if err := domain.ValidateProblem(p); err != nil {
		return fn.Err[domain.Problem](err)
	}
	return fn.Ok(p)
}

// EmbeddedProblem pairs a problem with its embedding and content hash.
type EmbeddedProblem struct {
	Problem domain.Problem
	SHA     string
	Vector  []float32
}

// NewEmbed creates the stage that encodes a problem's searchable text.
func NewEmbed(enc Embedder) fn.Stage[domain.Problem, EmbeddedProblem] {
	return func(ctx context.Context, p domain.Problem) fn.Result[EmbeddedProblem] {
		vec, err := enc.Embed(ctx, p.EmbeddingText())
		if err != nil {
			return fn.Err[EmbeddedProblem](fmt.Errorf("index: embed %s: %w", p.ID, err))
		}
		return fn.Ok(EmbeddedProblem{Problem: p, SHA: p.ContentHash(), Vector: vec})
	}
}

// NewStore creates the stage that upserts the embedded problem.
func NewStore(st store.VectorStore) fn.Stage[EmbeddedProblem, string] {
	return func(ctx context.Context, ep EmbeddedProblem) fn.Result[string] {
		rec := store.Record{
			ID:     ep.Problem.ID,
			Vector: ep.Vector,
			Meta: map[string]string{
				store.MetaTitle: ep.Problem.Title,
				store.MetaSHA:   ep.SHA,
			},
		}
		if err := st.Upsert(ctx, rec); err != nil {
			return fn.Err[string](fmt.Errorf("index: upsert %s: %w", ep.Problem.ID, err))
		}
		return fn.Ok(ep.Problem.ID)
	}
}

// NewPipeline wires validate, embed, and upsert into one traced stage.
func NewPipeline(enc Embedder, st store.VectorStore, log *slog.Logger) fn.Stage[domain.Problem, string] {
	if log == nil {
		log = slog.Default()
	}
	entry := fn.TapStage(func(_ context.Context, p domain.Problem) {
		log.Debug("indexing problem", "id", p.ID)
	})
	validated := fn.Then(entry, fn.TracedStage("index.validate", Validate))
	embedded := fn.Then(validated, fn.TracedStage("index.embed", NewEmbed(enc)))
	return fn.Then(embedded, fn.TracedStage("index.upsert", NewStore(st)))
}

// Indexer runs the indexing pipeline against a vector store.
type Indexer struct {
	store    store.VectorStore
	pipeline fn.Stage[domain.Problem, string]
	logger   *slog.Logger
}

// New creates an Indexer.
func New(enc Embedder, st store.VectorStore, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		store:    st,
		pipeline: NewPipeline(enc, st, logger),
		logger:   logger,
	}
}

// Index embeds and stores one problem. The returned bool reports
// whether a write happened; unchanged content is skipped without
// touching the encoder.
func (ix *Indexer) Index(ctx context.Context, p domain.Problem) (bool, error) {
	sha := p.ContentHash()
	cur, found, err := ix.store.Get(ctx, p.ID)
	if err != nil {
		return false, fmt.Errorf("index: read %s: %w", p.ID, err)
	}
	if found && cur.Meta[store.MetaSHA] == sha {
		ix.logger.Info("content unchanged, skipping embed", "id", p.ID)
		return false, nil
	}

	result := ix.pipeline(ctx, p)
	if result.IsErr() {
		_, err := result.Unwrap()
		return false, err
	}
	ix.logger.Info("problem indexed", "id", p.ID)
	return true, nil
}

// Remove deletes a problem's vector. Absent IDs are a no-op.
func (ix *Indexer) Remove(ctx context.Context, id string) error {
	if err := ix.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("index: delete %s: %w", id, err)
	}
	ix.logger.Info("problem removed from index", "id", id)
	return nil
}
