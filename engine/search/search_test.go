package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/trovekb/trove/engine/domain"
	"github.com/trovekb/trove/engine/source"
	"github.com/trovekb/trove/engine/store"
)

type stubEmbedder struct {
	vec   []float32
	err   error
	calls atomic.Int32
}

func (e *stubEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	return slices.Clone(e.vec), nil
}

type stubSource struct {
	name     string
	hits     []source.Hit
	err      error
	delay    time.Duration
	calls    atomic.Int32
	gotQuery string
	gotLimit int
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Search(ctx context.Context, query string, limit int) ([]source.Hit, error) {
	s.calls.Add(1)
	s.gotQuery = query
	s.gotLimit = limit
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.hits, nil
}

type failingReader struct{ err error }

func (r failingReader) BulkRead(context.Context) ([]store.Record, error) {
	return nil, r.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seededStore(t *testing.T) *store.Memory {
	t.Helper()
	st := store.NewMemory()
	recs := []store.Record{
		{ID: "p-1", Vector: []float32{1, 0, 0, 0}, Meta: map[string]string{store.MetaTitle: "kernel panic on boot"}},
		{ID: "p-2", Vector: []float32{0, 1, 0, 0}, Meta: map[string]string{store.MetaTitle: "wifi drops under load"}},
		{ID: "p-3", Vector: []float32{0.9, 0.1, 0, 0}, Meta: map[string]string{store.MetaTitle: "kernel oops after resume"}},
	}
	for _, rec := range recs {
		if err := st.Upsert(context.Background(), rec); err != nil {
			t.Fatalf("seed %s: %v", rec.ID, err)
		}
	}
	return st
}

func almostEqual(a, b, eps float32) bool {
	return math.Abs(float64(a-b)) < float64(eps)
}

func TestSemantic_RanksByCosine(t *testing.T) {
	enc := &stubEmbedder{vec: []float32{1, 0, 0, 0}}
	svc := New(enc, seededStore(t), nil, DefaultOptions(), quietLogger())

	hits, err := svc.Semantic(context.Background(), domain.SearchRequest{
		Query:     "kernel panic",
		Threshold: 0.5,
		Limit:     2,
	})
	if err != nil {
		t.Fatalf("Semantic: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].ID != "p-1" || hits[1].ID != "p-3" {
		t.Fatalf("expected p-1 then p-3, got %s then %s", hits[0].ID, hits[1].ID)
	}
	if !almostEqual(hits[0].Relevance, 1.0, 1e-3) {
		t.Errorf("p-1 similarity = %f, want ~1.0", hits[0].Relevance)
	}
	if !almostEqual(hits[1].Relevance, 0.9939, 1e-3) {
		t.Errorf("p-3 similarity = %f, want ~0.9939", hits[1].Relevance)
	}
	if hits[0].Source != domain.SourceInternal {
		t.Errorf("source = %q, want %q", hits[0].Source, domain.SourceInternal)
	}
	if hits[0].Title != "kernel panic on boot" {
		t.Errorf("title = %q", hits[0].Title)
	}
}

func TestSemantic_RepairsStoredWidth(t *testing.T) {
	st := store.NewMemory()
	if err := st.Upsert(context.Background(), store.Record{
		ID:     "p-short",
		Vector: []float32{1, 0, 0},
		Meta:   map[string]string{store.MetaTitle: "short vector"},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	enc := &stubEmbedder{vec: []float32{1, 0, 0, 0}}
	svc := New(enc, st, nil, DefaultOptions(), quietLogger())

	hits, err := svc.Semantic(context.Background(), domain.SearchRequest{Query: "anything"})
	if err != nil {
		t.Fatalf("Semantic: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if !almostEqual(hits[0].Relevance, 1.0, 1e-3) {
		t.Errorf("similarity = %f, want ~1.0 after zero padding", hits[0].Relevance)
	}
}

func TestSemantic_EmptyQuery(t *testing.T) {
	svc := New(&stubEmbedder{vec: []float32{1}}, store.NewMemory(), nil, DefaultOptions(), quietLogger())

	_, err := svc.Semantic(context.Background(), domain.SearchRequest{Query: "   "})
	if !errors.Is(err, domain.ErrEmptyQuery) {
		t.Fatalf("expected ErrEmptyQuery, got %v", err)
	}
}

func TestSemantic_EmbedError(t *testing.T) {
	enc := &stubEmbedder{err: errors.New("model exploded")}
	svc := New(enc, store.NewMemory(), nil, DefaultOptions(), quietLogger())

	_, err := svc.Semantic(context.Background(), domain.SearchRequest{Query: "boot loop"})
	if err == nil {
		t.Fatal("expected error")
	}
	if err.Error() != "search: embed query: model exploded" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSearch_CountsPerSource(t *testing.T) {
	enc := &stubEmbedder{vec: []float32{1, 0, 0, 0}}
	so := &stubSource{
		name: domain.SourceStackOverflow,
		err:  fmt.Errorf("stackoverflow search: %w", context.DeadlineExceeded),
	}
	yt := &stubSource{
		name: domain.SourceYouTube,
		hits: []source.Hit{{Source: domain.SourceYouTube, ID: "vid-1", Title: "fixing kernel panics", Relevance: 30}},
	}
	svc := New(enc, seededStore(t), []source.Source{so, yt}, DefaultOptions(), quietLogger())

	res, err := svc.Search(context.Background(), domain.SearchRequest{Query: "kernel panic"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if got := res.Sources[domain.SourceInternal].Count; got != 2 {
		t.Errorf("internal count = %d, want 2", got)
	}
	if got := res.Sources[domain.SourceStackOverflow].Count; got != 0 {
		t.Errorf("stackoverflow count = %d, want 0", got)
	}
	if res.Sources[domain.SourceStackOverflow].Err == "" {
		t.Error("expected stackoverflow block to carry the error string")
	}
	if got := res.Sources[domain.SourceYouTube].Count; got != 1 {
		t.Errorf("youtube count = %d, want 1", got)
	}

	if len(res.Fused) != 3 {
		t.Fatalf("fused length = %d, want 3", len(res.Fused))
	}
	if res.Fused[0].ID != "p-1" || res.Fused[1].ID != "p-3" || res.Fused[2].ID != "vid-1" {
		t.Errorf("fused order: %s, %s, %s", res.Fused[0].ID, res.Fused[1].ID, res.Fused[2].ID)
	}
	if !almostEqual(res.Fused[0].Relevance, 200, 0.1) {
		t.Errorf("fused internal score = %f, want ~200", res.Fused[0].Relevance)
	}
	if res.Query != "kernel panic" {
		t.Errorf("query = %q", res.Query)
	}
	if res.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
}

func TestSearch_ProviderFailuresNeverFailSearch(t *testing.T) {
	enc := &stubEmbedder{vec: []float32{1, 0, 0, 0}}
	so := &stubSource{name: domain.SourceStackOverflow, err: errors.New("status 500")}
	yt := &stubSource{name: domain.SourceYouTube, err: errors.New("quota exhausted")}
	svc := New(enc, seededStore(t), []source.Source{so, yt}, DefaultOptions(), quietLogger())

	res, err := svc.Search(context.Background(), domain.SearchRequest{Query: "kernel panic"})
	if err != nil {
		t.Fatalf("Search should survive provider failures: %v", err)
	}
	for _, name := range []string{domain.SourceStackOverflow, domain.SourceYouTube} {
		block := res.Sources[name]
		if block.Count != 0 || block.Err == "" {
			t.Errorf("%s block = %+v, want empty with error", name, block)
		}
		if block.Hits == nil {
			t.Errorf("%s hits should be an empty list, not nil", name)
		}
	}
	for _, h := range res.Fused {
		if h.Source != domain.SourceInternal {
			t.Errorf("fused list leaked %s hit %s", h.Source, h.ID)
		}
	}
}

func TestSearch_EmbedErrorFails(t *testing.T) {
	enc := &stubEmbedder{err: errors.New("model exploded")}
	yt := &stubSource{name: domain.SourceYouTube}
	svc := New(enc, seededStore(t), []source.Source{yt}, DefaultOptions(), quietLogger())

	_, err := svc.Search(context.Background(), domain.SearchRequest{Query: "kernel panic"})
	if err == nil {
		t.Fatal("expected internal failure to fail the search")
	}
}

func TestSearch_StoreErrorFails(t *testing.T) {
	enc := &stubEmbedder{vec: []float32{1, 0, 0, 0}}
	svc := New(enc, failingReader{err: errors.New("connection refused")}, nil, DefaultOptions(), quietLogger())

	_, err := svc.Search(context.Background(), domain.SearchRequest{Query: "kernel panic"})
	if err == nil {
		t.Fatal("expected store failure to fail the search")
	}
}

func TestSearch_WaitsForAllBranches(t *testing.T) {
	enc := &stubEmbedder{vec: []float32{1, 0, 0, 0}}
	fast := &stubSource{name: domain.SourceStackOverflow, err: errors.New("status 429")}
	slow := &stubSource{
		name:  domain.SourceYouTube,
		delay: 30 * time.Millisecond,
		hits:  []source.Hit{{Source: domain.SourceYouTube, ID: "vid-1", Relevance: 30}},
	}
	svc := New(enc, seededStore(t), []source.Source{fast, slow}, DefaultOptions(), quietLogger())

	res, err := svc.Search(context.Background(), domain.SearchRequest{Query: "kernel panic"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if fast.calls.Load() != 1 || slow.calls.Load() != 1 {
		t.Errorf("calls = %d/%d, want 1/1", fast.calls.Load(), slow.calls.Load())
	}
	if got := res.Sources[domain.SourceYouTube].Count; got != 1 {
		t.Errorf("slow branch count = %d, want 1; fast failure must not cut it off", got)
	}
}

func TestSearch_ForwardsSourceLimits(t *testing.T) {
	enc := &stubEmbedder{vec: []float32{1, 0, 0, 0}}
	so := &stubSource{name: domain.SourceStackOverflow}
	yt := &stubSource{name: domain.SourceYouTube}
	svc := New(enc, store.NewMemory(), []source.Source{so, yt}, DefaultOptions(), quietLogger())

	_, err := svc.Search(context.Background(), domain.SearchRequest{
		Query:        "kernel panic",
		SourceLimits: map[string]int{domain.SourceYouTube: 2},
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if so.gotLimit != domain.DefaultSourceLimit {
		t.Errorf("stackoverflow limit = %d, want default %d", so.gotLimit, domain.DefaultSourceLimit)
	}
	if yt.gotLimit != 2 {
		t.Errorf("youtube limit = %d, want 2", yt.gotLimit)
	}
	if so.gotQuery != "kernel panic" {
		t.Errorf("query = %q", so.gotQuery)
	}
}

func TestFuse_TruncatesToTopN(t *testing.T) {
	svc := New(&stubEmbedder{}, store.NewMemory(), nil, Options{InternalBonus: 100, TopN: 3}, quietLogger())

	internal := []source.Hit{
		{Source: domain.SourceInternal, ID: "p-1", Relevance: 0.9},
		{Source: domain.SourceInternal, ID: "p-2", Relevance: 0.8},
	}
	external := []source.Hit{
		{Source: domain.SourceStackOverflow, ID: "q-1", Relevance: 150},
		{Source: domain.SourceYouTube, ID: "vid-1", Relevance: 30},
		{Source: domain.SourceYouTube, ID: "vid-2", Relevance: 30},
	}

	fused := svc.fuse(internal, external)
	if len(fused) != 3 {
		t.Fatalf("fused length = %d, want 3", len(fused))
	}
	if fused[0].ID != "p-1" || fused[1].ID != "p-2" || fused[2].ID != "q-1" {
		t.Errorf("fused order: %s, %s, %s", fused[0].ID, fused[1].ID, fused[2].ID)
	}
}

func TestFuse_StableTiesAndDedup(t *testing.T) {
	svc := New(&stubEmbedder{}, store.NewMemory(), nil, DefaultOptions(), quietLogger())

	external := []source.Hit{
		{Source: domain.SourceYouTube, ID: "vid-a", Relevance: 30},
		{Source: domain.SourceYouTube, ID: "vid-b", Relevance: 30},
		{Source: domain.SourceYouTube, ID: "vid-a", Relevance: 30},
	}

	fused := svc.fuse(nil, external)
	if len(fused) != 2 {
		t.Fatalf("fused length = %d, want 2 after dedup", len(fused))
	}
	if fused[0].ID != "vid-a" || fused[1].ID != "vid-b" {
		t.Errorf("tie order: %s, %s, want vid-a then vid-b", fused[0].ID, fused[1].ID)
	}
}
