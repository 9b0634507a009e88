package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func mustContain(t *testing.T, out, substr string) {
	t.Helper()
	if !strings.Contains(out, substr) {
		t.Errorf("output missing %q:\n%s", substr, out)
	}
}

func TestCounterAccumulates(t *testing.T) {
	r := New()
	c := r.Counter("trove_events_total", "Events observed")

	if c.Value() != 0 {
		t.Fatalf("new counter = %d, want 0", c.Value())
	}
	c.Inc()
	c.Add(4)
	c.Inc()
	if c.Value() != 6 {
		t.Fatalf("counter = %d, want 6", c.Value())
	}
}

func TestCounterSameNameSameInstance(t *testing.T) {
	r := New()
	a := r.Counter("trove_events_total", "Events observed")
	b := r.Counter("trove_events_total", "")
	if a != b {
		t.Fatal("same name must return the same counter")
	}
	a.Inc()
	if b.Value() != 1 {
		t.Fatal("increments must be visible through both handles")
	}
}

func TestGauge(t *testing.T) {
	r := New()
	g := r.Gauge("trove_open_subscriptions", "Open subscriptions")
	g.Set(3)
	g.Inc()
	g.Dec()
	g.Dec()
	if g.Value() != 2 {
		t.Fatalf("gauge = %d, want 2", g.Value())
	}
}

func TestHistogramBucketsAndSum(t *testing.T) {
	r := New()
	h := r.Histogram("trove_embed_seconds", "Embed latency", []float64{0.1, 0.5, 1.0})

	observed := []float64{0.05, 0.3, 0.8, 2.0}
	for _, v := range observed {
		h.Observe(v)
	}

	buckets, counts, sum, count := h.snapshot()
	if count != uint64(len(observed)) {
		t.Fatalf("count = %d, want %d", count, len(observed))
	}
	if len(buckets) != 3 {
		t.Fatalf("buckets = %d, want 3", len(buckets))
	}
	// One observation per bucket; 2.0 lands beyond the last bucket and
	// only shows in count and +Inf.
	for i, want := range []uint64{1, 1, 1} {
		if counts[i] != want {
			t.Errorf("bucket %g count = %d, want %d", buckets[i], counts[i], want)
		}
	}
	if want := 0.05 + 0.3 + 0.8 + 2.0; sum != want {
		t.Errorf("sum = %g, want %g", sum, want)
	}
}

func TestHistogramSince(t *testing.T) {
	r := New()
	h := r.Histogram("trove_index_seconds", "", nil)
	h.Since(time.Now().Add(-50 * time.Millisecond))
	_, _, sum, count := h.snapshot()
	if count != 1 || sum <= 0 {
		t.Fatalf("Since: count=%d sum=%g, want one positive observation", count, sum)
	}
}

func TestWithLabels(t *testing.T) {
	cases := []struct {
		name string
		kvs  []string
		want string
	}{
		{"hits_total", []string{"source", "stackoverflow"}, `hits_total{source="stackoverflow"}`},
		{"hits_total", []string{"source", "youtube", "outcome", "ok"}, `hits_total{source="youtube",outcome="ok"}`},
		{"hits_total", nil, "hits_total"},
		{"hits_total", []string{"dangling"}, "hits_total"},
	}
	for _, c := range cases {
		if got := WithLabels(c.name, c.kvs...); got != c.want {
			t.Errorf("WithLabels(%q, %v) = %q, want %q", c.name, c.kvs, got, c.want)
		}
	}
}

func TestRenderExposition(t *testing.T) {
	r := New()
	r.Counter("trove_searches_total", "Searches served").Add(10)
	r.Counter(WithLabels("trove_searches_total", "mode", "semantic"), "").Add(7)
	r.Counter(WithLabels("trove_searches_total", "mode", "full"), "").Add(3)
	r.Gauge("trove_store_records", "Stored records").Set(5)
	h := r.Histogram("trove_embed_seconds", "Embed latency", []float64{0.1, 0.5, 1.0})
	h.Observe(0.05)
	h.Observe(0.3)

	out := r.Render()

	mustContain(t, out, "# TYPE trove_searches_total counter")
	mustContain(t, out, "# TYPE trove_store_records gauge")
	mustContain(t, out, "# TYPE trove_embed_seconds histogram")
	mustContain(t, out, "# HELP trove_searches_total Searches served")

	mustContain(t, out, "trove_searches_total 10")
	mustContain(t, out, `trove_searches_total{mode="semantic"} 7`)
	mustContain(t, out, "trove_store_records 5")

	// Bucket counts are cumulative in the exposition format.
	mustContain(t, out, `trove_embed_seconds_bucket{le="0.1"} 1`)
	mustContain(t, out, `trove_embed_seconds_bucket{le="0.5"} 2`)
	mustContain(t, out, `trove_embed_seconds_bucket{le="+Inf"} 2`)
	mustContain(t, out, "trove_embed_seconds_count 2")
}

func TestHandler(t *testing.T) {
	r := New()
	r.Counter("trove_events_total", "").Inc()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "text/plain") {
		t.Fatalf("content type = %q, want text/plain", ct)
	}
	mustContain(t, rec.Body.String(), "trove_events_total 1")
}

func TestMetricBaseName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"trove_events_total", "trove_events_total"},
		{`trove_events_total{subject="x"}`, "trove_events_total"},
		{`m{a="1",b="2"}`, "m"},
	}
	for _, c := range cases {
		if got := metricBaseName(c.in); got != c.want {
			t.Errorf("metricBaseName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
