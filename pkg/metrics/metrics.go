// Package metrics is a small dependency-free metrics registry that
// renders the Prometheus text exposition format. Counters, gauges, and
// histograms register by name; labeled series bake their label pairs
// into the series name via WithLabels.
package metrics

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBuckets spans latencies from 5ms to a minute, in seconds.
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// Counter only goes up.
type Counter struct{ val atomic.Int64 }

func (c *Counter) Inc()         { c.val.Add(1) }
func (c *Counter) Add(n int64)  { c.val.Add(n) }
func (c *Counter) Value() int64 { return c.val.Load() }

// Gauge goes up and down.
type Gauge struct{ val atomic.Int64 }

func (g *Gauge) Set(n int64)  { g.val.Store(n) }
func (g *Gauge) Inc()         { g.val.Add(1) }
func (g *Gauge) Dec()         { g.val.Add(-1) }
func (g *Gauge) Value() int64 { return g.val.Load() }

// Histogram tallies observations into fixed buckets.
type Histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(bounds []float64) *Histogram {
	sorted := append([]float64(nil), bounds...)
	sort.Float64s(sorted)
	return &Histogram{buckets: sorted, counts: make([]uint64, len(sorted))}
}

// Observe records a value. counts holds per-bucket tallies; Render
// accumulates them into the cumulative form the exposition format wants.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.count++
	if i := sort.SearchFloat64s(h.buckets, v); i < len(h.buckets) {
		h.counts[i]++
	}
}

// Since observes the duration elapsed since t, in seconds.
func (h *Histogram) Since(t time.Time) {
	h.Observe(time.Since(t).Seconds())
}

// snapshot copies the histogram state out from under the lock.
func (h *Histogram) snapshot() ([]float64, []uint64, float64, uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c := append([]uint64(nil), h.counts...)
	return h.buckets, c, h.sum, h.count
}

// family groups the series sharing one base name, which share a type
// and a help string in the exposition output.
type family struct {
	kind   string
	help   string
	series []string
}

// Registry holds named metrics and renders them.
type Registry struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
	families   map[string]*family
	order      []string
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
		families:   make(map[string]*family),
	}
}

// register must run under mu, and only for series not seen before.
func (r *Registry) register(name, kind, help string) {
	base := metricBaseName(name)
	f, ok := r.families[base]
	if !ok {
		f = &family{kind: kind}
		r.families[base] = f
		r.order = append(r.order, base)
	}
	if f.help == "" {
		f.help = help
	}
	f.series = append(f.series, name)
}

// Counter returns (or creates) the counter for name. Label pairs are
// baked into the name as name{k="v",...}, one series per combination.
func (r *Registry) Counter(name, help string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c
	}
	c := &Counter{}
	r.counters[name] = c
	r.register(name, "counter", help)
	return c
}

// Gauge returns (or creates) the gauge for name.
func (r *Registry) Gauge(name, help string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gauges[name]; ok {
		return g
	}
	g := &Gauge{}
	r.gauges[name] = g
	r.register(name, "gauge", help)
	return g
}

// Histogram returns (or creates) the histogram for name. A nil buckets
// slice selects DefaultBuckets.
func (r *Registry) Histogram(name, help string, buckets []float64) *Histogram {
	if buckets == nil {
		buckets = DefaultBuckets
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[name]; ok {
		return h
	}
	h := newHistogram(buckets)
	r.histograms[name] = h
	r.register(name, "histogram", help)
	return h
}

// WithLabels appends label pairs to a metric name, e.g.
// WithLabels("foo", "k", "v") => `foo{k="v"}`. Odd trailing arguments
// leave the name untouched.
func WithLabels(name string, kvs ...string) string {
	if len(kvs) == 0 || len(kvs)%2 != 0 {
		return name
	}
	pairs := make([]string, 0, len(kvs)/2)
	for i := 0; i+1 < len(kvs); i += 2 {
		pairs = append(pairs, kvs[i]+`="`+kvs[i+1]+`"`)
	}
	return name + "{" + strings.Join(pairs, ",") + "}"
}

// metricBaseName strips the label portion from a series name.
func metricBaseName(name string) string {
	base, _, _ := strings.Cut(name, "{")
	return base
}
