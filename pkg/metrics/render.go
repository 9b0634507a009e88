package metrics

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
)

// Render returns the registry in the Prometheus text exposition format.
func (r *Registry) Render() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	for _, base := range r.order {
		f := r.families[base]
		if f.help != "" {
			fmt.Fprintf(&b, "# HELP %s %s\n", base, f.help)
		}
		fmt.Fprintf(&b, "# TYPE %s %s\n", base, f.kind)

		series := append([]string(nil), f.series...)
		sort.Strings(series)
		for _, name := range series {
			switch f.kind {
			case "counter":
				fmt.Fprintf(&b, "%s %d\n", name, r.counters[name].Value())
			case "gauge":
				fmt.Fprintf(&b, "%s %d\n", name, r.gauges[name].Value())
			case "histogram":
				r.renderHistogram(&b, base, name)
			}
		}
	}
	return b.String()
}

func (r *Registry) renderHistogram(b *strings.Builder, base, name string) {
	bounds, counts, sum, count := r.histograms[name].snapshot()
	inner := seriesLabels(name)

	var seen uint64
	for i, bound := range bounds {
		seen += counts[i]
		le := strconv.FormatFloat(bound, 'g', -1, 64)
		fmt.Fprintf(b, "%s_bucket%s %d\n", base, bucketLabels(inner, le), seen)
	}
	fmt.Fprintf(b, "%s_bucket%s %d\n", base, bucketLabels(inner, "+Inf"), count)
	fmt.Fprintf(b, "%s_sum%s %g\n", base, labelBraces(inner), sum)
	fmt.Fprintf(b, "%s_count%s %d\n", base, labelBraces(inner), count)
}

// seriesLabels returns the text between the braces of a series name,
// or "" when the name carries no labels.
func seriesLabels(name string) string {
	_, rest, ok := strings.Cut(name, "{")
	if !ok {
		return ""
	}
	return strings.TrimSuffix(rest, "}")
}

func labelBraces(inner string) string {
	if inner == "" {
		return ""
	}
	return "{" + inner + "}"
}

// bucketLabels merges the le bound with the series labels.
func bucketLabels(inner, le string) string {
	if inner == "" {
		return `{le="` + le + `"}`
	}
	return `{le="` + le + `",` + inner + `}`
}

// Handler serves the rendition as a /metrics response.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.Write([]byte(r.Render()))
	})
}

// Serve blocks serving /metrics on the given port.
func (r *Registry) Serve(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok\n"))
	})
	return http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
}

// ServeAsync starts the metrics server in a goroutine.
func (r *Registry) ServeAsync(port int) {
	go func() {
		if err := r.Serve(port); err != nil {
			slog.Default().Error("metrics server", "port", port, "err", err)
		}
	}()
}
