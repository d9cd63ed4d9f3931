// Package metrics is a small registry over the Prometheus client. Metrics
// are created on first use by name; labels are written into the name with
// WithLabels so call sites stay one line.
package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// DefaultBuckets are latency buckets in seconds.
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// Counter only goes up. The zero value is a no-op.
type Counter struct{ c prometheus.Counter }

func (c *Counter) Inc() {
	if c.c != nil {
		c.c.Inc()
	}
}

func (c *Counter) Add(n int64) {
	if c.c != nil && n > 0 {
		c.c.Add(float64(n))
	}
}

// Value returns the current count.
func (c *Counter) Value() int64 {
	if c.c == nil {
		return 0
	}
	var m dto.Metric
	if err := c.c.Write(&m); err != nil {
		return 0
	}
	return int64(m.GetCounter().GetValue())
}

// Gauge goes up and down. The zero value is a no-op.
type Gauge struct{ g prometheus.Gauge }

func (g *Gauge) Set(n int64) {
	if g.g != nil {
		g.g.Set(float64(n))
	}
}

func (g *Gauge) Inc() {
	if g.g != nil {
		g.g.Inc()
	}
}

func (g *Gauge) Dec() {
	if g.g != nil {
		g.g.Dec()
	}
}

// Value returns the current level.
func (g *Gauge) Value() int64 {
	if g.g == nil {
		return 0
	}
	var m dto.Metric
	if err := g.g.Write(&m); err != nil {
		return 0
	}
	return int64(m.GetGauge().GetValue())
}

// Histogram tracks a distribution. The zero value is a no-op.
type Histogram struct{ h prometheus.Observer }

func (h *Histogram) Observe(v float64) {
	if h.h != nil {
		h.h.Observe(v)
	}
}

// Since observes the seconds elapsed since t.
func (h *Histogram) Since(t time.Time) { h.Observe(time.Since(t).Seconds()) }

// Registry holds named metrics. It is safe for concurrent use.
type Registry struct {
	mu         sync.Mutex
	reg        *prometheus.Registry
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	labelKeys  map[string][]string
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		reg:        prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		labelKeys:  make(map[string][]string),
	}
}

// WithRuntime adds the Go runtime and process collectors.
func (r *Registry) WithRuntime() *Registry {
	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Counter returns (or creates) the counter for name, which may carry
// labels as produced by WithLabels.
func (r *Registry) Counter(name, help string) *Counter {
	base, labels := parseName(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	vec, ok := r.counters[base]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: base, Help: helpOr(help, base)}, keysOf(labels))
		if !r.register(base, vec, labels) {
			return &Counter{}
		}
		r.counters[base] = vec
	}
	c, err := vec.GetMetricWith(labels)
	if err != nil {
		return &Counter{}
	}
	return &Counter{c: c}
}

// Gauge returns (or creates) the gauge for name.
func (r *Registry) Gauge(name, help string) *Gauge {
	base, labels := parseName(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	vec, ok := r.gauges[base]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: base, Help: helpOr(help, base)}, keysOf(labels))
		if !r.register(base, vec, labels) {
			return &Gauge{}
		}
		r.gauges[base] = vec
	}
	g, err := vec.GetMetricWith(labels)
	if err != nil {
		return &Gauge{}
	}
	return &Gauge{g: g}
}

// Histogram returns (or creates) the histogram for name. Buckets are fixed
// by the first call; nil uses DefaultBuckets.
func (r *Registry) Histogram(name, help string, buckets []float64) *Histogram {
	if buckets == nil {
		buckets = DefaultBuckets
	}
	base, labels := parseName(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	vec, ok := r.histograms[base]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: base, Help: helpOr(help, base), Buckets: buckets}, keysOf(labels))
		if !r.register(base, vec, labels) {
			return &Histogram{}
		}
		r.histograms[base] = vec
	}
	h, err := vec.GetMetricWith(labels)
	if err != nil {
		return &Histogram{}
	}
	return &Histogram{h: h}
}

// register adds c under base. A name reused with another metric type is
// refused and the caller gets a no-op metric. Must hold mu.
func (r *Registry) register(base string, c prometheus.Collector, labels prometheus.Labels) bool {
	if _, taken := r.labelKeys[base]; taken {
		return false
	}
	if err := r.reg.Register(c); err != nil {
		return false
	}
	r.labelKeys[base] = keysOf(labels)
	return true
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Render returns every metric in the Prometheus text format.
func (r *Registry) Render() string {
	families, err := r.reg.Gather()
	if err != nil {
		return fmt.Sprintf("# gather error: %v\n", err)
	}
	var buf bytes.Buffer
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			break
		}
	}
	return buf.String()
}

// Handler serves the registry for scraping.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// WithLabels appends labels to a metric name:
// WithLabels("foo", "k", "v") => `foo{k="v"}`.
func WithLabels(name string, kvs ...string) string {
	if len(kvs) == 0 || len(kvs)%2 != 0 {
		return name
	}
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i := 0; i < len(kvs); i += 2 {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(kvs[i])
		b.WriteString(`="`)
		b.WriteString(strings.ReplaceAll(kvs[i+1], `"`, `'`))
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String()
}

// parseName splits `foo{k="v",j="w"}` into foo and its labels.
func parseName(name string) (string, prometheus.Labels) {
	idx := strings.IndexByte(name, '{')
	if idx == -1 || !strings.HasSuffix(name, "}") {
		return name, prometheus.Labels{}
	}
	labels := prometheus.Labels{}
	inner := name[idx+1 : len(name)-1]
	for _, pair := range strings.Split(inner, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		labels[strings.TrimSpace(k)] = strings.Trim(v, `"`)
	}
	return name[:idx], labels
}

func keysOf(labels prometheus.Labels) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func helpOr(help, name string) string {
	if help == "" {
		return name
	}
	return help
}
