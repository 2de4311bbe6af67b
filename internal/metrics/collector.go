// Package metrics keeps in-process counters for chat turns and stream events
// and renders them in the Prometheus text exposition format.
package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the global metrics collector.
var Collector = NewMetricsCollector()

// MetricsCollector aggregates counters, gauges, and histograms.
type MetricsCollector struct {
	counters   sync.Map // name -> *Counter
	gauges     sync.Map // name -> *Gauge
	histograms sync.Map // name -> *Histogram
	startTime  time.Time
}

// NewMetricsCollector creates a new collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{startTime: time.Now()}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.value.Add(1) }

// Add increments the counter by n.
func (c *Counter) Add(n int64) { c.value.Add(n) }

// Value returns the current counter value.
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(v int64) { g.value.Store(v) }

// Inc increments the gauge by 1.
func (g *Gauge) Inc() { g.value.Add(1) }

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() { g.value.Add(-1) }

// Value returns the current gauge value.
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of values.
type Histogram struct {
	name    string
	help    string
	labels  string
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i := range h.buckets {
		if v <= h.buckets[i].le {
			h.buckets[i].count++
		}
	}
}

// --- Registration helpers ---

// Counter returns or creates a counter with the given name.
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	key := name + "{" + labels + "}"
	if v, ok := c.counters.Load(key); ok {
		return v.(*Counter)
	}
	ctr := &Counter{name: name, help: help, labels: labels}
	actual, _ := c.counters.LoadOrStore(key, ctr)
	return actual.(*Counter)
}

// Gauge returns or creates a gauge with the given name.
func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	key := name + "{" + labels + "}"
	if v, ok := c.gauges.Load(key); ok {
		return v.(*Gauge)
	}
	g := &Gauge{name: name, help: help, labels: labels}
	actual, _ := c.gauges.LoadOrStore(key, g)
	return actual.(*Gauge)
}

// Histogram returns or creates a histogram with the given name.
func (c *MetricsCollector) Histogram(name, help, labels string, buckets []float64) *Histogram {
	key := name + "{" + labels + "}"
	if v, ok := c.histograms.Load(key); ok {
		return v.(*Histogram)
	}
	sort.Float64s(buckets)
	hb := make([]histBucket, len(buckets))
	for i, b := range buckets {
		hb[i] = histBucket{le: b}
	}
	h := &Histogram{name: name, help: help, labels: labels, buckets: hb}
	actual, _ := c.histograms.LoadOrStore(key, h)
	return actual.(*Histogram)
}

// --- Prometheus text rendering ---

// Handler returns an http.HandlerFunc that renders metrics in Prometheus text format.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		c.WriteText(w)
	}
}

// WriteText writes every metric to w, sorted by series name.
func (c *MetricsCollector) WriteText(w io.Writer) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# HELP ariachat_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(&sb, "# TYPE ariachat_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "ariachat_uptime_seconds %d\n\n", int64(c.Uptime().Seconds()))

	var counters []*Counter
	c.counters.Range(func(_, value any) bool {
		counters = append(counters, value.(*Counter))
		return true
	})
	sort.Slice(counters, func(i, j int) bool {
		return seriesKey(counters[i].name, counters[i].labels) < seriesKey(counters[j].name, counters[j].labels)
	})
	helpWritten := make(map[string]bool)
	for _, ctr := range counters {
		writeHeader(&sb, helpWritten, ctr.name, ctr.help, "counter")
		fmt.Fprintf(&sb, "%s %d\n", seriesKey(ctr.name, ctr.labels), ctr.Value())
	}

	var gauges []*Gauge
	c.gauges.Range(func(_, value any) bool {
		gauges = append(gauges, value.(*Gauge))
		return true
	})
	sort.Slice(gauges, func(i, j int) bool {
		return seriesKey(gauges[i].name, gauges[i].labels) < seriesKey(gauges[j].name, gauges[j].labels)
	})
	helpWritten = make(map[string]bool)
	for _, g := range gauges {
		writeHeader(&sb, helpWritten, g.name, g.help, "gauge")
		fmt.Fprintf(&sb, "%s %d\n", seriesKey(g.name, g.labels), g.Value())
	}

	var histograms []*Histogram
	c.histograms.Range(func(_, value any) bool {
		histograms = append(histograms, value.(*Histogram))
		return true
	})
	sort.Slice(histograms, func(i, j int) bool { return histograms[i].name < histograms[j].name })
	for _, h := range histograms {
		h.writeText(&sb)
	}

	io.WriteString(w, sb.String())
}

func (h *Histogram) writeText(sb *strings.Builder) {
	h.mu.Lock()
	defer h.mu.Unlock()

	fmt.Fprintf(sb, "# HELP %s %s\n", h.name, h.help)
	fmt.Fprintf(sb, "# TYPE %s histogram\n", h.name)
	prefix := h.name + "_bucket{"
	if h.labels != "" {
		prefix += h.labels + ","
	}
	for _, b := range h.buckets {
		le := fmt.Sprintf("%g", b.le)
		if math.IsInf(b.le, 1) {
			le = "+Inf"
		}
		fmt.Fprintf(sb, "%sle=\"%s\"} %d\n", prefix, le, b.count)
	}
	fmt.Fprintf(sb, "%s %d\n", seriesKey(h.name+"_count", h.labels), h.count)
	fmt.Fprintf(sb, "%s %f\n", seriesKey(h.name+"_sum", h.labels), h.sum)
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func writeHeader(sb *strings.Builder, written map[string]bool, name, help, kind string) {
	if written[name] {
		return
	}
	fmt.Fprintf(sb, "# HELP %s %s\n", name, help)
	fmt.Fprintf(sb, "# TYPE %s %s\n", name, kind)
	written[name] = true
}

func seriesKey(name, labels string) string {
	if labels == "" {
		return name
	}
	return name + "{" + labels + "}"
}

// --- Pre-defined metrics used across the application ---

var (
	TurnsTotal        = Collector.Counter("ariachat_turns_total", "Chat turns sent", "")
	TurnErrors        = Collector.Counter("ariachat_turn_errors_total", "Chat turns that ended with a transport or service error", "")
	TurnsStopped      = Collector.Counter("ariachat_turns_stopped_total", "Chat turns ended by pause or session mismatch", "")
	EventsApplied     = Collector.Counter("ariachat_events_applied_total", "Progress events merged into the conversation", "")
	EventsDropped     = Collector.Counter("ariachat_events_dropped_total", "Progress events rejected by the session guard", "")
	ArtifactsReceived = Collector.Counter("ariachat_artifacts_total", "Artifacts received from the chat service", "")
	TitlesNegotiated  = Collector.Counter("ariachat_titles_total", "Conversation titles negotiated", "")
	ChatsSaved        = Collector.Counter("ariachat_chats_saved_total", "Conversations written to storage", "")
	ActiveTurns       = Collector.Gauge("ariachat_active_turns", "Chat turns currently streaming", "")

	TurnLatency = Collector.Histogram("ariachat_turn_latency_seconds", "Chat turn latency in seconds", "",
		[]float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300})
	TitleLatency = Collector.Histogram("ariachat_title_latency_seconds", "Title negotiation latency in seconds", "",
		[]float64{0.5, 1, 2, 5, 10, 30})
)
