// Package metrics keeps the process counters Jarvis reports on /metrics
// (Prometheus text format) and in the /admin stats and health replies.
package metrics

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"slices"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide registry.
var Collector = NewRegistry()

type kind string

const (
	kindCounter   kind = "counter"
	kindGauge     kind = "gauge"
	kindHistogram kind = "histogram"
)

// family groups the series sharing one metric name.
type family struct {
	name   string
	help   string
	kind   kind
	series map[string]any // labels -> *Counter | *Gauge | *Histogram
}

// Registry owns every metric family. Series are created on first use and
// live for the life of the process.
type Registry struct {
	mu       sync.Mutex
	families map[string]*family
	started  time.Time
}

func NewRegistry() *Registry {
	return &Registry{families: make(map[string]*family), started: time.Now()}
}

// Uptime is the time since the registry was created.
func (r *Registry) Uptime() time.Duration { return time.Since(r.started) }

// series returns the series of name with labels, building it with mk when
// absent. Registering a name twice with another kind panics.
func (r *Registry) series(name, help string, k kind, labels string, mk func() any) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.families[name]
	if !ok {
		f = &family{name: name, help: help, kind: k, series: make(map[string]any)}
		r.families[name] = f
	} else if f.kind != k {
		panic(fmt.Sprintf("metrics: %s registered as %s and %s", name, f.kind, k))
	}
	s, ok := f.series[labels]
	if !ok {
		s = mk()
		f.series[labels] = s
	}
	return s
}

// Counter only goes up.
type Counter struct{ v atomic.Int64 }

func (c *Counter) Inc()         { c.v.Add(1) }
func (c *Counter) Add(n int64)  { c.v.Add(n) }
func (c *Counter) Value() int64 { return c.v.Load() }

// Gauge tracks a level such as dispatches in flight.
type Gauge struct{ v atomic.Int64 }

func (g *Gauge) Inc()         { g.v.Add(1) }
func (g *Gauge) Dec()         { g.v.Add(-1) }
func (g *Gauge) Value() int64 { return g.v.Load() }

// Histogram counts observations into cumulative buckets.
type Histogram struct {
	mu     sync.Mutex
	bounds []float64
	counts []int64 // counts[i]: observations <= bounds[i]
	total  int64
	sum    float64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.total++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.counts[i]++
		}
	}
}

func (r *Registry) Counter(name, help, labels string) *Counter {
	return r.series(name, help, kindCounter, labels, func() any { return new(Counter) }).(*Counter)
}

func (r *Registry) Gauge(name, help, labels string) *Gauge {
	return r.series(name, help, kindGauge, labels, func() any { return new(Gauge) }).(*Gauge)
}

func (r *Registry) Histogram(name, help, labels string, bounds []float64) *Histogram {
	return r.series(name, help, kindHistogram, labels, func() any {
		b := slices.Clone(bounds)
		sort.Float64s(b)
		return &Histogram{bounds: b, counts: make([]int64, len(b))}
	}).(*Histogram)
}

// Snapshot returns counter and gauge values keyed by name{labels}, for
// example jarvis_dispatch_total{lane="llm"}.
func (r *Registry) Snapshot() map[string]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int64)
	for _, f := range r.families {
		for labels, s := range f.series {
			switch v := s.(type) {
			case *Counter:
				out[f.name+"{"+labels+"}"] = v.Value()
			case *Gauge:
				out[f.name+"{"+labels+"}"] = v.Value()
			}
		}
	}
	return out
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		bw := bufio.NewWriter(w)
		r.WriteText(bw)
		bw.Flush()
	}
}

// WriteText renders every family sorted by name, then by labels.
func (r *Registry) WriteText(w io.Writer) {
	fmt.Fprintf(w, "# HELP jarvis_uptime_seconds Time since start in seconds\n# TYPE jarvis_uptime_seconds gauge\njarvis_uptime_seconds %d\n", int64(r.Uptime().Seconds()))

	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.families))
	for name := range r.families {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		f := r.families[name]
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", f.name, f.help, f.name, f.kind)
		labelSets := make([]string, 0, len(f.series))
		for l := range f.series {
			labelSets = append(labelSets, l)
		}
		sort.Strings(labelSets)

		for _, labels := range labelSets {
			switch v := f.series[labels].(type) {
			case *Counter:
				fmt.Fprintf(w, "%s%s %d\n", f.name, braces(labels), v.Value())
			case *Gauge:
				fmt.Fprintf(w, "%s%s %d\n", f.name, braces(labels), v.Value())
			case *Histogram:
				writeHistogram(w, f.name, labels, v)
			}
		}
	}
}

func writeHistogram(w io.Writer, name, labels string, h *Histogram) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sep := ""
	if labels != "" {
		sep = ","
	}
	for i, le := range h.bounds {
		fmt.Fprintf(w, "%s_bucket{%s%sle=%q} %d\n", name, labels, sep, strconv.FormatFloat(le, 'g', -1, 64), h.counts[i])
	}
	fmt.Fprintf(w, "%s_bucket{%s%sle=\"+Inf\"} %d\n", name, labels, sep, h.total)
	fmt.Fprintf(w, "%s_count%s %d\n", name, braces(labels), h.total)
	fmt.Fprintf(w, "%s_sum%s %g\n", name, braces(labels), h.sum)
}

func braces(labels string) string {
	if labels == "" {
		return ""
	}
	return "{" + labels + "}"
}

// Lane counts replies per processing lane (command, shortcut, llm, voice, document).
func Lane(name string) *Counter {
	return Collector.Counter("jarvis_dispatch_total", "Messages answered per processing lane", `lane="`+name+`"`)
}

// Drop counts messages stopped by a gate without a reply.
func Drop(reason string) *Counter {
	return Collector.Counter("jarvis_dropped_total", "Messages dropped without reply", `reason="`+reason+`"`)
}

var (
	MessagesReceived = Collector.Counter("jarvis_messages_received_total", "Inbound messages received", "")
	MessagesSent     = Collector.Counter("jarvis_messages_sent_total", "Outbound messages sent", "")
	SendFailures     = Collector.Counter("jarvis_send_failures_total", "Outbound sends that failed", "")
	DispatchErrors   = Collector.Counter("jarvis_dispatch_errors_total", "Dispatches answered with the generic apology", "")
	LLMRequestsTotal = Collector.Counter("jarvis_llm_requests_total", "LLM requests sent", "")
	LLMRetries       = Collector.Counter("jarvis_llm_retries_total", "Provider requests retried after a transient failure", "")
	Transcriptions   = Collector.Counter("jarvis_transcriptions_total", "Voice messages transcribed", "")
	ActiveDispatches = Collector.Gauge("jarvis_active_dispatches", "Dispatches currently in flight", "")

	LLMLatency = Collector.Histogram("jarvis_llm_latency_seconds", "LLM request latency in seconds", "",
		[]float64{0.5, 1, 2, 5, 10, 30, 60, 120})
	DispatchLatency = Collector.Histogram("jarvis_dispatch_latency_seconds", "Time from receipt to last reply", "",
		[]float64{1, 2, 5, 10, 20, 30, 60})
)
