package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
)

type kind int

const (
	kindCounter kind = iota
	kindHistogram
)

type metric struct {
	help    string
	kind    kind
	buckets []float64
	series  map[string]*sample
}

type sample struct {
	labels  map[string]string
	count   uint64
	sum     float64
	perBkt  []uint64
	counter uint64
}

// Registry is a minimal Prometheus-text-format metric store. It only supports
// the counter and histogram shapes this service emits.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]*metric
}

func NewRegistry() *Registry {
	r := &Registry{metrics: make(map[string]*metric)}
	r.RegisterCounter("aira_sync_runs_total", "Reconciliation sub-pass runs by resource and status.")
	r.RegisterHistogram("aira_sync_duration_ms", "Reconciliation sub-pass duration in milliseconds by resource.", []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000})
	r.RegisterCounter("aira_sync_rows_corrected_total", "Rows closed or deactivated by reconciliation, by resource.")
	r.RegisterCounter("aira_media_operations_total", "Media server control API calls by operation and status.")
	r.RegisterHistogram("aira_media_operation_latency_ms", "Media server control API latency in milliseconds by operation and status.", []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000})
	r.RegisterCounter("aira_media_retries_total", "Media server control API retries by operation and reason.")
	r.RegisterCounter("aira_media_retry_exhausted_total", "Media server control API calls that exhausted retry attempts by operation.")
	r.RegisterCounter("aira_webhook_events_total", "Webhook events received by event type and status.")
	r.RegisterCounter("aira_job_runs_total", "Background job runs by job and status.")
	r.RegisterHistogram("aira_job_duration_ms", "Background job duration in milliseconds by job.", []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000})
	return r
}

func (r *Registry) RegisterCounter(name, help string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics[name] = &metric{help: help, kind: kindCounter, series: make(map[string]*sample)}
}

func (r *Registry) RegisterHistogram(name, help string, buckets []float64) {
	cp := append([]float64(nil), buckets...)
	sort.Float64s(cp)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics[name] = &metric{help: help, kind: kindHistogram, buckets: cp, series: make(map[string]*sample)}
}

func (r *Registry) IncCounter(name string, labels map[string]string) {
	r.AddCounter(name, 1, labels)
}

func (r *Registry) AddCounter(name string, delta uint64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.metrics[name]
	if !ok || m.kind != kindCounter {
		return
	}
	m.sampleFor(labels).counter += delta
}

func (r *Registry) ObserveHistogram(name string, value float64, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.metrics[name]
	if !ok || m.kind != kindHistogram {
		return
	}
	s := m.sampleFor(labels)
	if s.perBkt == nil {
		s.perBkt = make([]uint64, len(m.buckets)+1)
	}
	idx := len(m.buckets)
	for i, b := range m.buckets {
		if value <= b {
			idx = i
			break
		}
	}
	s.perBkt[idx]++
	s.count++
	s.sum += value
}

func (m *metric) sampleFor(labels map[string]string) *sample {
	key := labelsKey(labels)
	s := m.series[key]
	if s == nil {
		s = &sample{labels: cloneLabels(labels)}
		m.series[key] = s
	}
	return s
}

func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(r.Render()))
	})
}

func (r *Registry) Render() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.metrics))
	for name := range r.metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		m := r.metrics[name]
		typeName := "counter"
		if m.kind == kindHistogram {
			typeName = "histogram"
		}
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s %s\n", name, m.help, name, typeName)

		keys := make([]string, 0, len(m.series))
		for key := range m.series {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			s := m.series[key]
			if m.kind == kindCounter {
				writeLine(&b, name, s.labels, fmt.Sprintf("%d", s.counter))
				continue
			}
			var cumulative uint64
			for i, bktCount := range s.perBkt {
				cumulative += bktCount
				withLE := cloneLabels(s.labels)
				if i < len(m.buckets) {
					withLE["le"] = trimFloat(m.buckets[i])
				} else {
					withLE["le"] = "+Inf"
				}
				writeLine(&b, name+"_bucket", withLE, fmt.Sprintf("%d", cumulative))
			}
			writeLine(&b, name+"_sum", s.labels, trimFloat(s.sum))
			writeLine(&b, name+"_count", s.labels, fmt.Sprintf("%d", s.count))
		}
	}
	return b.String()
}

func writeLine(b *strings.Builder, name string, labels map[string]string, value string) {
	b.WriteString(name)
	if len(labels) > 0 {
		keys := make([]string, 0, len(labels))
		for key := range labels {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		b.WriteString("{")
		for i, key := range keys {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString(key)
			b.WriteString("=\"")
			b.WriteString(escapeLabel(labels[key]))
			b.WriteString("\"")
		}
		b.WriteString("}")
	}
	b.WriteString(" ")
	b.WriteString(value)
	b.WriteString("\n")
}

func labelsKey(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for key := range labels {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, key := range keys {
		b.WriteString(key)
		b.WriteString("=")
		b.WriteString(labels[key])
		b.WriteString(";")
	}
	return b.String()
}

func cloneLabels(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func escapeLabel(v string) string {
	v = strings.ReplaceAll(v, "\\", "\\\\")
	v = strings.ReplaceAll(v, "\n", "\\n")
	v = strings.ReplaceAll(v, "\"", "\\\"")
	return v
}

func trimFloat(v float64) string {
	s := fmt.Sprintf("%.6f", v)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "" {
		return "0"
	}
	return s
}

var (
	defaultMu       sync.Mutex
	defaultRegistry = NewRegistry()
)

func Default() *Registry {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	return defaultRegistry
}

func ResetDefaultForTest() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultRegistry = NewRegistry()
}
