// Package metrics wires the counter/gauge capability the core consumes to
// github.com/prometheus/client_golang.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Counter is a monotonically increasing value (RPCs sent, retries,
// classified errors, elections started/won).
type Counter interface {
	Inc()
	Add(delta float64)
}

// Gauge is a point-in-time value (current term, commit index, replication
// lag per peer, role).
type Gauge interface {
	Set(value float64)
	Add(delta float64)
}

// Metrics is the capability the raft core, transport and error handler
// depend on to report operational data, independent of any concrete
// metrics backend.
type Metrics interface {
	Counter(name string, labels prometheus.Labels) Counter
	Gauge(name string, labels prometheus.Labels) Gauge
}

// Prometheus is the default Metrics implementation. Vectors are created
// lazily and cached by metric name so callers don't need to pre-declare
// every label combination (peer ids, RPC kinds) up front.
type Prometheus struct {
	registry *prometheus.Registry

	mu       sync.Mutex
	counters map[string]*prometheus.CounterVec
	gauges   map[string]*prometheus.GaugeVec
}

// NewPrometheus constructs a Metrics backed by a fresh registry.
func NewPrometheus(registry *prometheus.Registry) *Prometheus {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	return &Prometheus{
		registry: registry,
		counters: make(map[string]*prometheus.CounterVec),
		gauges:   make(map[string]*prometheus.GaugeVec),
	}
}

// Registry exposes the underlying prometheus.Registry for scraping.
func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

func (p *Prometheus) Counter(name string, labels prometheus.Labels) Counter {
	p.mu.Lock()
	vec, ok := p.counters[name]
	if !ok {
		names := labelNames(labels)
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: name,
			Help: "kythira/raft counter: " + name,
		}, names)
		p.registry.MustRegister(vec)
		p.counters[name] = vec
	}
	p.mu.Unlock()
	return vec.With(labels)
}

func (p *Prometheus) Gauge(name string, labels prometheus.Labels) Gauge {
	p.mu.Lock()
	vec, ok := p.gauges[name]
	if !ok {
		names := labelNames(labels)
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: name,
			Help: "kythira/raft gauge: " + name,
		}, names)
		p.registry.MustRegister(vec)
		p.gauges[name] = vec
	}
	p.mu.Unlock()
	return vec.With(labels)
}

func labelNames(labels prometheus.Labels) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	return names
}

// Nop is a Metrics implementation that discards everything, used by tests
// that don't assert on metrics.
type Nop struct{}

type nopInstrument struct{}

func (nopInstrument) Inc()        {}
func (nopInstrument) Add(float64) {}
func (nopInstrument) Set(float64) {}

func (Nop) Counter(string, prometheus.Labels) Counter { return nopInstrument{} }
func (Nop) Gauge(string, prometheus.Labels) Gauge     { return nopInstrument{} }
