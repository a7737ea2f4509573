// Package metrics accumulates counters, gauges and histograms under a
// fixed default label set and renders point-in-time snapshots in the
// Prometheus text exposition format.
package metrics

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/zap"

	"github.com/signalpost/signalpost-go/core"
)

// namePrefix namespaces every metric registered through the registry
const namePrefix = "signalpost_"

// DefaultBuckets is the fixed exponential bucket sequence used by
// histograms created without explicit buckets, anchored at 5ms.
var DefaultBuckets = prometheus.ExponentialBuckets(0.005, 2, 14)

type metricKind string

const (
	kindCounter   metricKind = "counter"
	kindGauge     metricKind = "gauge"
	kindHistogram metricKind = "histogram"
)

// Registry is an in-memory collection of named, labeled metrics.
// Default labels (service identity plus caller-supplied tags) are
// attached once at construction so every metric automatically carries
// them without per-call repetition.
//
// Creation returns a typed handle; the string-named Increment/Set/
// Observe operations resolve through the handle table and report an
// unknown name as a caller error rather than crashing.
type Registry struct {
	cfg    *core.Config
	logger *zap.Logger

	prom       *prometheus.Registry
	registerer prometheus.Registerer

	mu         sync.RWMutex
	kinds      map[string]metricKind
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram

	sampler *Sampler
}

// NewRegistry builds a registry carrying the configured default labels.
// The process-wide Go runtime and process collectors are registered so
// heap/CPU figures appear in snapshots without further wiring.
func NewRegistry(cfg *core.Config, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("metrics")

	prom := prometheus.NewRegistry()
	registerer := prometheus.WrapRegistererWith(defaultLabels(cfg), prom)
	registerer.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Registry{
		cfg:        cfg,
		logger:     logger,
		prom:       prom,
		registerer: registerer,
		kinds:      make(map[string]metricKind),
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
		sampler:    NewSampler(logger),
	}
}

func defaultLabels(cfg *core.Config) prometheus.Labels {
	labels := prometheus.Labels{
		"service":     cfg.ServiceName,
		"version":     cfg.ServiceVersion,
		"environment": cfg.Environment,
	}
	for k, v := range cfg.DefaultLabels {
		labels[k] = v
	}
	return labels
}

// prefixed namespaces a metric name unless the caller already did
func prefixed(name string) string {
	if strings.HasPrefix(name, namePrefix) {
		return name
	}
	return namePrefix + name
}

// Counter is the capability handle returned by CreateCounter
type Counter struct {
	name string
	vec  *prometheus.CounterVec
}

// Inc adds amount to the counter under the given label values.
// The label set must supply exactly the names fixed at creation.
func (c *Counter) Inc(labels map[string]string, amount float64) error {
	m, err := c.vec.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		return labelError(c.name, err)
	}
	m.Add(amount)
	return nil
}

// Gauge is the capability handle returned by CreateGauge
type Gauge struct {
	name string
	vec  *prometheus.GaugeVec
}

// Set records the value under the given label values, last write wins
func (g *Gauge) Set(labels map[string]string, value float64) error {
	m, err := g.vec.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		return labelError(g.name, err)
	}
	m.Set(value)
	return nil
}

// Histogram is the capability handle returned by CreateHistogram
type Histogram struct {
	name string
	vec  *prometheus.HistogramVec
}

// Observe records one observation under the given label values
func (h *Histogram) Observe(labels map[string]string, value float64) error {
	m, err := h.vec.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		return labelError(h.name, err)
	}
	m.Observe(value)
	return nil
}

func labelError(name string, err error) error {
	return &core.Error{
		Op:      "metrics." + name,
		Kind:    core.KindMetric,
		Message: err.Error(),
		Err:     core.ErrLabelMismatch,
	}
}

// CreateCounter registers a new counter and returns its handle.
// A name collision within the registry is a caller error.
func (r *Registry) CreateCounter(name, help string, labelNames []string) (*Counter, error) {
	name = prefixed(name)
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labelNames)
	if err := r.register(name, kindCounter, vec); err != nil {
		return nil, err
	}
	handle := &Counter{name: name, vec: vec}
	r.mu.Lock()
	r.counters[name] = handle
	r.mu.Unlock()
	return handle, nil
}

// CreateGauge registers a new gauge and returns its handle
func (r *Registry) CreateGauge(name, help string, labelNames []string) (*Gauge, error) {
	name = prefixed(name)
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labelNames)
	if err := r.register(name, kindGauge, vec); err != nil {
		return nil, err
	}
	handle := &Gauge{name: name, vec: vec}
	r.mu.Lock()
	r.gauges[name] = handle
	r.mu.Unlock()
	return handle, nil
}

// CreateHistogram registers a new histogram and returns its handle.
// With no explicit buckets the fixed exponential default sequence is
// used. Buckets are fixed at creation and must ascend.
func (r *Registry) CreateHistogram(name, help string, labelNames []string, buckets []float64) (*Histogram, error) {
	name = prefixed(name)
	if len(buckets) == 0 {
		buckets = DefaultBuckets
	}
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets}, labelNames)
	if err := r.register(name, kindHistogram, vec); err != nil {
		return nil, err
	}
	handle := &Histogram{name: name, vec: vec}
	r.mu.Lock()
	r.histograms[name] = handle
	r.mu.Unlock()
	return handle, nil
}

func (r *Registry) register(name string, kind metricKind, collector prometheus.Collector) error {
	r.mu.Lock()
	_, exists := r.kinds[name]
	if !exists {
		r.kinds[name] = kind
	}
	r.mu.Unlock()

	if exists {
		return &core.Error{
			Op:      "metrics.register",
			Kind:    core.KindMetric,
			Message: fmt.Sprintf("metric %q already registered", name),
			Err:     core.ErrMetricRegistered,
		}
	}

	if err := r.registerer.Register(collector); err != nil {
		r.mu.Lock()
		delete(r.kinds, name)
		r.mu.Unlock()
		return &core.Error{
			Op:      "metrics.register",
			Kind:    core.KindMetric,
			Message: err.Error(),
			Err:     core.ErrMetricRegistered,
		}
	}
	return nil
}

// Increment adds amount (1 when zero) to a counter by name.
// An unregistered name is reported as metric-not-found, never a crash.
func (r *Registry) Increment(name string, labels map[string]string, amount float64) error {
	if amount == 0 {
		amount = 1
	}
	r.mu.RLock()
	handle, ok := r.counters[prefixed(name)]
	r.mu.RUnlock()
	if !ok {
		return r.notFound(name, kindCounter)
	}
	return handle.Inc(labels, amount)
}

// Set records a gauge value by name
func (r *Registry) Set(name string, labels map[string]string, value float64) error {
	r.mu.RLock()
	handle, ok := r.gauges[prefixed(name)]
	r.mu.RUnlock()
	if !ok {
		return r.notFound(name, kindGauge)
	}
	return handle.Set(labels, value)
}

// Observe records a histogram observation by name
func (r *Registry) Observe(name string, labels map[string]string, value float64) error {
	r.mu.RLock()
	handle, ok := r.histograms[prefixed(name)]
	r.mu.RUnlock()
	if !ok {
		return r.notFound(name, kindHistogram)
	}
	return handle.Observe(labels, value)
}

func (r *Registry) notFound(name string, kind metricKind) error {
	return &core.Error{
		Op:      "metrics." + string(kind),
		Kind:    core.KindMetric,
		Message: fmt.Sprintf("no %s named %q", kind, prefixed(name)),
		Err:     core.ErrMetricNotFound,
	}
}

// Snapshot renders the full text exposition of the registry.
// It reflects every recording made strictly before the call.
func (r *Registry) Snapshot() (string, error) {
	families, err := r.prom.Gather()
	if err != nil {
		return "", &core.Error{Op: "metrics.Snapshot", Kind: core.KindMetric, Err: err}
	}

	var buf bytes.Buffer
	encoder := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range families {
		if err := encoder.Encode(family); err != nil {
			return "", &core.Error{Op: "metrics.Snapshot", Kind: core.KindMetric, Err: err}
		}
	}
	return buf.String(), nil
}

// Gatherer exposes the underlying registry for an exposition HTTP
// handler (promhttp.HandlerFor).
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.prom
}

// StartPeriodicSampling begins recurring background sampling of
// process-level figures at the given cadence. Samples are published as
// events to subscribers rather than written into the registry, so
// observers subscribe independently. A second call without a stop is a
// caller error surfaced as a warning; the call is ignored.
func (r *Registry) StartPeriodicSampling(interval time.Duration) error {
	return r.sampler.Start(interval)
}

// StopPeriodicSampling stops the recurring sampler if running; idempotent
func (r *Registry) StopPeriodicSampling() {
	r.sampler.Stop()
}

// SubscribeSystemSamples registers an observer of periodic samples
func (r *Registry) SubscribeSystemSamples() <-chan SystemSample {
	return r.sampler.Subscribe()
}
