package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"multicallgofer/internal/multicall"
)

const Namespace = "multicallgofer"

// Metricer is the set of measurements recorded across the aggregation pipeline
type Metricer interface {
	RecordInfo(version string)
	RecordUp()

	// RecordResolve records one resolution: input size and unique keys actually sent
	RecordResolve(calls int, unique int)
	// RecordFetch starts timing one batch request
	RecordFetch(calls int) (onDone func(err error))
	RecordHeight(height uint64)

	RecordUpstreamRequest(upstream string, method string) (onDone func(err error))
	RecordServerRequest(method string) (onDone func(err error))
}

type Metrics struct {
	ns       string
	registry *prometheus.Registry
	factory  promauto.Factory

	info prometheus.GaugeVec
	up   prometheus.Gauge

	resolvedCalls    prometheus.Counter
	uniqueCalls      prometheus.Counter
	fetchesTotal     *prometheus.CounterVec
	fetchDuration    prometheus.Histogram
	latestHeight     prometheus.Gauge
	upstreamRequests *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	serverRequests   *prometheus.CounterVec
	serverDuration   *prometheus.HistogramVec
}

var _ Metricer = (*Metrics)(nil)

func NewMetrics(procName string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())
	return newMetrics(procName, registry)
}

func newMetrics(procName string, registry *prometheus.Registry) *Metrics {
	if procName == "" {
		procName = "default"
	}
	ns := Namespace + "_" + procName

	factory := promauto.With(registry)
	durationBuckets := []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

	return &Metrics{
		ns:       ns,
		registry: registry,
		factory:  factory,

		info: *factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "info",
			Help:      "Pseudo-metric tracking version and config info",
		}, []string{
			"version",
		}),
		up: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "up",
			Help:      "1 if multicallgofer has finished starting up",
		}),

		resolvedCalls: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "resolved_calls_total",
			Help:      "Count of calls passed to the aggregator, including absent ones",
		}),
		uniqueCalls: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "unique_calls_total",
			Help:      "Count of deduplicated calls sent to the multicall endpoint",
		}),
		fetchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "fetches_total",
			Help:      "Count of batch requests by outcome",
		}, []string{"result"}),
		fetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "fetch_duration_seconds",
			Buckets:   durationBuckets,
			Help:      "Duration of batch requests",
		}),
		latestHeight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "latest_height",
			Help:      "Latest reference height after the safety margin",
		}),
		upstreamRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Count of upstream JSON-RPC requests",
		}, []string{"upstream", "method", "error"}),
		upstreamDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Buckets:   durationBuckets,
			Help:      "Histogram of upstream request durations",
		}, []string{"upstream", "method"}),
		serverRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: "server",
			Name:      "requests_total",
			Help:      "Count of served JSON-RPC requests",
		}, []string{"method", "error"}),
		serverDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: "server",
			Name:      "request_duration_seconds",
			Buckets:   durationBuckets,
			Help:      "Histogram of served request durations",
		}, []string{"method"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordInfo sets a pseudo-metric that contains versioning and config info.
func (m *Metrics) RecordInfo(version string) {
	m.info.WithLabelValues(version).Set(1)
}

// RecordUp sets the up metric to 1.
func (m *Metrics) RecordUp() {
	m.up.Set(1)
}

func (m *Metrics) RecordResolve(calls int, unique int) {
	m.resolvedCalls.Add(float64(calls))
	m.uniqueCalls.Add(float64(unique))
}

func (m *Metrics) RecordFetch(calls int) (onDone func(err error)) {
	timer := prometheus.NewTimer(m.fetchDuration)
	return func(err error) {
		timer.ObserveDuration()
		m.fetchesTotal.WithLabelValues(fetchResult(err)).Inc()
	}
}

func (m *Metrics) RecordHeight(height uint64) {
	m.latestHeight.Set(float64(height))
}

func (m *Metrics) RecordUpstreamRequest(upstream string, method string) (onDone func(err error)) {
	timer := prometheus.NewTimer(m.upstreamDuration.WithLabelValues(upstream, method))
	return func(err error) {
		timer.ObserveDuration()
		m.upstreamRequests.WithLabelValues(upstream, method, errLabel(err)).Inc()
	}
}

func (m *Metrics) RecordServerRequest(method string) (onDone func(err error)) {
	timer := prometheus.NewTimer(m.serverDuration.WithLabelValues(method))
	return func(err error) {
		timer.ObserveDuration()
		m.serverRequests.WithLabelValues(method, errLabel(err)).Inc()
	}
}

func fetchResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, multicall.ErrStaleResponse):
		return "stale"
	case errors.Is(err, multicall.ErrTransportFailure):
		return "transport"
	default:
		return "canceled"
	}
}

func errLabel(err error) string {
	if err != nil {
		return "true"
	}
	return "false"
}
