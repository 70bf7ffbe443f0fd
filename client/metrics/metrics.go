// Package metrics instruments an executor with Prometheus collectors:
// request counts and latencies by status, connection errors by kind,
// retries, and pool occupancy.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/adamwoolhether/hostclient/client/errs"
	"github.com/adamwoolhether/hostclient/client/pool"
	"github.com/adamwoolhether/hostclient/client/retry"
)

const namespace = "hostclient"

// Metrics holds the collectors of one executor.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlight        prometheus.Gauge
	ErrorsTotal     *prometheus.CounterVec
	RetriesTotal    *prometheus.CounterVec

	factory promauto.Factory
	labels  prometheus.Labels
}

// New registers the collectors with registerer. name distinguishes
// executors sharing one registry.
func New(registerer prometheus.Registerer, name string) *Metrics {
	factory := promauto.With(registerer)
	labels := prometheus.Labels{"executor": name}

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "requests_total",
				Help:        "Total number of completed outbound requests",
				ConstLabels: labels,
			},
			[]string{"code", "method"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Name:        "request_duration_seconds",
				Help:        "Outbound request latencies in seconds, up to response headers",
				Buckets:     prometheus.DefBuckets,
				ConstLabels: labels,
			},
			[]string{"code", "method"},
		),
		InFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Name:        "requests_in_flight",
				Help:        "Number of outbound requests awaiting response headers",
				ConstLabels: labels,
			},
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "connection_errors_total",
				Help:        "Total number of failed outbound requests by error kind",
				ConstLabels: labels,
			},
			[]string{"kind"},
		),
		RetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "retries_total",
				Help:        "Total number of re-issued requests",
				ConstLabels: labels,
			},
			[]string{"method"},
		),

		factory: factory,
		labels:  labels,
	}
}

// InstrumentRoundTripper wraps next so every request is counted, timed,
// and its failures classified.
func (m *Metrics) InstrumentRoundTripper(next http.RoundTripper) http.RoundTripper {
	rt := promhttp.InstrumentRoundTripperInFlight(m.InFlight,
		promhttp.InstrumentRoundTripperCounter(m.RequestsTotal,
			promhttp.InstrumentRoundTripperDuration(m.RequestDuration, next),
		),
	)

	return promhttp.RoundTripperFunc(func(req *http.Request) (*http.Response, error) {
		resp, err := rt.RoundTrip(req)
		if err != nil {
			m.ErrorsTotal.WithLabelValues(kindLabel(err)).Inc()
		}
		return resp, err
	})
}

func kindLabel(err error) string {
	var connErr *errs.ConnectionError
	if errors.As(err, &connErr) {
		return connErr.Kind.String()
	}

	var cfgErr *errs.ConfigError
	if errors.As(err, &cfgErr) {
		return "config"
	}

	return "other"
}

// RetryHook counts re-issued attempts.
func (m *Metrics) RetryHook() retry.Hook {
	return func(req *http.Request, _ int, _ error) {
		m.RetriesTotal.WithLabelValues(req.Method).Inc()
	}
}

// ObservePool exports leased and idle connection gauges read from stats on
// every scrape.
func (m *Metrics) ObservePool(stats func() pool.Stats) {
	m.factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "pool",
			Name:        "leased_connections",
			Help:        "Connections currently leased from the pool",
			ConstLabels: m.labels,
		},
		func() float64 { return float64(stats().Leased) },
	)
	m.factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "pool",
			Name:        "idle_connections",
			Help:        "Idle connections kept for reuse",
			ConstLabels: m.labels,
		},
		func() float64 { return float64(stats().Idle) },
	)
	m.factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "pool",
			Name:        "max_connections",
			Help:        "Total connection cap of the pool",
			ConstLabels: m.labels,
		},
		func() float64 { return float64(stats().MaxTotal) },
	)
}
