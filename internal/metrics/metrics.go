package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics holds the Prometheus collectors of the alarm engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	FetchAttempts   *prometheus.CounterVec // labels: source, outcome
	CacheFallbacks  *prometheus.CounterVec // labels: source
	AlarmsEvaluated *prometheus.CounterVec // labels: kind, result
	AlarmsFired     *prometheus.CounterVec // labels: kind
	AlarmsActive    prometheus.Gauge
	CycleDuration   prometheus.Histogram
}

// New registers the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		FetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "criptoiq_fetch_attempts_total",
			Help: "Upstream fetch attempts by source and outcome",
		}, []string{"source", "outcome"}),
		CacheFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "criptoiq_fetch_cache_fallbacks_total",
			Help: "Fetches answered from a stale cache entry",
		}, []string{"source"}),
		AlarmsEvaluated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "criptoiq_alarms_evaluated_total",
			Help: "Alarm evaluations by kind and result",
		}, []string{"kind", "result"}),
		AlarmsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "criptoiq_alarms_fired_total",
			Help: "Alarms that fired",
		}, []string{"kind"}),
		AlarmsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "criptoiq_alarms_active",
			Help: "Alarms in the store at the start of the last cycle",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "criptoiq_cycle_duration_seconds",
			Help:    "Evaluation cycle latency",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
	}

	m.registry.MustRegister(
		m.FetchAttempts,
		m.CacheFallbacks,
		m.AlarmsEvaluated,
		m.AlarmsFired,
		m.AlarmsActive,
		m.CycleDuration,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) FetchAttempt(source, outcome string) {
	if m == nil {
		return
	}
	m.FetchAttempts.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) CacheFallback(source string) {
	if m == nil {
		return
	}
	m.CacheFallbacks.WithLabelValues(source).Inc()
}

// AlarmEvaluated counts one evaluation; result is fired, idle, skipped or failed.
func (m *Metrics) AlarmEvaluated(kind, result string) {
	if m == nil {
		return
	}
	m.AlarmsEvaluated.WithLabelValues(kind, result).Inc()
	if result == "fired" {
		m.AlarmsFired.WithLabelValues(kind).Inc()
	}
}

// CycleFinished records one cycle over active alarms.
func (m *Metrics) CycleFinished(active int, took time.Duration) {
	if m == nil {
		return
	}
	m.AlarmsActive.Set(float64(active))
	m.CycleDuration.Observe(took.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("metrics endpoint listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
