// Package metrics exposes relay counters in Prometheus format. All methods
// are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mediarelay/internal/model"
)

const namespace = "mediarelay"

// Metrics holds the relay's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	Cycles           prometheus.Counter
	CycleDuration    prometheus.Histogram
	Delivered        *prometheus.CounterVec
	DeliveryFailures prometheus.Counter
	FetchFailures    prometheus.Counter
	SourceErrors     *prometheus.CounterVec
	RetryQueueDepth  prometheus.Gauge
	PersistFailures  prometheus.Counter
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Cycles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Poll cycles completed.",
		}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a full poll cycle.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		Delivered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivered_total",
			Help:      "Media files delivered, by kind.",
		}, []string{"kind"}),
		DeliveryFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Deliveries that failed and were queued for retry.",
		}),
		FetchFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_failures_total",
			Help:      "Media downloads that failed.",
		}),
		SourceErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_errors_total",
			Help:      "Source listings that failed, by source.",
		}, []string{"source"}),
		RetryQueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "retry_queue_depth",
			Help:      "Failed deliveries waiting for retry.",
		}),
		PersistFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "State persistence attempts that failed.",
		}),
	}
}

// Handler returns the /metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes the handler on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, log *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ObserveCycle records one finished poll cycle.
func (m *Metrics) ObserveCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.Cycles.Inc()
	m.CycleDuration.Observe(d.Seconds())
}

// ObserveDelivered counts one successful delivery.
func (m *Metrics) ObserveDelivered(kind model.Kind) {
	if m == nil {
		return
	}
	m.Delivered.WithLabelValues(string(kind)).Inc()
}

// ObserveDeliveryFailure counts one failed delivery.
func (m *Metrics) ObserveDeliveryFailure() {
	if m == nil {
		return
	}
	m.DeliveryFailures.Inc()
}

// ObserveFetchFailures counts n failed downloads.
func (m *Metrics) ObserveFetchFailures(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FetchFailures.Add(float64(n))
}

// ObserveSourceError counts one failed listing.
func (m *Metrics) ObserveSourceError(src model.Source) {
	if m == nil {
		return
	}
	m.SourceErrors.WithLabelValues(string(src)).Inc()
}

// SetRetryQueueDepth reports the current retry queue length.
func (m *Metrics) SetRetryQueueDepth(n int) {
	if m == nil {
		return
	}
	m.RetryQueueDepth.Set(float64(n))
}

// ObservePersistFailure counts one failed persistence pass.
func (m *Metrics) ObservePersistFailure() {
	if m == nil {
		return
	}
	m.PersistFailures.Inc()
}
