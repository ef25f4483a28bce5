package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/0xmhha/tpsbench/internal/dispatcher"
	"github.com/0xmhha/tpsbench/internal/logging"
)

// Metrics holds the Prometheus metrics of a benchmark run. It implements
// dispatcher.Observer.
type Metrics struct {
	registry *prometheus.Registry
	logger   *zap.Logger

	// Transaction counters
	TxSent   prometheus.Counter
	TxFailed prometheus.Counter

	// Boundary (head/tail) tracking, labelled by position
	BoundaryRetryTotal     *prometheus.CounterVec
	BoundaryExhaustedTotal *prometheus.CounterVec

	// Tail submission to observed finality (buckets: 100ms .. 2m)
	FinalityLatency prometheus.Histogram

	// Whole batch dispatch duration
	BatchDuration prometheus.Histogram

	// Gauges for current state
	WindowTPS  prometheus.Gauge
	CurrentTPS prometheus.Gauge

	// Pipeline stage duration histogram
	StageDuration *prometheus.HistogramVec

	// HTTP server
	server *http.Server
	mu     sync.Mutex
}

var _ dispatcher.Observer = (*Metrics)(nil)

// NewMetrics creates a new Metrics instance on its own registry
func NewMetrics(namespace string, logger *zap.Logger) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		logger:   logging.OrNop(logger),
		TxSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_sent_total",
			Help:      "Total number of transactions accepted by the node",
		}),
		TxFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tx_failed_total",
			Help:      "Total number of transactions rejected or dropped",
		}),
		BoundaryRetryTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "boundary_retries_total",
			Help:      "Retried head/tail submissions and waits",
		}, []string{"position"}),
		BoundaryExhaustedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "boundary_exhausted_total",
			Help:      "Head/tail transactions given up after the retry budget",
		}, []string{"position"}),
		FinalityLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "finality_latency_seconds",
			Help:      "Tail transaction submission to finality in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		BatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Duration of one batch dispatch in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}),
		WindowTPS: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "window_tps",
			Help:      "Accepted transactions per second of the measurement window",
		}),
		CurrentTPS: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_tps",
			Help:      "Current submission rate in transactions per second",
		}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}, []string{"stage"}),
	}
}

// Registry returns the registry the metrics are registered on
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Start starts the HTTP server for Prometheus metrics
func (m *Metrics) Start(_ context.Context, port int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.server != nil {
		return fmt.Errorf("metrics server already running")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	m.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv := m.server
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("metrics server error", zap.Error(err))
		}
	}()

	m.logger.Info("metrics server started", zap.String("addr", srv.Addr))
	return nil
}

// Stop stops the HTTP server gracefully
func (m *Metrics) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.server == nil {
		return nil
	}

	err := m.server.Shutdown(ctx)
	m.server = nil
	return err
}

// IsRunning returns true if the metrics server is running
func (m *Metrics) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.server != nil
}

// TxsSent implements dispatcher.Observer
func (m *Metrics) TxsSent(n int) {
	m.TxSent.Add(float64(n))
}

// TxsFailed implements dispatcher.Observer
func (m *Metrics) TxsFailed(n int) {
	m.TxFailed.Add(float64(n))
}

// BoundaryRetried implements dispatcher.Observer
func (m *Metrics) BoundaryRetried(pos dispatcher.Position) {
	m.BoundaryRetryTotal.WithLabelValues(pos.String()).Inc()
}

// BoundaryExhausted implements dispatcher.Observer
func (m *Metrics) BoundaryExhausted(pos dispatcher.Position) {
	m.BoundaryExhaustedTotal.WithLabelValues(pos.String()).Inc()
}

// TailFinalized implements dispatcher.Observer
func (m *Metrics) TailFinalized(latency time.Duration) {
	m.FinalityLatency.Observe(latency.Seconds())
}

// BatchDispatched implements dispatcher.Observer
func (m *Metrics) BatchDispatched(d time.Duration) {
	m.BatchDuration.Observe(d.Seconds())
}

// SetWindowTPS sets the measurement window TPS gauge
func (m *Metrics) SetWindowTPS(tps float64) {
	m.WindowTPS.Set(tps)
}

// SetCurrentTPS sets the current submission rate gauge
func (m *Metrics) SetCurrentTPS(tps float64) {
	m.CurrentTPS.Set(tps)
}

// RecordStageDuration records the duration of a pipeline stage
func (m *Metrics) RecordStageDuration(stage string, duration time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}
