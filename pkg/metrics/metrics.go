// Package metrics exposes Prometheus counters for a target run.
//
// Every Collector owns a private registry so that tests and embedded runs do
// not collide on the global default registerer. The CLI serves Registry()
// through promhttp when a metrics address is configured.
//
// # Basic Usage
//
//	m := metrics.New()
//	m.RowsAccepted("users", 1)
//	timer := m.StartLoad("users")
//	err := submit(ctx)
//	timer.Stop(err)
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ajitpratap0/target-bigquery/pkg/logger"
)

const namespace = "target_bigquery"

// Outcome labels used on load job metrics.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Collector records per-stream ingestion metrics.
type Collector struct {
	registry *prometheus.Registry

	rowsAccepted *prometheus.CounterVec
	rowsInvalid  *prometheus.CounterVec
	rowsStaged   *prometheus.CounterVec
	loadJobs     *prometheus.CounterVec
	loadDuration *prometheus.HistogramVec
	appendErrors *prometheus.CounterVec
	messages     *prometheus.CounterVec
	streams      prometheus.Gauge
}

// New creates a Collector with its own registry. Go runtime and process
// collectors are registered alongside the target metrics.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		rowsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_accepted_total",
			Help:      "Records accepted by the validator, per stream.",
		}, []string{"stream"}),
		rowsInvalid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_invalid_total",
			Help:      "Records that failed validation, per stream and policy.",
		}, []string{"stream", "policy"}),
		rowsStaged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_committed_total",
			Help:      "Rows handed to the warehouse, per stream.",
		}, []string{"stream"}),
		loadJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "load_jobs_total",
			Help:      "Load jobs submitted, per stream and outcome.",
		}, []string{"stream", "outcome"}),
		loadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "load_job_duration_seconds",
			Help:      "Wall time from load submission to completion.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"stream"}),
		appendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "append_errors_total",
			Help:      "Row inserts rejected by the warehouse, per stream.",
		}, []string{"stream"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Input messages processed, per message type.",
		}, []string{"type"}),
		streams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_registered",
			Help:      "Streams registered during the current run.",
		}),
	}

	c.registry.MustRegister(
		c.rowsAccepted,
		c.rowsInvalid,
		c.rowsStaged,
		c.loadJobs,
		c.loadDuration,
		c.appendErrors,
		c.messages,
		c.streams,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the registry backing c.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Serve exposes /metrics on addr in the background. The returned function
// shuts the server down.
func (c *Collector) Serve(addr string, log *zap.Logger) func(context.Context) error {
	log = logger.OrNop(log)
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("starting metrics server", zap.String("addr", addr))
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()

	return server.Shutdown
}

// Message counts one processed input message of the given type.
func (c *Collector) Message(kind string) {
	if c == nil {
		return
	}
	c.messages.WithLabelValues(kind).Inc()
}

// StreamRegistered sets the number of known streams.
func (c *Collector) StreamRegistered(total int) {
	if c == nil {
		return
	}
	c.streams.Set(float64(total))
}

// RowsAccepted adds n accepted rows for stream.
func (c *Collector) RowsAccepted(stream string, n int) {
	if c == nil {
		return
	}
	c.rowsAccepted.WithLabelValues(stream).Add(float64(n))
}

// RowInvalid counts one invalid record handled under policy.
func (c *Collector) RowInvalid(stream, policy string) {
	if c == nil {
		return
	}
	c.rowsInvalid.WithLabelValues(stream, policy).Inc()
}

// RowsCommitted adds n rows that reached the warehouse for stream.
func (c *Collector) RowsCommitted(stream string, n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.rowsStaged.WithLabelValues(stream).Add(float64(n))
}

// AppendErrors adds n rejected row inserts for stream.
func (c *Collector) AppendErrors(stream string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.appendErrors.WithLabelValues(stream).Add(float64(n))
}

// LoadTimer measures one load job.
type LoadTimer struct {
	c      *Collector
	stream string
	start  time.Time
}

// StartLoad starts timing a load job for stream.
func (c *Collector) StartLoad(stream string) *LoadTimer {
	return &LoadTimer{c: c, stream: stream, start: time.Now()}
}

// Stop records the job outcome and duration. err selects the outcome label.
func (t *LoadTimer) Stop(err error) time.Duration {
	d := time.Since(t.start)
	if t.c == nil {
		return d
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	t.c.loadJobs.WithLabelValues(t.stream, outcome).Inc()
	t.c.loadDuration.WithLabelValues(t.stream).Observe(d.Seconds())
	return d
}
