package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/psantana5/renderbox/internal/report"
)

// Collector tracks dispatcher-level run metrics on its own registry so
// one-shot invocations and the serve mode share the same instruments.
type Collector struct {
	registry *prometheus.Registry

	runsTotal   *prometheus.CounterVec
	runDuration prometheus.Histogram
	gpuRuns     prometheus.Counter
}

// NewCollector creates a collector with a fresh registry
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "renderbox_runs_total",
			Help: "Total dispatched runs by terminal status",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "renderbox_run_duration_seconds",
			Help:    "Wall-clock duration of dispatched runs",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}),
		gpuRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "renderbox_gpu_runs_total",
			Help: "Runs dispatched with GPU device visibility",
		}),
	}

	registry.MustRegister(c.runsTotal, c.runDuration, c.gpuRuns)
	return c
}

// Registry exposes the underlying registry for promhttp in serve mode
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordRun observes one finished run
func (c *Collector) RecordRun(o *report.Outcome, gpuSelector string) {
	c.runsTotal.WithLabelValues(string(o.Status)).Inc()
	c.runDuration.Observe(o.Duration.Seconds())
	if gpuSelector != "" {
		c.gpuRuns.Inc()
	}
}

// WriteTextfile writes the current metrics in the node-exporter
// textfile-collector format. The write goes through a temp file and
// rename so the collector never reads a half-written snapshot.
func (c *Collector) WriteTextfile(path string) error {
	families, err := c.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".renderbox-metrics-*")
	if err != nil {
		return fmt.Errorf("failed to create metrics temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	for _, family := range families {
		if _, err := expfmt.MetricFamilyToText(tmp, family); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to encode metrics: %w", err)
		}
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
