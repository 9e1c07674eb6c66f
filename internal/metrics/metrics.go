// Package metrics records model loads and executions as Prometheus
// collectors so bench runs can be exported in the text exposition format.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/amikos-tech/pure-neuron/nrt"
)

// Recorder holds the nrt collectors on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	loads           *prometheus.CounterVec
	loadDuration    prometheus.Histogram
	executions      *prometheus.CounterVec
	executeDuration prometheus.Histogram
	inflight        prometheus.Gauge
}

// NewRecorder creates a Recorder with every collector registered.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		loads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nrt",
				Subsystem: "model",
				Name:      "loads_total",
				Help:      "Total number of model loads by resulting status",
			},
			[]string{"status"},
		),
		loadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "nrt",
				Subsystem: "model",
				Name:      "load_duration_seconds",
				Help:      "Duration of model loads in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		executions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "nrt",
				Subsystem: "model",
				Name:      "executions_total",
				Help:      "Total number of executions by resulting status",
			},
			[]string{"status"},
		),
		executeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "nrt",
				Subsystem: "model",
				Name:      "execute_duration_seconds",
				Help:      "Duration of executions in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
			},
		),
		inflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "nrt",
				Subsystem: "model",
				Name:      "inflight_executions",
				Help:      "Executions currently in progress",
			},
		),
	}
	r.registry.MustRegister(r.loads, r.loadDuration, r.executions, r.executeDuration, r.inflight)
	return r
}

// Registry exposes the underlying registry for gathering.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveLoad records one load attempt.
func (r *Recorder) ObserveLoad(elapsed time.Duration, err error) {
	r.loads.WithLabelValues(statusLabel(err)).Inc()
	r.loadDuration.Observe(elapsed.Seconds())
}

// Execute runs fn, recording its latency and outcome.
func (r *Recorder) Execute(fn func() error) error {
	r.inflight.Inc()
	defer r.inflight.Dec()

	start := time.Now()
	err := fn()
	r.executeDuration.Observe(time.Since(start).Seconds())
	r.executions.WithLabelValues(statusLabel(err)).Inc()
	return err
}

// WriteTextfile writes the current metrics to path in the text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	if path == "" {
		return errors.New("empty metrics path")
	}
	return prometheus.WriteToTextfile(path, r.registry)
}

// statusLabel is "ok" for success and the numeric runtime status otherwise.
func statusLabel(err error) string {
	if err == nil {
		return "ok"
	}
	status := nrt.StatusOf(err)
	if status == nrt.StatusSuccess {
		return "error"
	}
	return strconv.FormatUint(uint64(status), 10)
}
