// Package prom exports service metrics through a Prometheus registry.
package prom

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"kittycore/internal/core"
)

const namespace = "kittycore"

// Recorder implements core.MetricsRecorder and core.EventSink.
type Recorder struct {
	operations *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	events     *prometheus.CounterVec
}

var (
	_ core.MetricsRecorder = (*Recorder)(nil)
	_ core.EventSink       = (*Recorder)(nil)
)

// NewRecorder registers the collectors on reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	if reg == nil {
		return nil, errors.New("prometheus registerer required")
	}
	r := &Recorder{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "service",
				Name:      "operations_total",
				Help:      "Registry operations by outcome.",
			},
			[]string{"operation", "success"},
		),
		durations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "service",
				Name:      "operation_duration_seconds",
				Help:      "Registry operation latency in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "events_total",
				Help:      "Committed registry events by kind.",
			},
			[]string{"kind"},
		),
	}
	for _, c := range []prometheus.Collector{r.operations, r.durations, r.events} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return r, nil
}

// Observe counts one operation and records its latency.
func (r *Recorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	r.operations.WithLabelValues(operation, strconv.FormatBool(success)).Inc()
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
}

// Publish counts committed events.
func (r *Recorder) Publish(_ context.Context, events []core.Event) {
	for _, ev := range events {
		r.events.WithLabelValues(string(ev.Kind)).Inc()
	}
}

// WriteTextfile dumps g in the text exposition format, for the node
// exporter textfile collector. When g holds no series the existing file is
// left alone and written is false.
func WriteTextfile(path string, g prometheus.Gatherer) (written bool, err error) {
	families, err := g.Gather()
	if err != nil {
		return false, fmt.Errorf("gather metrics: %w", err)
	}
	if len(families) == 0 {
		return false, nil
	}
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return false, fmt.Errorf("write metrics textfile: %w", err)
	}
	return true, nil
}
