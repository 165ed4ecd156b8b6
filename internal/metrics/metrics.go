package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hperssn/focuswatch/internal/domain"
)

// Metrics holds the monitoring counters exposed on /metrics.
type Metrics struct {
	FramesTicked       atomic.Uint64
	MultiPersonFrames  atomic.Uint64
	EyeClosedEvents    atomic.Uint64
	PhoneEvents        atomic.Uint64
	PersistenceErrors  atomic.Uint64
	OutOfOrderFrames   atomic.Uint64
	SourceFailures     atomic.Uint64
	ActiveRuns         atomic.Int64
	TickLatencyMicros  atomic.Uint64 // last tick, store write included
	SubscribersDropped atomic.Uint64

	registry *prometheus.Registry
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.register()

	return m
}

func (m *Metrics) register() {
	counter := func(name, help string, v *atomic.Uint64) {
		m.registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: name, Help: help},
			func() float64 { return float64(v.Load()) },
		))
	}
	gauge := func(name, help string, fn func() float64) {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: name, Help: help},
			fn,
		))
	}

	counter("focuswatch_frames_ticked_total", "Frames applied to a session", &m.FramesTicked)
	counter("focuswatch_multi_person_frames_total", "Frames reporting more than one person", &m.MultiPersonFrames)
	counter("focuswatch_eye_closed_events_total", "eye_closed events emitted", &m.EyeClosedEvents)
	counter("focuswatch_phone_detected_events_total", "phone_detected events emitted", &m.PhoneEvents)
	counter("focuswatch_persistence_errors_total", "Ticks rejected because the store write failed", &m.PersistenceErrors)
	counter("focuswatch_out_of_order_frames_total", "Frames dropped for arriving out of order", &m.OutOfOrderFrames)
	counter("focuswatch_source_failures_total", "Runs ended by an unavailable signal source", &m.SourceFailures)
	counter("focuswatch_subscriber_events_dropped_total", "Live events dropped for slow subscribers", &m.SubscribersDropped)

	gauge("focuswatch_active_runs", "Users currently monitored",
		func() float64 { return float64(m.ActiveRuns.Load()) })
	gauge("focuswatch_tick_latency_microseconds", "Duration of the last tick",
		func() float64 { return float64(m.TickLatencyMicros.Load()) })
}

// ObserveTick records one applied frame and the events it produced.
func (m *Metrics) ObserveTick(sig domain.Signal, events []domain.Event, took time.Duration) {
	m.FramesTicked.Add(1)
	if sig.PersonCount > 1 {
		m.MultiPersonFrames.Add(1)
	}
	for _, e := range events {
		switch e.Type {
		case domain.EventEyeClosed:
			m.EyeClosedEvents.Add(1)
		case domain.EventPhoneDetected:
			m.PhoneEvents.Add(1)
		}
	}
	m.TickLatencyMicros.Store(uint64(took.Microseconds()))
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
