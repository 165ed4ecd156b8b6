package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hperssn/focuswatch/internal/domain"
)

func TestObserveTick(t *testing.T) {
	m := New()

	m.ObserveTick(domain.Signal{PersonCount: 2}, []domain.Event{
		{Type: domain.EventEyeClosed},
		{Type: domain.EventPhoneDetected},
		{Type: domain.EventPhoneDetected},
	}, 1500*time.Microsecond)
	m.ObserveTick(domain.Signal{PersonCount: 1}, nil, time.Millisecond)

	if got := m.FramesTicked.Load(); got != 2 {
		t.Fatalf("frames = %d", got)
	}
	if got := m.MultiPersonFrames.Load(); got != 1 {
		t.Fatalf("multi person frames = %d", got)
	}
	if m.EyeClosedEvents.Load() != 1 || m.PhoneEvents.Load() != 2 {
		t.Fatalf("event counters = %d/%d", m.EyeClosedEvents.Load(), m.PhoneEvents.Load())
	}
	if got := m.TickLatencyMicros.Load(); got != 1000 {
		t.Fatalf("latency = %d", got)
	}
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.ActiveRuns.Add(3)
	m.SourceFailures.Add(1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		"focuswatch_active_runs 3",
		"focuswatch_source_failures_total 1",
		"focuswatch_frames_ticked_total 0",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q:\n%s", want, body)
		}
	}
}

func TestHandlerMetricTypes(t *testing.T) {
	m := New()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	tests := []struct {
		name string
		typ  string
	}{
		{"focuswatch_frames_ticked_total", "counter"},
		{"focuswatch_persistence_errors_total", "counter"},
		{"focuswatch_subscriber_events_dropped_total", "counter"},
		{"focuswatch_active_runs", "gauge"},
		{"focuswatch_tick_latency_microseconds", "gauge"},
	}

	for _, tt := range tests {
		want := "# TYPE " + tt.name + " " + tt.typ
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q:\n%s", want, body)
		}
	}
}
