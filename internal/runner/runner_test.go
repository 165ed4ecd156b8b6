package runner_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hperssn/focuswatch/internal/domain"
	"github.com/hperssn/focuswatch/internal/ledger"
	"github.com/hperssn/focuswatch/internal/metrics"
	"github.com/hperssn/focuswatch/internal/runner"
	"github.com/hperssn/focuswatch/internal/signal"
	"github.com/hperssn/focuswatch/internal/storage"
)

type failingTicks struct {
	storage.Repository
	remaining chan struct{}
}

func (r *failingTicks) ApplyTick(ctx context.Context, u storage.TickUpdate) error {
	select {
	case <-r.remaining:
		return errors.New("database is locked")
	default:
		return r.Repository.ApplyTick(ctx, u)
	}
}

// gatedTicks holds every store write until release is closed.
type gatedTicks struct {
	storage.Repository
	entered chan struct{}
	release chan struct{}
}

func (r *gatedTicks) ApplyTick(ctx context.Context, u storage.TickUpdate) error {
	r.entered <- struct{}{}
	<-r.release
	return r.Repository.ApplyTick(ctx, u)
}

func receive(t *testing.T, ch <-chan domain.Event) domain.Event {
	t.Helper()

	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return domain.Event{}
}

func TestCaptureLoop_PublishesEvents(t *testing.T) {
	f := newFixture(t, nil, runner.Options{})
	ctx := context.Background()
	ada := f.user(t, "ada")
	bob := f.user(t, "bob")

	_, adaEvents := f.manager.Subscribe(ada)
	bobID, bobEvents := f.manager.Subscribe(bob)
	defer f.manager.Unsubscribe(bobID)

	sess, err := f.manager.StartMonitoring(ctx, ada)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	for i := 1; i <= 8; i++ {
		sig := domain.Signal{EyesClosed: true, PersonCount: 1, At: sess.StartTime.Add(time.Duration(i) * 500 * time.Millisecond)}
		if err := f.hub.Push(ctx, ada, sig); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}

	e := receive(t, adaEvents)
	if e.Type != domain.EventEyeClosed || e.SessionID != sess.ID || e.Duration != 3*time.Second {
		t.Fatalf("event = %+v", e)
	}

	// phone appears
	if err := f.hub.Push(ctx, ada, domain.Signal{PhoneVisible: true, At: sess.StartTime.Add(5 * time.Second)}); err != nil {
		t.Fatalf("push: %v", err)
	}
	if e := receive(t, adaEvents); e.Type != domain.EventPhoneDetected {
		t.Fatalf("event = %+v", e)
	}

	select {
	case e := <-bobEvents:
		t.Fatalf("bob received ada's event %+v", e)
	default:
	}

	final, err := f.manager.StopMonitoring(ctx, ada)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if final.FocusDuration+final.DistractionDuration != final.TotalDuration {
		t.Fatalf("focus + distraction != total: %+v", final)
	}
	if final.DistractionDuration < 5*time.Second {
		t.Fatalf("distraction = %v, want at least 5s", final.DistractionDuration)
	}
	waitFor(t, "tick counter", func() bool { return f.metrics.FramesTicked.Load() == 9 })
}

func TestCaptureLoop_SourceUnavailableStopsImplicitly(t *testing.T) {
	f := newFixture(t, nil, runner.Options{})
	ctx := context.Background()
	ada := f.user(t, "ada")

	if _, err := f.manager.StartMonitoring(ctx, ada); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.hub.Fail(ada, errors.New("camera unplugged")); err != nil {
		t.Fatalf("fail: %v", err)
	}

	waitFor(t, "implicit stop", func() bool { return !f.manager.Monitoring(ada) })
	waitFor(t, "session finalized", func() bool {
		active, _ := f.repo.GetActiveSession(ctx, ada)
		return active == nil
	})

	st := f.manager.Status(ada)
	if !errors.Is(st.LastError, signal.ErrSourceUnavailable) {
		t.Fatalf("last error = %v", st.LastError)
	}
	if st.Session != nil {
		t.Fatalf("session still active in ledger: %+v", st.Session)
	}
	if got := f.metrics.SourceFailures.Load(); got != 1 {
		t.Fatalf("source failures = %d", got)
	}

	if _, err := f.manager.StopMonitoring(ctx, ada); !errors.Is(err, ledger.ErrNoActiveSession) {
		t.Fatalf("stop after implicit stop = %v", err)
	}

	// a fresh start clears the recorded failure
	waitFor(t, "feed released", func() bool { return !f.hub.Listening(ada) })
	if _, err := f.manager.StartMonitoring(ctx, ada); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if st := f.manager.Status(ada); st.LastError != nil {
		t.Fatalf("last error kept after restart: %v", st.LastError)
	}
}

func TestCaptureLoop_IdleTimeout(t *testing.T) {
	f := newFixture(t, nil, runner.Options{IdleTimeout: 30 * time.Millisecond})
	ada := f.user(t, "ada")

	if _, err := f.manager.StartMonitoring(context.Background(), ada); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, "idle stop", func() bool { return !f.manager.Monitoring(ada) })
	if st := f.manager.Status(ada); !errors.Is(st.LastError, signal.ErrSourceUnavailable) {
		t.Fatalf("last error = %v", st.LastError)
	}
}

func TestCaptureLoop_PersistenceErrorKeepsRunning(t *testing.T) {
	repo := &failingTicks{Repository: storage.NewMemoryRepository(), remaining: make(chan struct{}, 2)}
	repo.remaining <- struct{}{}
	repo.remaining <- struct{}{}

	f := newFixture(t, repo, runner.Options{})
	ctx := context.Background()
	ada := f.user(t, "ada")

	sess, err := f.manager.StartMonitoring(ctx, ada)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	for i := 1; i <= 5; i++ {
		if err := f.hub.Push(ctx, ada, domain.Signal{At: sess.StartTime.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}

	waitFor(t, "ticks", func() bool { return f.metrics.FramesTicked.Load() == 3 })
	if got := f.metrics.PersistenceErrors.Load(); got != 2 {
		t.Fatalf("persistence errors = %d want 2", got)
	}
	if !f.manager.Monitoring(ada) {
		t.Fatalf("run ended on a persistence error")
	}

	st := f.manager.Status(ada)
	if st.Session.TotalDuration != 5*time.Second {
		t.Fatalf("session total = %v want 5s", st.Session.TotalDuration)
	}
}

func TestCaptureLoop_ScriptEndStopsRun(t *testing.T) {
	script, err := signal.ParseScript([]byte(`
interval: 500ms
frames:
  - eyes_closed: true
    repeat: 10
  - repeat: 4
  - phone_visible: true
    persons: 3
    repeat: 2
`))
	if err != nil {
		t.Fatalf("parse script: %v", err)
	}

	repo := storage.NewMemoryRepository()
	m := metrics.New()
	manager := runner.NewManager(ledger.New(repo, nil), signal.ScriptFactory(script, nil, false), runner.Options{Metrics: m})
	ctx := context.Background()
	ada, _ := repo.EnsureUser(ctx, "ada", domain.DefaultSettings())

	if _, err := manager.StartMonitoring(ctx, ada.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, "script end", func() bool { return !manager.Monitoring(ada.ID) })

	if st := manager.Status(ada.ID); st.LastError != nil {
		t.Fatalf("clean end recorded an error: %v", st.LastError)
	}

	var sessions []domain.Session
	waitFor(t, "session finalized", func() bool {
		sessions, _ = repo.ListSessions(ctx, ada.ID, time.Time{})
		return len(sessions) == 1 && !sessions[0].IsActive
	})
	s := sessions[0]
	if s.FocusDuration+s.DistractionDuration != s.TotalDuration {
		t.Fatalf("focus + distraction != total: %+v", s)
	}
	if s.TotalDuration < 8*time.Second {
		t.Fatalf("total = %v, want at least the scripted 8s", s.TotalDuration)
	}

	counts, _ := repo.CountEventsByType(ctx, ada.ID, time.Time{})
	if counts[domain.EventEyeClosed] != 1 || counts[domain.EventPhoneDetected] != 1 {
		t.Fatalf("events = %v", counts)
	}
	if m.FramesTicked.Load() != 16 || m.MultiPersonFrames.Load() != 2 {
		t.Fatalf("frames = %d, multi person = %d", m.FramesTicked.Load(), m.MultiPersonFrames.Load())
	}
}

func TestCaptureLoop_StopDropsWaitingFrames(t *testing.T) {
	repo := &gatedTicks{
		Repository: storage.NewMemoryRepository(),
		entered:    make(chan struct{}, 16),
		release:    make(chan struct{}),
	}
	f := newFixture(t, repo, runner.Options{})
	ctx := context.Background()
	ada := f.user(t, "ada")

	sess, err := f.manager.StartMonitoring(ctx, ada)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// The first frame parks the loop inside its tick.
	if err := f.hub.Push(ctx, ada, domain.Signal{At: sess.StartTime.Add(time.Second)}); err != nil {
		t.Fatalf("push: %v", err)
	}
	select {
	case <-repo.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("loop never reached the store")
	}

	const waiting = 4
	pushed := make(chan error, waiting)
	for i := 0; i < waiting; i++ {
		at := sess.StartTime.Add(time.Duration(2+i) * time.Second)
		go func() {
			pushed <- f.hub.Push(ctx, ada, domain.Signal{PhoneVisible: true, At: at})
		}()
	}
	time.Sleep(20 * time.Millisecond)

	stopped := make(chan error, 1)
	go func() {
		_, err := f.manager.StopMonitoring(ctx, ada)
		stopped <- err
	}()
	waitFor(t, "stop requested", func() bool { return !f.manager.Monitoring(ada) })
	time.Sleep(20 * time.Millisecond)
	close(repo.release)

	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("stop did not return")
	}

	delivered := 0
	for i := 0; i < waiting; i++ {
		select {
		case err := <-pushed:
			switch {
			case err == nil:
				delivered++
			case !errors.Is(err, signal.ErrNoListener):
				t.Fatalf("push = %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("pusher still blocked after stop")
		}
	}

	if delivered > 1 {
		t.Fatalf("%d frames taken after the stop request, want at most 1", delivered)
	}
	if got := f.metrics.FramesTicked.Load(); got > 2 {
		t.Fatalf("ticked %d frames, want the in-flight one plus at most one more", got)
	}
	counts, _ := repo.CountEventsByType(ctx, ada, time.Time{})
	if counts[domain.EventPhoneDetected] > 1 {
		t.Fatalf("phone events = %d", counts[domain.EventPhoneDetected])
	}
}

func TestCaptureLoop_SessionClosedUnderneathEndsRun(t *testing.T) {
	f := newFixture(t, nil, runner.Options{})
	ctx := context.Background()
	ada := f.user(t, "ada")

	sess, err := f.manager.StartMonitoring(ctx, ada)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	sess.Finalize(sess.StartTime, false)
	if err := f.repo.FinalizeSession(ctx, &sess); err != nil {
		t.Fatalf("close underneath: %v", err)
	}

	if err := f.hub.Push(ctx, ada, domain.Signal{At: sess.StartTime.Add(time.Second)}); err != nil {
		t.Fatalf("push: %v", err)
	}

	waitFor(t, "run ended", func() bool { return !f.manager.Monitoring(ada) })
	waitFor(t, "session dropped", func() bool { return f.manager.Status(ada).Session == nil })
	if st := f.manager.Status(ada); st.LastError == nil {
		t.Fatalf("expected the closed session to be recorded")
	}
	if got := f.metrics.PersistenceErrors.Load(); got != 0 {
		t.Fatalf("closed session counted as persistence error %d times", got)
	}

	waitFor(t, "feed released", func() bool { return !f.hub.Listening(ada) })
	if _, err := f.manager.StartMonitoring(ctx, ada); err != nil {
		t.Fatalf("restart: %v", err)
	}
}
