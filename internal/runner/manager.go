package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hperssn/focuswatch/internal/domain"
	"github.com/hperssn/focuswatch/internal/ledger"
	"github.com/hperssn/focuswatch/internal/metrics"
	"github.com/hperssn/focuswatch/internal/signal"
)

const subscriberBuffer = 16

type Options struct {
	// IdleTimeout ends a run whose source has produced no frame for this
	// long. Zero disables the check.
	IdleTimeout time.Duration
	Metrics     *metrics.Metrics
}

// Status is what the API reports about a user's monitoring.
type Status struct {
	Monitoring bool
	Session    *domain.Session
	LastError  error
}

type subscriber struct {
	userID string
	ch     chan domain.Event
}

// Manager runs at most one capture loop per user and fans out the events
// they produce.
type Manager struct {
	ledger  *ledger.Ledger
	open    signal.Factory
	idle    time.Duration
	metrics *metrics.Metrics

	mu      sync.Mutex
	runs    map[string]*captureRunner
	lastErr map[string]error

	subMu  sync.Mutex
	subs   map[int]subscriber
	nextID int
}

func NewManager(l *ledger.Ledger, open signal.Factory, opts Options) *Manager {
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}

	return &Manager{
		ledger:  l,
		open:    open,
		idle:    opts.IdleTimeout,
		metrics: m,
		runs:    make(map[string]*captureRunner),
		lastErr: make(map[string]error),
		subs:    make(map[int]subscriber),
	}
}

// StartMonitoring opens a source for the user, starts a ledger session and
// launches the capture loop. A second start while running is rejected with
// ledger.ErrSessionActive and leaves the first run untouched.
func (m *Manager) StartMonitoring(ctx context.Context, userID string) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.runs[userID]; exists {
		return domain.Session{}, ledger.ErrSessionActive
	}

	src, err := m.open(ctx, userID)
	if err != nil {
		return domain.Session{}, fmt.Errorf("open signal source: %w", err)
	}

	sess, err := m.ledger.Start(ctx, userID)
	if err != nil {
		src.Close()
		return domain.Session{}, err
	}

	r := newCaptureRunner(m, userID, sess.ID, src)
	m.runs[userID] = r
	delete(m.lastErr, userID)
	m.metrics.ActiveRuns.Add(1)

	go r.run()

	log.Printf("runner: monitoring started for user %s (session %s)", userID, sess.ID)

	return sess, nil
}

// StopMonitoring cancels the user's capture loop, waits for it to exit and
// finalizes the session. It also finalizes a session whose earlier stop
// failed to persist.
func (m *Manager) StopMonitoring(ctx context.Context, userID string) (domain.Session, error) {
	m.mu.Lock()
	r, exists := m.runs[userID]
	if exists {
		delete(m.runs, userID)
	}
	m.mu.Unlock()

	if exists {
		r.Stop()

		select {
		case <-r.Done():
		case <-ctx.Done():
			return domain.Session{}, ctx.Err()
		}
	}

	sess, err := m.ledger.Stop(ctx, userID)
	if err != nil {
		return domain.Session{}, err
	}

	log.Printf("runner: monitoring stopped for user %s (session %s, focus %s, distraction %s)",
		userID, sess.ID, sess.FocusDuration, sess.DistractionDuration)

	return sess, nil
}

// finish performs the implicit stop of a loop that ended on its own.
func (m *Manager) finish(r *captureRunner, cause error) {
	m.mu.Lock()
	owned := m.runs[r.userID] == r
	if owned {
		delete(m.runs, r.userID)
		if cause != nil {
			m.lastErr[r.userID] = cause
		}
	}
	m.mu.Unlock()

	// StopMonitoring got there first and finalizes the session itself.
	if !owned {
		return
	}

	sess, err := m.ledger.Stop(context.Background(), r.userID)
	switch {
	case err != nil && !errors.Is(err, ledger.ErrNoActiveSession):
		log.Printf("runner: implicit stop for user %s failed: %v", r.userID, err)
		m.mu.Lock()
		m.lastErr[r.userID] = errors.Join(cause, err)
		m.mu.Unlock()
	case cause != nil:
		log.Printf("runner: monitoring for user %s ended: %v", r.userID, cause)
	default:
		log.Printf("runner: signal stream for user %s ended (session %s closed)", r.userID, sess.ID)
	}
}

func (m *Manager) Status(userID string) Status {
	m.mu.Lock()
	_, running := m.runs[userID]
	lastErr := m.lastErr[userID]
	m.mu.Unlock()

	st := Status{Monitoring: running, LastError: lastErr}
	if s, ok := m.ledger.Active(userID); ok {
		st.Session = &s
	}

	return st
}

// Monitoring reports whether a capture loop runs for userID.
func (m *Manager) Monitoring(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, running := m.runs[userID]
	return running
}

// Subscribe returns a channel receiving every event finalized for userID, or
// for all users when userID is empty. Slow subscribers lose events.
func (m *Manager) Subscribe(userID string) (int, <-chan domain.Event) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan domain.Event, subscriberBuffer)
	m.subs[id] = subscriber{userID: userID, ch: ch}

	return id, ch
}

func (m *Manager) Unsubscribe(id int) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	if s, ok := m.subs[id]; ok {
		close(s.ch)
		delete(m.subs, id)
	}
}

func (m *Manager) publish(events []domain.Event) {
	if len(events) == 0 {
		return
	}

	m.subMu.Lock()
	defer m.subMu.Unlock()

	for _, e := range events {
		for _, s := range m.subs {
			if s.userID != "" && s.userID != e.UserID {
				continue
			}
			select {
			case s.ch <- e:
			default:
				m.metrics.SubscribersDropped.Add(1)
			}
		}
	}
}

// Shutdown stops every run. Sessions are finalized before it returns unless
// ctx expires first.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	users := make([]string, 0, len(m.runs))
	for userID := range m.runs {
		users = append(users, userID)
	}
	m.mu.Unlock()

	var errs []error
	for _, userID := range users {
		if _, err := m.StopMonitoring(ctx, userID); err != nil && !errors.Is(err, ledger.ErrNoActiveSession) {
			errs = append(errs, fmt.Errorf("stop %s: %w", userID, err))
		}
	}

	return errors.Join(errs...)
}
