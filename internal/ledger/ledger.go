// Package ledger owns the single active monitoring session per user together
// with its debounce state. It is the only writer of session durations and the
// only producer of events.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hperssn/focuswatch/internal/clock"
	"github.com/hperssn/focuswatch/internal/debounce"
	"github.com/hperssn/focuswatch/internal/domain"
	"github.com/hperssn/focuswatch/internal/storage"
)

var (
	ErrSessionActive   = errors.New("monitoring session already active")
	ErrNoActiveSession = errors.New("no active monitoring session")
	ErrOutOfOrderFrame = errors.New("frame is not newer than the previous tick")
)

// PersistenceError reports a failed store write. The in-memory state of the
// session is left as it was before the failing call.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("ledger: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

type activeSession struct {
	mu sync.Mutex

	session        domain.Session
	settings       domain.Settings
	state          debounce.State
	lastTick       time.Time
	ticked         bool
	lastDistracted bool
	closed         bool
}

func (as *activeSession) isClosed() bool {
	as.mu.Lock()
	defer as.mu.Unlock()

	return as.closed
}

type Ledger struct {
	repo  storage.Repository
	clock clock.Clock

	mu     sync.Mutex
	active map[string]*activeSession
}

func New(repo storage.Repository, clk clock.Clock) *Ledger {
	if clk == nil {
		clk = clock.System{}
	}
	return &Ledger{
		repo:   repo,
		clock:  clk,
		active: make(map[string]*activeSession),
	}
}

// Start opens a new session for userID. A session still marked active in the
// store, even one this process does not own, counts as a conflict.
func (l *Ledger) Start(ctx context.Context, userID string) (domain.Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if as, exists := l.active[userID]; exists {
		if !as.isClosed() {
			return domain.Session{}, ErrSessionActive
		}
		delete(l.active, userID)
	}

	user, err := l.repo.GetUser(ctx, userID)
	if err != nil {
		return domain.Session{}, fmt.Errorf("load user: %w", err)
	}

	existing, err := l.repo.GetActiveSession(ctx, userID)
	if err != nil {
		return domain.Session{}, &PersistenceError{Op: "load active session", Err: err}
	}
	if existing != nil {
		return domain.Session{}, ErrSessionActive
	}

	s := domain.NewSession("", userID, l.clock.Now())
	if err := l.repo.CreateSession(ctx, s); err != nil {
		if errors.Is(err, storage.ErrActiveConflict) {
			return domain.Session{}, ErrSessionActive
		}
		return domain.Session{}, &PersistenceError{Op: "create session", Err: err}
	}

	l.active[userID] = &activeSession{
		session:  *s,
		settings: user.Settings,
		lastTick: s.StartTime,
	}

	return *s, nil
}

// Tick feeds one frame to the user's session. Emitted events and the duration
// delta since the previous tick are written in one store call; on failure
// nothing in memory moves, so a retried frame cannot double-fire.
func (l *Ledger) Tick(ctx context.Context, userID string, sig domain.Signal) ([]domain.Event, error) {
	as := l.lookup(userID)
	if as == nil {
		return nil, ErrNoActiveSession
	}

	as.mu.Lock()
	defer as.mu.Unlock()

	if as.closed {
		return nil, ErrNoActiveSession
	}
	if sig.At.IsZero() {
		sig.At = l.clock.Now()
	}
	// The first frame may carry the start time itself; later ones must move
	// strictly forward.
	if sig.At.Before(as.lastTick) || (as.ticked && !sig.At.After(as.lastTick)) {
		return nil, ErrOutOfOrderFrame
	}

	elapsed := sig.At.Sub(as.lastTick)
	next, emitted := debounce.Step(as.state, sig, as.settings.EyeClosureThreshold)

	events := make([]domain.Event, len(emitted))
	for i, e := range emitted {
		events[i] = e.Bind(userID, as.session.ID)
	}

	update := storage.TickUpdate{SessionID: as.session.ID, Events: events}
	if sig.Distracted() {
		update.DistractionDelta = elapsed
	} else {
		update.FocusDelta = elapsed
	}

	if err := l.repo.ApplyTick(ctx, update); err != nil {
		if errors.Is(err, storage.ErrSessionClosed) {
			as.closed = true
			log.Printf("ledger: session %s of user %s is no longer active in the store", as.session.ID, userID)
			return nil, fmt.Errorf("%w: session %s closed in store", ErrNoActiveSession, as.session.ID)
		}
		return nil, &PersistenceError{Op: "apply tick", Err: err}
	}

	as.state = next
	as.lastTick = sig.At
	as.ticked = true
	as.lastDistracted = sig.Distracted()
	as.session.FocusDuration += update.FocusDelta
	as.session.DistractionDuration += update.DistractionDelta
	as.session.TotalDuration += elapsed

	return events, nil
}

// Stop finalizes the user's session. Time after the last tick is attributed
// to the last observed state. If the store write fails the session stays
// active and Stop may be retried, unless the store no longer holds the
// session as active, in which case it is dropped.
func (l *Ledger) Stop(ctx context.Context, userID string) (domain.Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	as, ok := l.active[userID]
	if !ok {
		return domain.Session{}, ErrNoActiveSession
	}

	as.mu.Lock()
	defer as.mu.Unlock()

	if as.closed {
		delete(l.active, userID)
		return domain.Session{}, ErrNoActiveSession
	}

	end := l.clock.Now()
	if end.Before(as.lastTick) {
		end = as.lastTick
	}

	final := as.session
	final.Finalize(end, as.lastDistracted)

	if err := l.repo.FinalizeSession(ctx, &final); err != nil {
		if errors.Is(err, storage.ErrSessionClosed) {
			as.closed = true
			delete(l.active, userID)
			log.Printf("ledger: session %s of user %s was already closed in the store", as.session.ID, userID)
			return domain.Session{}, fmt.Errorf("%w: session %s closed in store", ErrNoActiveSession, as.session.ID)
		}
		return domain.Session{}, &PersistenceError{Op: "finalize session", Err: err}
	}

	as.closed = true
	delete(l.active, userID)

	return final, nil
}

// ApplySettings swaps the settings used by the user's next tick. Events that
// were already emitted are not recomputed.
func (l *Ledger) ApplySettings(userID string, settings domain.Settings) {
	as := l.lookup(userID)
	if as == nil {
		return
	}

	as.mu.Lock()
	as.settings = settings
	as.mu.Unlock()
}

// Active returns a snapshot of the user's running session.
func (l *Ledger) Active(userID string) (domain.Session, bool) {
	as := l.lookup(userID)
	if as == nil {
		return domain.Session{}, false
	}

	as.mu.Lock()
	defer as.mu.Unlock()

	if as.closed {
		return domain.Session{}, false
	}
	return as.session, true
}

// RecoverOrphans finalizes sessions the store still marks active but this
// process does not own, typically left behind by a crash. Their end is placed
// right after the last accounted tick.
func (l *Ledger) RecoverOrphans(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sessions, err := l.repo.ListActiveSessions(ctx)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, s := range sessions {
		if _, owned := l.active[s.UserID]; owned {
			continue
		}

		s.Finalize(s.StartTime.Add(s.Accounted()), false)
		if err := l.repo.FinalizeSession(ctx, &s); err != nil {
			return recovered, fmt.Errorf("finalize orphan %s: %w", s.ID, err)
		}

		log.Printf("ledger: closed orphaned session %s for user %s (started %s, %s accounted)",
			s.ID, s.UserID, s.StartTime.Format(time.RFC3339), s.TotalDuration)
		recovered++
	}

	return recovered, nil
}

func (l *Ledger) lookup(userID string) *activeSession {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.active[userID]
}
