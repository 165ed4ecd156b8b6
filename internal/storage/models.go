package storage

import (
	"time"

	"github.com/hperssn/focuswatch/internal/domain"
)

// TickUpdate is everything one ledger tick writes. It is applied atomically.
type TickUpdate struct {
	SessionID        string
	FocusDelta       time.Duration
	DistractionDelta time.Duration
	Events           []domain.Event
}

type SessionStats struct {
	TotalSessions int
	Focus         time.Duration
	Distraction   time.Duration
}

func (s SessionStats) Monitored() time.Duration {
	return s.Focus + s.Distraction
}

// DashboardSnapshot holds the inputs of one dashboard, all read at the same
// point in time.
type DashboardSnapshot struct {
	User   domain.User
	Stats  SessionStats
	Counts map[domain.EventType]int
	Recent []domain.Event
	Active *domain.Session
}

func toNanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

func sinceNanos(since time.Time) int64 {
	if since.IsZero() {
		return 0
	}
	return since.UnixNano()
}
