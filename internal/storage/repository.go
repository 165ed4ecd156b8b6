package storage

import (
	"context"
	"errors"
	"time"

	"github.com/hperssn/focuswatch/internal/domain"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrSessionClosed  = errors.New("session is not active")
	ErrActiveConflict = errors.New("user already has an active session")
)

// Repository is the persistence boundary. Events are append-only; the single
// active session per user is created once, updated in place by ApplyTick and
// closed by FinalizeSession.
//
// A zero since means all time.
type Repository interface {
	EnsureUser(ctx context.Context, username string, defaults domain.Settings) (*domain.User, error)
	GetUser(ctx context.Context, id string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	UpdateSettings(ctx context.Context, userID string, settings domain.Settings) error

	CreateSession(ctx context.Context, s *domain.Session) error
	GetActiveSession(ctx context.Context, userID string) (*domain.Session, error)
	ListActiveSessions(ctx context.Context) ([]domain.Session, error)
	ApplyTick(ctx context.Context, update TickUpdate) error
	FinalizeSession(ctx context.Context, s *domain.Session) error
	ListSessions(ctx context.Context, userID string, since time.Time) ([]domain.Session, error)

	GetSessionStats(ctx context.Context, userID string, since time.Time) (*SessionStats, error)
	CountEventsByType(ctx context.Context, userID string, since time.Time) (map[domain.EventType]int, error)
	GetRecentEvents(ctx context.Context, userID string, since time.Time, limit int) ([]domain.Event, error)
	// ReadDashboard gathers the dashboard inputs from one consistent snapshot.
	ReadDashboard(ctx context.Context, userID string, since time.Time, recentLimit int) (*DashboardSnapshot, error)

	// ResetUserData fails with ErrActiveConflict while a session is active.
	ResetUserData(ctx context.Context, userID string) error

	Close() error
}
