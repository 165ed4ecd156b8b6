package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hperssn/focuswatch/internal/domain"
)

// MemoryRepository keeps everything in process. A tick is applied under the
// write lock and ReadDashboard reads under a single read lock.
type MemoryRepository struct {
	mu       sync.RWMutex
	users    map[string]domain.User
	sessions map[string]domain.Session
	events   []domain.Event
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:    make(map[string]domain.User),
		sessions: make(map[string]domain.Session),
	}
}

func (r *MemoryRepository) EnsureUser(_ context.Context, username string, defaults domain.Settings) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u.Username == username {
			return &u, nil
		}
	}

	u := domain.User{
		ID:        uuid.New().String(),
		Username:  username,
		CreatedAt: time.Now().UTC(),
		Settings:  defaults,
	}
	r.users[u.ID] = u

	return &u, nil
}

func (r *MemoryRepository) GetUser(_ context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (r *MemoryRepository) ListUsers(_ context.Context) ([]domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]domain.User, 0, len(r.users))
	for _, u := range r.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })

	return users, nil
}

func (r *MemoryRepository) UpdateSettings(_ context.Context, userID string, settings domain.Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Settings = settings
	r.users[userID] = u

	return nil
}

func (r *MemoryRepository) CreateSession(_ context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.sessions {
		if existing.UserID == s.UserID && existing.IsActive {
			return ErrActiveConflict
		}
	}
	r.sessions[s.ID] = copySession(*s)

	return nil
}

func (r *MemoryRepository) GetActiveSession(_ context.Context, userID string) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if s, ok := r.activeSession(userID); ok {
		return &s, nil
	}
	return nil, nil
}

func (r *MemoryRepository) activeSession(userID string) (domain.Session, bool) {
	for _, s := range r.sessions {
		if s.UserID == userID && s.IsActive {
			return copySession(s), true
		}
	}
	return domain.Session{}, false
}

func (r *MemoryRepository) ListActiveSessions(_ context.Context) ([]domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Session
	for _, s := range r.sessions {
		if s.IsActive {
			out = append(out, copySession(s))
		}
	}
	sortSessions(out)

	return out, nil
}

func (r *MemoryRepository) ApplyTick(_ context.Context, update TickUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[update.SessionID]
	if !ok || !s.IsActive {
		return ErrSessionClosed
	}

	s.FocusDuration += update.FocusDelta
	s.DistractionDuration += update.DistractionDelta
	s.TotalDuration += update.FocusDelta + update.DistractionDelta
	r.sessions[s.ID] = s
	r.events = append(r.events, update.Events...)

	return nil
}

func (r *MemoryRepository) FinalizeSession(_ context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.sessions[s.ID]
	if !ok || !existing.IsActive {
		return ErrSessionClosed
	}
	r.sessions[s.ID] = copySession(*s)

	return nil
}

func (r *MemoryRepository) ListSessions(_ context.Context, userID string, since time.Time) ([]domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Session
	for _, s := range r.sessions {
		if s.UserID == userID && !s.StartTime.Before(since) {
			out = append(out, copySession(s))
		}
	}
	sortSessions(out)

	return out, nil
}

func (r *MemoryRepository) GetSessionStats(_ context.Context, userID string, since time.Time) (*SessionStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := r.sessionStats(userID, since)
	return &stats, nil
}

func (r *MemoryRepository) sessionStats(userID string, since time.Time) SessionStats {
	var stats SessionStats
	for _, s := range r.sessions {
		if s.UserID != userID || s.StartTime.Before(since) {
			continue
		}
		stats.TotalSessions++
		stats.Focus += s.FocusDuration
		stats.Distraction += s.DistractionDuration
	}

	return stats
}

func (r *MemoryRepository) CountEventsByType(_ context.Context, userID string, since time.Time) (map[domain.EventType]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.countEvents(userID, since), nil
}

func (r *MemoryRepository) countEvents(userID string, since time.Time) map[domain.EventType]int {
	counts := make(map[domain.EventType]int)
	for _, e := range r.events {
		if e.UserID == userID && !e.Timestamp.Before(since) {
			counts[e.Type]++
		}
	}

	return counts
}

func (r *MemoryRepository) GetRecentEvents(_ context.Context, userID string, since time.Time, limit int) ([]domain.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.recentEvents(userID, since, limit), nil
}

func (r *MemoryRepository) recentEvents(userID string, since time.Time, limit int) []domain.Event {
	var out []domain.Event
	for _, e := range r.events {
		if e.UserID == userID && !e.Timestamp.Before(since) {
			out = append(out, e)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID > out[j].ID
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}

	return out
}

func (r *MemoryRepository) ReadDashboard(_ context.Context, userID string, since time.Time, recentLimit int) (*DashboardSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[userID]
	if !ok {
		return nil, ErrNotFound
	}

	snap := &DashboardSnapshot{
		User:   u,
		Stats:  r.sessionStats(userID, since),
		Counts: r.countEvents(userID, since),
		Recent: r.recentEvents(userID, since, recentLimit),
	}
	if s, ok := r.activeSession(userID); ok {
		snap.Active = &s
	}

	return snap, nil
}

func (r *MemoryRepository) ResetUserData(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.sessions {
		if s.UserID == userID && s.IsActive {
			return ErrActiveConflict
		}
	}

	for id, s := range r.sessions {
		if s.UserID == userID {
			delete(r.sessions, id)
		}
	}

	kept := r.events[:0]
	for _, e := range r.events {
		if e.UserID != userID {
			kept = append(kept, e)
		}
	}
	r.events = kept

	return nil
}

func (r *MemoryRepository) Close() error {
	return nil
}

func copySession(s domain.Session) domain.Session {
	if s.EndTime != nil {
		end := *s.EndTime
		s.EndTime = &end
	}
	return s
}

func sortSessions(sessions []domain.Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].StartTime.Equal(sessions[j].StartTime) {
			return sessions[i].StartTime.Before(sessions[j].StartTime)
		}
		return sessions[i].ID < sessions[j].ID
	})
}
