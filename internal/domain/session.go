package domain

import (
	"time"

	"github.com/google/uuid"
)

type Session struct {
	ID                  string
	UserID              string
	StartTime           time.Time
	EndTime             *time.Time
	TotalDuration       time.Duration
	FocusDuration       time.Duration
	DistractionDuration time.Duration
	IsActive            bool
}

func NewSession(id string, userID string, start time.Time) *Session {
	if id == "" {
		id = uuid.New().String()
	}

	return &Session{
		ID:        id,
		UserID:    userID,
		StartTime: start,
		IsActive:  true,
	}
}

// Accounted is the monitored time attributed so far, focus plus distraction.
func (s *Session) Accounted() time.Duration {
	return s.FocusDuration + s.DistractionDuration
}

// Finalize closes the session at end. The gap between the accounted time and
// end is attributed to distraction when tailDistracted is set, else to focus,
// so that focus + distraction == total afterwards.
func (s *Session) Finalize(end time.Time, tailDistracted bool) {
	if end.Before(s.StartTime) {
		end = s.StartTime
	}

	total := end.Sub(s.StartTime)
	if tail := total - s.Accounted(); tail > 0 {
		if tailDistracted {
			s.DistractionDuration += tail
		} else {
			s.FocusDuration += tail
		}
	} else if tail < 0 {
		total = s.Accounted()
		end = s.StartTime.Add(total)
	}

	s.EndTime = &end
	s.TotalDuration = total
	s.IsActive = false
}

// Elapsed reports how long the session has run at now, or its fixed total once
// finalized.
func (s *Session) Elapsed(now time.Time) time.Duration {
	if !s.IsActive {
		return s.TotalDuration
	}
	if now.Before(s.StartTime) {
		return 0
	}
	return now.Sub(s.StartTime)
}
