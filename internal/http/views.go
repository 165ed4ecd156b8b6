package httpapi

import (
	"time"

	"github.com/hperssn/focuswatch/internal/domain"
	"github.com/hperssn/focuswatch/internal/runner"
	"github.com/hperssn/focuswatch/internal/stats"
)

// Durations leave the API as float seconds.

type userView struct {
	ID        string       `json:"id"`
	Username  string       `json:"username"`
	CreatedAt time.Time    `json:"created_at"`
	Settings  settingsView `json:"settings"`
}

type settingsView struct {
	DailyGoalMinutes    int     `json:"daily_goal_minutes"`
	EyeClosureThreshold float64 `json:"eye_closure_threshold"`
}

type sessionView struct {
	ID                  string     `json:"id"`
	StartTime           time.Time  `json:"start_time"`
	EndTime             *time.Time `json:"end_time"`
	TotalDuration       float64    `json:"total_duration"`
	FocusDuration       float64    `json:"focus_duration"`
	DistractionDuration float64    `json:"distraction_duration"`
	IsActive            bool       `json:"is_active"`
}

type eventView struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Duration  float64   `json:"duration"`
}

type statusView struct {
	Monitoring bool         `json:"monitoring"`
	Session    *sessionView `json:"session"`
	LastError  string       `json:"last_error,omitempty"`
}

type dashboardView struct {
	TotalFocusTime       float64        `json:"total_focus_time"`
	TotalDistractionTime float64        `json:"total_distraction_time"`
	TotalSessions        int            `json:"total_sessions"`
	GoalProgress         float64        `json:"goal_progress"`
	DailyGoal            int            `json:"daily_goal"`
	RecentEvents         []eventView    `json:"recent_events"`
	EventBreakdown       map[string]int `json:"event_breakdown"`
	MonitoringActive     bool           `json:"monitoring_active"`
}

type comparisonView struct {
	Username        string  `json:"username"`
	FocusTime       float64 `json:"focus_time"`
	DistractionTime float64 `json:"distraction_time"`
	FocusPercentage float64 `json:"focus_percentage"`
}

func newUserView(u *domain.User) userView {
	return userView{
		ID:        u.ID,
		Username:  u.Username,
		CreatedAt: u.CreatedAt,
		Settings:  newSettingsView(u.Settings),
	}
}

func newSettingsView(s domain.Settings) settingsView {
	return settingsView{
		DailyGoalMinutes:    s.DailyGoalMinutes,
		EyeClosureThreshold: s.EyeClosureThreshold.Seconds(),
	}
}

func newSessionView(s *domain.Session) *sessionView {
	if s == nil {
		return nil
	}
	return &sessionView{
		ID:                  s.ID,
		StartTime:           s.StartTime,
		EndTime:             s.EndTime,
		TotalDuration:       s.TotalDuration.Seconds(),
		FocusDuration:       s.FocusDuration.Seconds(),
		DistractionDuration: s.DistractionDuration.Seconds(),
		IsActive:            s.IsActive,
	}
}

func newEventView(e domain.Event) eventView {
	return eventView{
		ID:        e.ID,
		UserID:    e.UserID,
		SessionID: e.SessionID,
		Timestamp: e.Timestamp,
		Type:      string(e.Type),
		Duration:  e.Duration.Seconds(),
	}
}

func newStatusView(st runner.Status) statusView {
	v := statusView{
		Monitoring: st.Monitoring,
		Session:    newSessionView(st.Session),
	}
	if st.LastError != nil {
		v.LastError = st.LastError.Error()
	}
	return v
}

func newDashboardView(d *stats.Dashboard) dashboardView {
	recent := make([]eventView, 0, len(d.RecentEvents))
	for _, e := range d.RecentEvents {
		ev := newEventView(e)
		ev.UserID = ""
		recent = append(recent, ev)
	}

	breakdown := make(map[string]int, len(d.EventBreakdown))
	for t, n := range d.EventBreakdown {
		breakdown[string(t)] = n
	}

	return dashboardView{
		TotalFocusTime:       d.TotalFocusTime.Seconds(),
		TotalDistractionTime: d.TotalDistractionTime.Seconds(),
		TotalSessions:        d.TotalSessions,
		GoalProgress:         d.GoalProgress,
		DailyGoal:            d.DailyGoalMinutes,
		RecentEvents:         recent,
		EventBreakdown:       breakdown,
		MonitoringActive:     d.MonitoringActive,
	}
}

func newComparisonView(entries []stats.ComparisonEntry) []comparisonView {
	out := make([]comparisonView, 0, len(entries))
	for _, e := range entries {
		out = append(out, comparisonView{
			Username:        e.Username,
			FocusTime:       e.FocusTime.Seconds(),
			DistractionTime: e.DistractionTime.Seconds(),
			FocusPercentage: e.FocusPercentage,
		})
	}
	return out
}
