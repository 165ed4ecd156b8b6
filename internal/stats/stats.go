// Package stats builds the read-only dashboard and comparison snapshots from
// persisted sessions and events.
package stats

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/hperssn/focuswatch/internal/domain"
	"github.com/hperssn/focuswatch/internal/storage"
)

const DefaultRecentLimit = 20

type Window string

const (
	WindowAll   Window = "all"
	WindowToday Window = "today"
)

func ParseWindow(s string) (Window, error) {
	switch Window(s) {
	case "", WindowAll:
		return WindowAll, nil
	case WindowToday:
		return WindowToday, nil
	}
	return "", fmt.Errorf("unknown window %q", s)
}

// Since returns the lower bound of the window at now. The zero time means all
// time.
func (w Window) Since(now time.Time) time.Time {
	if w == WindowToday {
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	}
	return time.Time{}
}

type Dashboard struct {
	TotalFocusTime       time.Duration
	TotalDistractionTime time.Duration
	TotalSessions        int
	EventBreakdown       map[domain.EventType]int
	GoalProgress         float64
	DailyGoalMinutes     int
	RecentEvents         []domain.Event
	MonitoringActive     bool
}

type ComparisonEntry struct {
	Username        string
	FocusTime       time.Duration
	DistractionTime time.Duration
	FocusPercentage float64
}

type Engine struct {
	repo        storage.Repository
	recentLimit int
}

func NewEngine(repo storage.Repository, recentLimit int) *Engine {
	if recentLimit <= 0 {
		recentLimit = DefaultRecentLimit
	}
	return &Engine{repo: repo, recentLimit: recentLimit}
}

// Dashboard summarizes one user's sessions and events starting at since,
// read from a single store snapshot.
func (e *Engine) Dashboard(ctx context.Context, userID string, since time.Time) (*Dashboard, error) {
	snap, err := e.repo.ReadDashboard(ctx, userID, since, e.recentLimit)
	if err != nil {
		return nil, fmt.Errorf("read dashboard: %w", err)
	}

	breakdown := make(map[domain.EventType]int, len(domain.EventTypes))
	for _, t := range domain.EventTypes {
		breakdown[t] = snap.Counts[t]
	}

	recent := snap.Recent
	if recent == nil {
		recent = []domain.Event{}
	}

	return &Dashboard{
		TotalFocusTime:       snap.Stats.Focus,
		TotalDistractionTime: snap.Stats.Distraction,
		TotalSessions:        snap.Stats.TotalSessions,
		EventBreakdown:       breakdown,
		GoalProgress:         GoalProgress(snap.Stats.Focus, snap.User.Settings.DailyGoalMinutes),
		DailyGoalMinutes:     snap.User.Settings.DailyGoalMinutes,
		RecentEvents:         recent,
		MonitoringActive:     snap.Active != nil,
	}, nil
}

// Comparison ranks every user by focus share, highest first. Users with no
// monitored time rank at 0% and ties fall back to username order.
func (e *Engine) Comparison(ctx context.Context, since time.Time) ([]ComparisonEntry, error) {
	users, err := e.repo.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	entries := make([]ComparisonEntry, 0, len(users))
	for _, u := range users {
		totals, err := e.repo.GetSessionStats(ctx, u.ID, since)
		if err != nil {
			return nil, fmt.Errorf("session stats for %s: %w", u.Username, err)
		}

		entries = append(entries, ComparisonEntry{
			Username:        u.Username,
			FocusTime:       totals.Focus,
			DistractionTime: totals.Distraction,
			FocusPercentage: FocusPercentage(totals.Focus, totals.Distraction),
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].FocusPercentage != entries[j].FocusPercentage {
			return entries[i].FocusPercentage > entries[j].FocusPercentage
		}
		return entries[i].Username < entries[j].Username
	})

	return entries, nil
}

// GoalProgress is the focus time as a percentage of the daily goal, capped
// at 100.
func GoalProgress(focus time.Duration, goalMinutes int) float64 {
	if goalMinutes <= 0 {
		return 0
	}
	return math.Min(100, 100*focus.Minutes()/float64(goalMinutes))
}

func FocusPercentage(focus, distraction time.Duration) float64 {
	total := focus + distraction
	if total <= 0 {
		return 0
	}
	return 100 * float64(focus) / float64(total)
}
