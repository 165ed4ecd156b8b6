package account_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hperssn/focuswatch/internal/account"
	"github.com/hperssn/focuswatch/internal/domain"
	"github.com/hperssn/focuswatch/internal/ledger"
	"github.com/hperssn/focuswatch/internal/storage"
)

func newService(t *testing.T) (*account.Service, *ledger.Ledger, storage.Repository) {
	t.Helper()

	repo := storage.NewMemoryRepository()
	l := ledger.New(repo, nil)
	svc, err := account.NewService(repo, l, domain.DefaultSettings())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, l, repo
}

func intPtr(v int) *int { return &v }

func durPtr(v time.Duration) *time.Duration { return &v }

func TestNewServiceRejectsBadDefaults(t *testing.T) {
	_, err := account.NewService(storage.NewMemoryRepository(), nil, domain.Settings{DailyGoalMinutes: 0, EyeClosureThreshold: time.Second})
	if !errors.Is(err, account.ErrInvalidSettings) {
		t.Fatalf("err = %v, want ErrInvalidSettings", err)
	}
}

func TestLogin(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	first, err := svc.Login(ctx, "  ada ")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if first.Username != "ada" || first.Settings != domain.DefaultSettings() {
		t.Fatalf("user = %+v", first)
	}

	again, _ := svc.Login(ctx, "ada")
	if again.ID != first.ID {
		t.Fatalf("second login created a new user")
	}

	for _, bad := range []string{"", "   ", strings.Repeat("x", 65)} {
		if _, err := svc.Login(ctx, bad); !errors.Is(err, account.ErrInvalidUsername) {
			t.Fatalf("login(%q) = %v, want ErrInvalidUsername", bad, err)
		}
	}
}

func TestUpdateSettings(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	u, _ := svc.Login(ctx, "ada")

	tests := []struct {
		name    string
		patch   account.SettingsPatch
		want    domain.Settings
		wantErr bool
	}{
		{
			name:  "goal only",
			patch: account.SettingsPatch{DailyGoalMinutes: intPtr(90)},
			want:  domain.Settings{DailyGoalMinutes: 90, EyeClosureThreshold: 3 * time.Second},
		},
		{
			name:  "threshold only",
			patch: account.SettingsPatch{EyeClosureThreshold: durPtr(1500 * time.Millisecond)},
			want:  domain.Settings{DailyGoalMinutes: 90, EyeClosureThreshold: 1500 * time.Millisecond},
		},
		{
			name:    "zero goal",
			patch:   account.SettingsPatch{DailyGoalMinutes: intPtr(0)},
			wantErr: true,
		},
		{
			name:    "negative threshold",
			patch:   account.SettingsPatch{EyeClosureThreshold: durPtr(-time.Second)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.UpdateSettings(ctx, u.ID, tt.patch)
			if tt.wantErr {
				if !errors.Is(err, account.ErrInvalidSettings) {
					t.Fatalf("err = %v, want ErrInvalidSettings", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("update: %v", err)
			}
			if got != tt.want {
				t.Fatalf("settings = %+v want %+v", got, tt.want)
			}
		})
	}

	stored, _ := svc.User(ctx, u.ID)
	if stored.Settings.DailyGoalMinutes != 90 || stored.Settings.EyeClosureThreshold != 1500*time.Millisecond {
		t.Fatalf("invalid update leaked into store: %+v", stored.Settings)
	}

	if _, err := svc.UpdateSettings(ctx, "ghost", account.SettingsPatch{}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("unknown user = %v", err)
	}
}

func TestUpdateSettingsReachesRunningSession(t *testing.T) {
	svc, l, _ := newService(t)
	ctx := context.Background()
	u, _ := svc.Login(ctx, "ada")

	sess, err := l.Start(ctx, u.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.UpdateSettings(ctx, u.ID, account.SettingsPatch{EyeClosureThreshold: durPtr(time.Second)}); err != nil {
		t.Fatalf("update: %v", err)
	}

	at := sess.StartTime
	_, _ = l.Tick(ctx, u.ID, domain.Signal{EyesClosed: true, At: at})
	events, err := l.Tick(ctx, u.ID, domain.Signal{EyesClosed: true, At: at.Add(time.Second)})
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("new threshold not applied, got %d events", len(events))
	}
}

func TestReset(t *testing.T) {
	svc, l, repo := newService(t)
	ctx := context.Background()
	u, _ := svc.Login(ctx, "ada")

	if _, err := l.Start(ctx, u.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := svc.Reset(ctx, u.ID); !errors.Is(err, ledger.ErrSessionActive) {
		t.Fatalf("reset while monitoring = %v, want ErrSessionActive", err)
	}

	if _, err := l.Stop(ctx, u.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := svc.Reset(ctx, u.ID); err != nil {
		t.Fatalf("reset: %v", err)
	}

	sessions, _ := repo.ListSessions(ctx, u.ID, time.Time{})
	if len(sessions) != 0 {
		t.Fatalf("sessions survived reset: %d", len(sessions))
	}
	if err := svc.Reset(ctx, "ghost"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("reset unknown user = %v", err)
	}
}

func TestResetKeepsSessionStartedElsewhere(t *testing.T) {
	svc, _, repo := newService(t)
	ctx := context.Background()
	u, _ := svc.Login(ctx, "ada")

	// Active in the store but not yet known to the ledger, as when a start
	// commits between the ledger check and the delete.
	s := domain.NewSession("", u.ID, time.Now())
	if err := repo.CreateSession(ctx, s); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := svc.Reset(ctx, u.ID); !errors.Is(err, ledger.ErrSessionActive) {
		t.Fatalf("reset = %v, want ErrSessionActive", err)
	}
	active, err := repo.GetActiveSession(ctx, u.ID)
	if err != nil || active == nil || active.ID != s.ID {
		t.Fatalf("active session lost: %+v %v", active, err)
	}
}
