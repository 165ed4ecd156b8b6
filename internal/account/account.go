// Package account manages users and their settings.
package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hperssn/focuswatch/internal/domain"
	"github.com/hperssn/focuswatch/internal/ledger"
	"github.com/hperssn/focuswatch/internal/storage"
)

const maxUsernameLength = 64

var (
	ErrInvalidSettings = domain.ErrInvalidSettings
	ErrInvalidUsername = errors.New("invalid username")
)

// SettingsPatch carries a partial settings update. Nil fields are kept.
type SettingsPatch struct {
	DailyGoalMinutes    *int
	EyeClosureThreshold *time.Duration
}

type Service struct {
	repo     storage.Repository
	ledger   *ledger.Ledger
	defaults domain.Settings
}

func NewService(repo storage.Repository, l *ledger.Ledger, defaults domain.Settings) (*Service, error) {
	if err := defaults.Validate(); err != nil {
		return nil, fmt.Errorf("default settings: %w", err)
	}
	return &Service{repo: repo, ledger: l, defaults: defaults}, nil
}

// Login returns the user with this name, creating it with the default
// settings on first login.
func (s *Service) Login(ctx context.Context, username string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || len(username) > maxUsernameLength {
		return nil, fmt.Errorf("%w: must be 1 to %d characters", ErrInvalidUsername, maxUsernameLength)
	}

	return s.repo.EnsureUser(ctx, username, s.defaults)
}

func (s *Service) Users(ctx context.Context) ([]domain.User, error) {
	return s.repo.ListUsers(ctx)
}

func (s *Service) User(ctx context.Context, userID string) (*domain.User, error) {
	return s.repo.GetUser(ctx, userID)
}

// UpdateSettings validates and stores the merged settings. A running session
// picks them up on its next tick.
func (s *Service) UpdateSettings(ctx context.Context, userID string, patch SettingsPatch) (domain.Settings, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return domain.Settings{}, err
	}

	next := user.Settings
	if patch.DailyGoalMinutes != nil {
		next.DailyGoalMinutes = *patch.DailyGoalMinutes
	}
	if patch.EyeClosureThreshold != nil {
		next.EyeClosureThreshold = *patch.EyeClosureThreshold
	}
	if err := next.Validate(); err != nil {
		return domain.Settings{}, err
	}

	if err := s.repo.UpdateSettings(ctx, userID, next); err != nil {
		return domain.Settings{}, err
	}
	s.ledger.ApplySettings(userID, next)

	return next, nil
}

// Reset deletes the user's sessions and events. It is refused while a
// session is active so the ledger never writes into a purged session.
func (s *Service) Reset(ctx context.Context, userID string) error {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return err
	}

	if _, running := s.ledger.Active(userID); running {
		return ledger.ErrSessionActive
	}

	// The store re-checks inside its own transaction, which catches a start
	// that lands after the check above.
	if err := s.repo.ResetUserData(ctx, userID); err != nil {
		if errors.Is(err, storage.ErrActiveConflict) {
			return ledger.ErrSessionActive
		}
		return err
	}
	return nil
}

// Sessions lists every session of the user, oldest first.
func (s *Service) Sessions(ctx context.Context, userID string) ([]domain.Session, error) {
	return s.repo.ListSessions(ctx, userID, time.Time{})
}
