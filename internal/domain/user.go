package domain

import (
	"errors"
	"fmt"
	"time"
)

const (
	DefaultDailyGoalMinutes    = 120
	DefaultEyeClosureThreshold = 3 * time.Second
)

var ErrInvalidSettings = errors.New("invalid settings")

type Settings struct {
	DailyGoalMinutes    int
	EyeClosureThreshold time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		DailyGoalMinutes:    DefaultDailyGoalMinutes,
		EyeClosureThreshold: DefaultEyeClosureThreshold,
	}
}

func (s Settings) Validate() error {
	if s.DailyGoalMinutes <= 0 {
		return fmt.Errorf("%w: daily goal must be positive", ErrInvalidSettings)
	}
	if s.EyeClosureThreshold <= 0 {
		return fmt.Errorf("%w: eye closure threshold must be positive", ErrInvalidSettings)
	}
	return nil
}

type User struct {
	ID        string
	Username  string
	CreatedAt time.Time
	Settings  Settings
}
