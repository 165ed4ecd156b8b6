// Package signal provides the frame sources a monitoring run pulls from.
package signal

import (
	"context"
	"errors"

	"github.com/hperssn/focuswatch/internal/domain"
)

var ErrSourceUnavailable = errors.New("signal source unavailable")

// Source yields one detector frame per call. Next returns io.EOF when the
// stream ends normally and an error wrapping ErrSourceUnavailable when the
// device is lost.
type Source interface {
	Next(ctx context.Context) (domain.Signal, error)
	Close() error
}

// Factory opens a source for one user's monitoring run.
type Factory func(ctx context.Context, userID string) (Source, error)
