package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/hperssn/focuswatch/internal/domain"
	"github.com/hperssn/focuswatch/internal/ledger"
	"github.com/hperssn/focuswatch/internal/signal"
)

// captureRunner is one user's capture loop: pull a frame, tick the ledger,
// publish what it emitted.
type captureRunner struct {
	m         *Manager
	userID    string
	sessionID string
	src       signal.Source

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	crowded bool
}

func newCaptureRunner(m *Manager, userID, sessionID string, src signal.Source) *captureRunner {
	ctx, cancel := context.WithCancel(context.Background())
	return &captureRunner{
		m:         m,
		userID:    userID,
		sessionID: sessionID,
		src:       src,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

func (r *captureRunner) run() {
	defer func() {
		r.src.Close()
		r.m.metrics.ActiveRuns.Add(-1)
		close(r.done)
	}()

	for {
		sig, err := r.next()
		if err != nil {
			// Cancelled by StopMonitoring, which finalizes the session.
			if r.ctx.Err() != nil {
				return
			}
			if errors.Is(err, io.EOF) {
				err = nil
			} else {
				r.m.metrics.SourceFailures.Add(1)
			}
			r.m.finish(r, err)
			return
		}

		if sig.PersonCount > 1 && !r.crowded {
			log.Printf("runner: %d people in frame for user %s, attributing to the monitored user", sig.PersonCount, r.userID)
		}
		r.crowded = sig.PersonCount > 1

		// A frame taken after the stop request is dropped. A tick already
		// in flight completes.
		if r.ctx.Err() != nil {
			return
		}

		started := time.Now()
		events, err := r.m.ledger.Tick(context.WithoutCancel(r.ctx), r.userID, sig)

		var perr *ledger.PersistenceError
		switch {
		case err == nil:
			r.m.metrics.ObserveTick(sig, events, time.Since(started))
			r.m.publish(events)
		case errors.As(err, &perr):
			r.m.metrics.PersistenceErrors.Add(1)
			log.Printf("runner: dropping frame for user %s: %v", r.userID, err)
		case errors.Is(err, ledger.ErrOutOfOrderFrame):
			r.m.metrics.OutOfOrderFrames.Add(1)
			log.Printf("runner: out of order frame for user %s at %s", r.userID, sig.At.Format(time.RFC3339Nano))
		case errors.Is(err, ledger.ErrNoActiveSession):
			r.m.finish(r, fmt.Errorf("session %s closed underneath the capture loop", r.sessionID))
			return
		default:
			log.Printf("runner: tick for user %s failed: %v", r.userID, err)
		}
	}
}

func (r *captureRunner) next() (domain.Signal, error) {
	if r.m.idle <= 0 {
		return r.src.Next(r.ctx)
	}

	ctx, cancel := context.WithTimeout(r.ctx, r.m.idle)
	defer cancel()

	sig, err := r.src.Next(ctx)
	if err != nil && r.ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return sig, fmt.Errorf("%w: no frame for %s", signal.ErrSourceUnavailable, r.m.idle)
	}
	return sig, err
}

func (r *captureRunner) Stop() {
	r.cancel()
}

func (r *captureRunner) Done() <-chan struct{} {
	return r.done
}
