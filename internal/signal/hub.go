package signal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/hperssn/focuswatch/internal/clock"
	"github.com/hperssn/focuswatch/internal/domain"
)

var (
	ErrNoListener = errors.New("no monitoring run is listening for this user")
	ErrFeedOpen   = errors.New("signal feed already open for this user")
)

// Hub hands frames pushed by an external detector to the run that listens
// for the user. The hand-off is unbuffered so a detector outpacing the run
// blocks instead of queueing stale frames.
type Hub struct {
	clock clock.Clock

	mu    sync.Mutex
	feeds map[string]*feed
}

func NewHub(clk clock.Clock) *Hub {
	if clk == nil {
		clk = clock.System{}
	}
	return &Hub{
		clock: clk,
		feeds: make(map[string]*feed),
	}
}

// Open registers a feed for userID. It satisfies Factory.
func (h *Hub) Open(_ context.Context, userID string) (Source, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.feeds[userID]; exists {
		return nil, ErrFeedOpen
	}

	f := &feed{
		hub:    h,
		userID: userID,
		frames: make(chan domain.Signal),
		failed: make(chan error, 1),
		done:   make(chan struct{}),
	}
	h.feeds[userID] = f

	return f, nil
}

// Push delivers one frame, stamping it with the hub clock when the detector
// sent no timestamp. It blocks until the run takes the frame.
func (h *Hub) Push(ctx context.Context, userID string, sig domain.Signal) error {
	f := h.lookup(userID)
	if f == nil {
		return ErrNoListener
	}

	if sig.At.IsZero() {
		sig.At = h.clock.Now()
	}

	select {
	case f.frames <- sig:
		return nil
	case <-f.done:
		return ErrNoListener
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fail reports that the user's capture device is gone. The listening run
// receives ErrSourceUnavailable on its next read.
func (h *Hub) Fail(userID string, reason error) error {
	f := h.lookup(userID)
	if f == nil {
		return ErrNoListener
	}

	select {
	case f.failed <- reason:
	default:
	}
	return nil
}

// Listening reports whether a run currently reads frames for userID.
func (h *Hub) Listening(userID string) bool {
	return h.lookup(userID) != nil
}

func (h *Hub) lookup(userID string) *feed {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.feeds[userID]
}

func (h *Hub) remove(f *feed) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.feeds[f.userID] == f {
		delete(h.feeds, f.userID)
	}
}

type feed struct {
	hub    *Hub
	userID string

	frames chan domain.Signal
	failed chan error
	done   chan struct{}
	once   sync.Once
}

// Next returns ctx.Err() once ctx is done, even when a pusher is waiting.
func (f *feed) Next(ctx context.Context) (domain.Signal, error) {
	if err := ctx.Err(); err != nil {
		return domain.Signal{}, err
	}

	select {
	case sig := <-f.frames:
		return sig, nil
	case reason := <-f.failed:
		if reason == nil {
			return domain.Signal{}, ErrSourceUnavailable
		}
		return domain.Signal{}, fmt.Errorf("%w: %v", ErrSourceUnavailable, reason)
	case <-f.done:
		return domain.Signal{}, io.EOF
	case <-ctx.Done():
		return domain.Signal{}, ctx.Err()
	}
}

func (f *feed) Close() error {
	f.once.Do(func() {
		close(f.done)
		f.hub.remove(f)
	})
	return nil
}
