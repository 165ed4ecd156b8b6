// Package debounce turns a raw per-frame signal stream into discrete
// distraction events.
//
// Eye closure is edge-triggered: an event fires once the eyes have stayed
// closed for the threshold and the timer re-arms at that frame, so a long
// closure yields one event per threshold interval. Any open frame resets it.
//
// Phone detection fires on each fresh appearance and stays quiet while the
// phone remains in view. Noisy callers should smooth the signal beforehand.
package debounce

import (
	"time"

	"github.com/hperssn/focuswatch/internal/domain"
)

// State is the per-session debounce memory. The zero value is a fresh state.
type State struct {
	ClosedSince      time.Time
	PhoneLastFiredAt time.Time
	PhoneVisible     bool
}

// Step feeds one frame into the state machine. The returned events carry type,
// timestamp and duration only; ownership is bound by the caller.
func Step(st State, sig domain.Signal, threshold time.Duration) (State, []domain.Event) {
	var events []domain.Event
	now := sig.At

	if sig.EyesClosed {
		switch {
		case st.ClosedSince.IsZero():
			st.ClosedSince = now
		case now.Sub(st.ClosedSince) >= threshold:
			events = append(events, domain.Event{
				Type:      domain.EventEyeClosed,
				Timestamp: now,
				Duration:  now.Sub(st.ClosedSince),
			})
			st.ClosedSince = now
		}
	} else {
		st.ClosedSince = time.Time{}
	}

	if sig.PhoneVisible {
		if !st.PhoneVisible {
			events = append(events, domain.Event{
				Type:      domain.EventPhoneDetected,
				Timestamp: now,
			})
			st.PhoneVisible = true
			st.PhoneLastFiredAt = now
		}
	} else {
		st.PhoneVisible = false
	}

	return st, events
}
