package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventEyeClosed     EventType = "eye_closed"
	EventPhoneDetected EventType = "phone_detected"
)

// EventTypes lists every event type in display order.
var EventTypes = []EventType{EventEyeClosed, EventPhoneDetected}

func (t EventType) Valid() bool {
	switch t {
	case EventEyeClosed, EventPhoneDetected:
		return true
	}
	return false
}

// Event is a finalized distraction occurrence. Timestamp marks when it ended.
type Event struct {
	ID        string
	UserID    string
	SessionID string
	Timestamp time.Time
	Type      EventType
	Duration  time.Duration
}

// Bind assigns an identity and ownership to an event produced by the debouncer.
func (e Event) Bind(userID, sessionID string) Event {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.UserID = userID
	e.SessionID = sessionID
	return e
}
