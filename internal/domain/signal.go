package domain

import "time"

// Signal is one frame of detector output.
type Signal struct {
	EyesClosed   bool
	PhoneVisible bool
	PersonCount  int
	At           time.Time
}

// Distracted reports whether the frame counts toward distraction time.
func (s Signal) Distracted() bool {
	return s.EyesClosed || s.PhoneVisible
}
