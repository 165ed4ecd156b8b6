package clock

import "time"

// Clock abstracts time so the ledger and controller stay deterministic in tests.
type Clock interface {
	Now() time.Time
}

// System reads the wall clock. The monotonic reading is kept so frame
// intervals stay correct across wall-clock jumps.
type System struct{}

func (System) Now() time.Time {
	return time.Now()
}
