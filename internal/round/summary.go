package round

import "time"

// Status marks the lifecycle stage of a round.
type Status string

const (
	StatusRunning Status = "RUNNING"
	StatusCrashed Status = "CRASHED"
)

// Summary describes one round of the game. It is mutated by the Tracker while
// the round runs and becomes immutable once Status flips to CRASHED.
type Summary struct {
	Number          int64
	StartTime       time.Time
	EndTime         time.Time
	MaxMultiplier   float64
	CrashMultiplier float64
	Duration        time.Duration
	EventCount      int
	Status          Status
}

// Finalized reports whether the summary has been sealed by a crash.
func (s Summary) Finalized() bool {
	return s.Status == StatusCrashed
}
