package round

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFinalized rejects appending a round that is still running.
	ErrNotFinalized = errors.New("round: cannot append unfinalized summary")
	// ErrOutOfOrder rejects an append that would break time ordering.
	ErrOutOfOrder = errors.New("round: summary older than history tail")
)

// History is an append-only, time-ordered window of finalized rounds. Once
// capacity is exceeded the oldest round is evicted.
type History struct {
	capacity int
	rounds   []Summary
}

// NewHistory builds a History holding at most capacity rounds.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 500
	}
	return &History{capacity: capacity}
}

// Append adds a finalized round, evicting the oldest entry when full.
func (h *History) Append(s Summary) error {
	if !s.Finalized() {
		return fmt.Errorf("%w: round %d", ErrNotFinalized, s.Number)
	}
	if n := len(h.rounds); n > 0 && s.EndTime.Before(h.rounds[n-1].EndTime) {
		return fmt.Errorf("%w: round %d", ErrOutOfOrder, s.Number)
	}
	h.rounds = append(h.rounds, s)
	if len(h.rounds) > h.capacity {
		h.rounds = h.rounds[len(h.rounds)-h.capacity:]
	}
	return nil
}

// Len returns the number of retained rounds.
func (h *History) Len() int {
	return len(h.rounds)
}

// Tail returns a copy of the most recent n rounds (oldest first). n <= 0 or
// n >= Len returns the whole window.
func (h *History) Tail(n int) []Summary {
	if n <= 0 || n > len(h.rounds) {
		n = len(h.rounds)
	}
	out := make([]Summary, n)
	copy(out, h.rounds[len(h.rounds)-n:])
	return out
}

// Snapshot returns an immutable copy of the full window, suitable for handing
// to a background trainer while the live history keeps growing.
func (h *History) Snapshot() []Summary {
	return h.Tail(0)
}

// Last returns the most recent round.
func (h *History) Last() (Summary, bool) {
	if len(h.rounds) == 0 {
		return Summary{}, false
	}
	return h.rounds[len(h.rounds)-1], true
}
