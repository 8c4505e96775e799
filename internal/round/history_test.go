package round

import (
	"errors"
	"testing"
	"time"
)

func crashedSummary(n int64, crash float64, end time.Time) Summary {
	return Summary{
		Number:          n,
		StartTime:       end.Add(-5 * time.Second),
		EndTime:         end,
		MaxMultiplier:   crash,
		CrashMultiplier: crash,
		Duration:        5 * time.Second,
		EventCount:      10,
		Status:          StatusCrashed,
	}
}

func TestHistoryEviction(t *testing.T) {
	h := NewHistory(3)
	base := time.Now().UTC()

	for i := int64(1); i <= 5; i++ {
		if err := h.Append(crashedSummary(i, 2.0, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("append round %d: %v", i, err)
		}
	}

	if h.Len() != 3 {
		t.Fatalf("expected window of 3, got %d", h.Len())
	}
	tail := h.Tail(0)
	if tail[0].Number != 3 || tail[2].Number != 5 {
		t.Fatalf("expected rounds 3..5 retained, got %d..%d", tail[0].Number, tail[2].Number)
	}
}

func TestHistoryRejectsRunningRound(t *testing.T) {
	h := NewHistory(10)
	s := crashedSummary(1, 2.0, time.Now().UTC())
	s.Status = StatusRunning

	if err := h.Append(s); !errors.Is(err, ErrNotFinalized) {
		t.Fatalf("expected ErrNotFinalized, got %v", err)
	}
}

func TestHistoryRejectsOutOfOrderAppend(t *testing.T) {
	h := NewHistory(10)
	base := time.Now().UTC()

	if err := h.Append(crashedSummary(1, 2.0, base)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := h.Append(crashedSummary(2, 2.0, base.Add(-time.Minute))); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("expected ErrOutOfOrder, got %v", err)
	}
}

func TestHistorySnapshotIsDetached(t *testing.T) {
	h := NewHistory(10)
	base := time.Now().UTC()
	if err := h.Append(crashedSummary(1, 2.0, base)); err != nil {
		t.Fatalf("append: %v", err)
	}

	snap := h.Snapshot()
	if err := h.Append(crashedSummary(2, 3.0, base.Add(time.Minute))); err != nil {
		t.Fatalf("append: %v", err)
	}

	if len(snap) != 1 {
		t.Fatalf("snapshot must not observe later appends, len=%d", len(snap))
	}
}
