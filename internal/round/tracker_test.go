package round

import (
	"math"
	"testing"
	"time"
)

func feedValues(t *Tracker, start time.Time, values []float64) []Event {
	var events []Event
	for i, v := range values {
		ts := start.Add(time.Duration(i) * 200 * time.Millisecond)
		var s Sample
		if math.IsNaN(v) {
			s = AbsentSample(ts)
		} else {
			s = NewSample(v, ts)
		}
		events = append(events, t.Update(s)...)
	}
	return events
}

func TestTrackerBasicRound(t *testing.T) {
	tracker := NewTracker(TrackerOptions{})
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	events := feedValues(tracker, start, []float64{1.0, 1.5, 2.0, math.NaN()})

	want := []EventType{EventRoundStart, EventMultiplierUpdate, EventMultiplierUpdate, EventCrash}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d: %#v", len(want), len(events), events)
	}
	for i, typ := range want {
		if events[i].Type != typ {
			t.Fatalf("event %d: expected %s, got %s", i, typ, events[i].Type)
		}
	}

	final := tracker.Finalized()
	if final.Status != StatusCrashed {
		t.Fatalf("expected CRASHED status, got %s", final.Status)
	}
	if final.MaxMultiplier != 2.0 || final.CrashMultiplier != 2.0 {
		t.Fatalf("expected crash at 2.0, got max=%v crash=%v", final.MaxMultiplier, final.CrashMultiplier)
	}
	if final.EventCount != 3 {
		t.Fatalf("expected 3 counted samples, got %d", final.EventCount)
	}
	if tracker.Active() {
		t.Fatal("tracker should be idle after crash")
	}
}

func TestTrackerNeverDoubleStarts(t *testing.T) {
	tracker := NewTracker(TrackerOptions{})
	start := time.Now().UTC()

	values := []float64{1.0, 2.0, math.NaN(), 1.1, 3.3, math.NaN(), math.NaN(), 1.2, math.NaN()}
	events := feedValues(tracker, start, values)

	started := false
	for _, e := range events {
		switch e.Type {
		case EventRoundStart:
			if started {
				t.Fatal("two ROUND_START events without an intervening CRASH")
			}
			started = true
		case EventCrash:
			if !started {
				t.Fatal("CRASH without ROUND_START")
			}
			started = false
		}
	}
}

func TestTrackerMalformedSampleActsAsCrash(t *testing.T) {
	tracker := NewTracker(TrackerOptions{})
	now := time.Now().UTC()

	tracker.Update(NewSample(1.0, now))
	tracker.Update(NewSample(4.2, now.Add(200*time.Millisecond)))
	events := tracker.Update(NewSample(-3.0, now.Add(400*time.Millisecond)))

	if len(events) != 1 || events[0].Type != EventCrash {
		t.Fatalf("malformed sample should crash the round, got %#v", events)
	}
	if got := tracker.Finalized().CrashMultiplier; got != 4.2 {
		t.Fatalf("expected crash multiplier 4.2, got %v", got)
	}
}

func TestTrackerIgnoresSubUnitySamplesWhileIdle(t *testing.T) {
	tracker := NewTracker(TrackerOptions{})
	now := time.Now().UTC()

	if events := tracker.Update(NewSample(0.4, now)); len(events) != 0 {
		t.Fatalf("sub-1.0 sample while idle should be ignored, got %#v", events)
	}
	if events := tracker.Update(AbsentSample(now)); len(events) != 0 {
		t.Fatalf("absent sample while idle should be ignored, got %#v", events)
	}
	if tracker.Active() {
		t.Fatal("tracker must stay idle")
	}
}

func TestTrackerHighMultiplierFiresOnce(t *testing.T) {
	tracker := NewTracker(TrackerOptions{HighMultiplierThreshold: 10})
	start := time.Now().UTC()

	events := feedValues(tracker, start, []float64{1.0, 9.9, 10.5, 12.0, 15.0, math.NaN()})

	highs := 0
	for _, e := range events {
		if e.Type == EventHighMultiplier {
			highs++
		}
	}
	if highs != 1 {
		t.Fatalf("HIGH_MULTIPLIER should fire exactly once per round, fired %d times", highs)
	}
}

func TestTrackerCrashDebounce(t *testing.T) {
	tracker := NewTracker(TrackerOptions{CrashMisses: 2})
	now := time.Now().UTC()

	tracker.Update(NewSample(1.0, now))
	if events := tracker.Update(AbsentSample(now.Add(200 * time.Millisecond))); len(events) != 0 {
		t.Fatalf("single miss should not crash with debounce of 2, got %#v", events)
	}

	// A usable sample resets the miss streak.
	tracker.Update(NewSample(1.8, now.Add(400*time.Millisecond)))
	if events := tracker.Update(AbsentSample(now.Add(600 * time.Millisecond))); len(events) != 0 {
		t.Fatalf("miss streak should have been reset, got %#v", events)
	}
	events := tracker.Update(AbsentSample(now.Add(800 * time.Millisecond)))
	if len(events) != 1 || events[0].Type != EventCrash {
		t.Fatalf("second consecutive miss should crash, got %#v", events)
	}
	if got := tracker.Finalized().CrashMultiplier; got != 1.8 {
		t.Fatalf("expected crash multiplier 1.8, got %v", got)
	}
}

func TestTrackerMaxMultiplierTracksPeakNotLast(t *testing.T) {
	tracker := NewTracker(TrackerOptions{})
	start := time.Now().UTC()

	feedValues(tracker, start, []float64{1.0, 3.7, 2.1, 1.4, math.NaN()})

	if got := tracker.Finalized().MaxMultiplier; got != 3.7 {
		t.Fatalf("expected peak 3.7, got %v", got)
	}
}
