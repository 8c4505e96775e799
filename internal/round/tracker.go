package round

// TrackerOptions tune lifecycle detection.
type TrackerOptions struct {
	// HighMultiplierThreshold fires EventHighMultiplier the first time a
	// round's maximum crosses it.
	HighMultiplierThreshold float64
	// CrashMisses is how many consecutive absent samples finalize an active
	// round. The feed's single-miss semantics make a transient read failure
	// indistinguishable from a real crash, so the default stays at 1; raising
	// it trades crash-detection latency for robustness.
	CrashMisses int
}

func (o TrackerOptions) withDefaults() TrackerOptions {
	if o.HighMultiplierThreshold <= 0 {
		o.HighMultiplierThreshold = 10.0
	}
	if o.CrashMisses <= 0 {
		o.CrashMisses = 1
	}
	return o
}

// Tracker segments the raw sample stream into rounds. It is a two-state
// machine (idle, active); Update never fails and returns the lifecycle events
// produced by the sample, in order.
type Tracker struct {
	opts TrackerOptions

	active     bool
	current    Summary
	roundSeq   int64
	highFired  bool
	missStreak int
}

// NewTracker constructs a Tracker in the idle state.
func NewTracker(opts TrackerOptions) *Tracker {
	return &Tracker{opts: opts.withDefaults()}
}

// Active reports whether a round is currently running.
func (t *Tracker) Active() bool {
	return t.active
}

// Current returns a copy of the in-flight round, if any.
func (t *Tracker) Current() (Summary, bool) {
	return t.current, t.active
}

// Update feeds one sample through the state machine.
//
// Idle: the first usable sample with value >= 1.0 opens a round and emits
// ROUND_START. Active: a usable sample updates the running maximum and emits
// MULTIPLIER_UPDATE (plus HIGH_MULTIPLIER once per round); an absent or
// malformed sample counts toward the miss streak and, once the streak reaches
// CrashMisses, finalizes the round and emits CRASH.
func (t *Tracker) Update(sample Sample) []Event {
	if !t.active {
		if !sample.usable() || sample.Value < 1.0 {
			return nil
		}
		return []Event{t.begin(sample)}
	}

	if !sample.usable() {
		t.missStreak++
		if t.missStreak < t.opts.CrashMisses {
			return nil
		}
		return []Event{t.finalize(sample)}
	}

	t.missStreak = 0
	t.current.EventCount++
	if sample.Value > t.current.MaxMultiplier {
		t.current.MaxMultiplier = sample.Value
	}
	t.current.EndTime = sample.Timestamp
	t.current.Duration = sample.Timestamp.Sub(t.current.StartTime)

	events := []Event{{
		Type:       EventMultiplierUpdate,
		Round:      t.current.Number,
		Multiplier: sample.Value,
		Timestamp:  sample.Timestamp,
	}}

	if !t.highFired && t.current.MaxMultiplier >= t.opts.HighMultiplierThreshold {
		t.highFired = true
		events = append(events, Event{
			Type:       EventHighMultiplier,
			Round:      t.current.Number,
			Multiplier: t.current.MaxMultiplier,
			Timestamp:  sample.Timestamp,
		})
	}

	return events
}

func (t *Tracker) begin(sample Sample) Event {
	t.roundSeq++
	t.active = true
	t.highFired = false
	t.missStreak = 0
	t.current = Summary{
		Number:        t.roundSeq,
		StartTime:     sample.Timestamp,
		EndTime:       sample.Timestamp,
		MaxMultiplier: sample.Value,
		EventCount:    1,
		Status:        StatusRunning,
	}
	return Event{
		Type:       EventRoundStart,
		Round:      t.current.Number,
		Multiplier: sample.Value,
		Timestamp:  sample.Timestamp,
	}
}

func (t *Tracker) finalize(sample Sample) Event {
	t.current.CrashMultiplier = t.current.MaxMultiplier
	t.current.Status = StatusCrashed
	t.current.Duration = t.current.EndTime.Sub(t.current.StartTime)
	t.active = false
	t.missStreak = 0

	return Event{
		Type:       EventCrash,
		Round:      t.current.Number,
		Multiplier: t.current.CrashMultiplier,
		Timestamp:  sample.Timestamp,
	}
}

// Finalized returns the last sealed round. Only meaningful immediately after
// Update returned a CRASH event.
func (t *Tracker) Finalized() Summary {
	return t.current
}
