package pattern

import (
	"math"

	"crashwatcher/internal/round"
)

// StreakOptions tune run detection.
type StreakOptions struct {
	// Threshold separates high from low outcomes.
	Threshold float64
	// MinRun is the shortest run worth reporting.
	MinRun int
}

func (o StreakOptions) withDefaults() StreakOptions {
	if o.Threshold <= 0 {
		o.Threshold = 2.0
	}
	if o.MinRun <= 1 {
		o.MinRun = 3
	}
	return o
}

// StreakDetector reports runs: consecutive rounds staying on one side of the
// threshold ("cold_streak"/"hot_streak") and monotone stepping sequences
// ("stepping_up"/"stepping_down").
type StreakDetector struct {
	opts StreakOptions
}

// NewStreakDetector builds a StreakDetector.
func NewStreakDetector(opts StreakOptions) *StreakDetector {
	return &StreakDetector{opts: opts.withDefaults()}
}

func (d *StreakDetector) ID() string { return "streak" }

// Detect inspects the tail of the history for the longest active run.
func (d *StreakDetector) Detect(history []round.Summary) (Signal, error) {
	if len(history) < d.opts.MinRun {
		return Neutral(d.ID()), nil
	}

	sideRun, sideLabel := d.sideRun(history)
	stepRun, stepLabel := d.steppingRun(history)

	run, label := sideRun, sideLabel
	if stepRun > run {
		run, label = stepRun, stepLabel
	}
	if run < d.opts.MinRun {
		return Neutral(d.ID()), nil
	}

	// Confidence saturates as the run stretches past twice the minimum.
	confidence := math.Min(1, float64(run)/float64(2*d.opts.MinRun))
	return Signal{DetectorID: d.ID(), Label: label, Confidence: confidence}, nil
}

func (d *StreakDetector) sideRun(history []round.Summary) (int, string) {
	last := history[len(history)-1].CrashMultiplier
	below := last < d.opts.Threshold
	run := 0
	for i := len(history) - 1; i >= 0; i-- {
		if (history[i].CrashMultiplier < d.opts.Threshold) != below {
			break
		}
		run++
	}
	if below {
		return run, "cold_streak"
	}
	return run, "hot_streak"
}

func (d *StreakDetector) steppingRun(history []round.Summary) (int, string) {
	if len(history) < 2 {
		return 0, "none"
	}
	up := history[len(history)-1].CrashMultiplier > history[len(history)-2].CrashMultiplier
	run := 1
	for i := len(history) - 1; i > 0; i-- {
		rising := history[i].CrashMultiplier > history[i-1].CrashMultiplier
		if rising != up {
			break
		}
		run++
	}
	if up {
		return run, "stepping_up"
	}
	return run, "stepping_down"
}
