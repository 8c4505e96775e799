package pattern

import (
	"fmt"
	"math"

	"crashwatcher/internal/round"
)

// CycleOptions tune periodicity detection.
type CycleOptions struct {
	// MinLag and MaxLag bound the period search, in rounds.
	MinLag int
	MaxLag int
	// MinCorrelation is the autocorrelation below which no cycle is reported.
	MinCorrelation float64
}

func (o CycleOptions) withDefaults() CycleOptions {
	if o.MinLag < 2 {
		o.MinLag = 3
	}
	if o.MaxLag <= o.MinLag {
		o.MaxLag = 12
	}
	if o.MinCorrelation <= 0 {
		o.MinCorrelation = 0.35
	}
	return o
}

// CycleDetector looks for periodic regularity in crash outcomes by scanning
// lagged autocorrelation of the recent series.
type CycleDetector struct {
	opts CycleOptions
}

// NewCycleDetector builds a CycleDetector.
func NewCycleDetector(opts CycleOptions) *CycleDetector {
	return &CycleDetector{opts: opts.withDefaults()}
}

func (d *CycleDetector) ID() string { return "cycle" }

// Detect reports the strongest lag whose autocorrelation clears the minimum.
func (d *CycleDetector) Detect(history []round.Summary) (Signal, error) {
	// Need at least three repetitions of the longest candidate period.
	if len(history) < 3*d.opts.MaxLag {
		return Neutral(d.ID()), nil
	}

	series := make([]float64, len(history))
	for i, r := range history {
		series[i] = r.CrashMultiplier
	}

	bestLag, bestCorr := 0, 0.0
	for lag := d.opts.MinLag; lag <= d.opts.MaxLag; lag++ {
		corr := autocorrelation(series, lag)
		if corr > bestCorr {
			bestCorr, bestLag = corr, lag
		}
	}

	if bestCorr < d.opts.MinCorrelation {
		return Neutral(d.ID()), nil
	}

	return Signal{
		DetectorID: d.ID(),
		Label:      fmt.Sprintf("cycle_%d", bestLag),
		Confidence: math.Min(1, bestCorr),
	}, nil
}

func autocorrelation(series []float64, lag int) float64 {
	n := len(series)
	if lag <= 0 || lag >= n {
		return 0
	}

	var sum float64
	for _, v := range series {
		sum += v
	}
	mean := sum / float64(n)

	var num, denom float64
	for i := 0; i < n; i++ {
		d := series[i] - mean
		denom += d * d
		if i+lag < n {
			num += d * (series[i+lag] - mean)
		}
	}
	if denom == 0 {
		return 0
	}
	return num / denom
}
