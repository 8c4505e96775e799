package features

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"crashwatcher/internal/round"
)

// ErrNotReady signals that the round history is shorter than the configured
// minimum lookback. Callers are expected to skip forecasting, not to abort.
var ErrNotReady = errors.New("features: insufficient round history")

// Vector is a fixed-length ordered feature array. Index semantics are fixed
// per configuration; see the Idx constants.
type Vector []float64

// Feature vector index layout.
const (
	IdxMean = iota
	IdxMedian
	IdxStd
	IdxMin
	IdxMax
	IdxTrendSlope
	IdxStreakAbove
	IdxStreakBelow
	IdxDurationMean
	IdxDurationStd
	IdxLastCrash
	IdxTimeOfDay

	VectorLen
)

// Options tune the extraction window.
type Options struct {
	// MinLookback is the minimum number of finalized rounds required.
	MinLookback int
	// MaxLookback caps the adaptive trailing window.
	MaxLookback int
	// TrendWindow is the number of most recent rounds used for the slope.
	TrendWindow int
	// StreakThreshold separates "above" from "below" rounds when counting
	// consecutive outcomes.
	StreakThreshold float64
}

func (o Options) withDefaults() Options {
	if o.MinLookback <= 0 {
		o.MinLookback = 5
	}
	if o.MaxLookback < o.MinLookback {
		o.MaxLookback = 50
	}
	if o.TrendWindow <= 1 {
		o.TrendWindow = 8
	}
	if o.StreakThreshold <= 0 {
		o.StreakThreshold = 2.0
	}
	return o
}

// Extractor converts a trailing window of round history into a Vector. The
// window grows adaptively from MinLookback up to MaxLookback as history
// accumulates, so the vector shape never changes.
type Extractor struct {
	opts Options
}

// NewExtractor builds an Extractor.
func NewExtractor(opts Options) *Extractor {
	return &Extractor{opts: opts.withDefaults()}
}

// MinLookback exposes the configured readiness bound.
func (e *Extractor) MinLookback() int {
	return e.opts.MinLookback
}

// Extract computes the feature vector over the trailing window. It returns
// ErrNotReady when fewer than MinLookback rounds exist; at exactly
// MinLookback it succeeds.
func (e *Extractor) Extract(history *round.History) (Vector, error) {
	if history == nil || history.Len() < e.opts.MinLookback {
		have := 0
		if history != nil {
			have = history.Len()
		}
		return nil, fmt.Errorf("%w: have %d rounds, need %d", ErrNotReady, have, e.opts.MinLookback)
	}

	window := history.Tail(e.opts.MaxLookback)
	crashes := make([]float64, len(window))
	durations := make([]float64, len(window))
	for i, r := range window {
		crashes[i] = r.CrashMultiplier
		durations[i] = r.Duration.Seconds()
	}

	v := make(Vector, VectorLen)
	v[IdxMean] = mean(crashes)
	v[IdxMedian] = median(crashes)
	v[IdxStd] = std(crashes)
	v[IdxMin], v[IdxMax] = minMax(crashes)
	v[IdxTrendSlope] = slope(tailOf(crashes, e.opts.TrendWindow))
	above, below := streaks(crashes, e.opts.StreakThreshold)
	v[IdxStreakAbove] = float64(above)
	v[IdxStreakBelow] = float64(below)
	v[IdxDurationMean] = mean(durations)
	v[IdxDurationStd] = std(durations)
	v[IdxLastCrash] = crashes[len(crashes)-1]
	v[IdxTimeOfDay] = timeOfDayBucket(window[len(window)-1])

	return v, nil
}

func tailOf(values []float64, n int) []float64 {
	if n >= len(values) {
		return values
	}
	return values[len(values)-n:]
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func std(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	sum := 0.0
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func minMax(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// slope is the least-squares slope of values against their index.
func slope(values []float64) float64 {
	n := float64(len(values))
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, v := range values {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

// streaks counts consecutive rounds at the end of the window strictly above
// and at-or-below the threshold. At most one of the two is non-zero.
func streaks(crashes []float64, threshold float64) (above, below int) {
	for i := len(crashes) - 1; i >= 0; i-- {
		if crashes[i] > threshold {
			if below > 0 {
				break
			}
			above++
		} else {
			if above > 0 {
				break
			}
			below++
		}
	}
	return above, below
}

// timeOfDayBucket maps the round's end hour (UTC) to one of six 4-hour
// buckets, encoded as 0..5.
func timeOfDayBucket(r round.Summary) float64 {
	return float64(r.EndTime.UTC().Hour() / 4)
}
