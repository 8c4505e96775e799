package pattern

import (
	"math"

	"crashwatcher/internal/round"
)

// ZoneOptions tune the recent-outcome zone classification.
type ZoneOptions struct {
	// Window is the number of recent rounds classified.
	Window int
	// LowBound and HighBound delimit the LOW and HIGH outcome bands.
	LowBound  float64
	HighBound float64
}

func (o ZoneOptions) withDefaults() ZoneOptions {
	if o.Window <= 0 {
		o.Window = 10
	}
	if o.LowBound <= 0 {
		o.LowBound = 1.5
	}
	if o.HighBound <= o.LowBound {
		o.HighBound = 3.0
	}
	return o
}

// ZoneDetector classifies the recent window into LOW, MIXED, or HIGH based
// on where the crash outcomes cluster.
type ZoneDetector struct {
	opts ZoneOptions
}

// NewZoneDetector builds a ZoneDetector.
func NewZoneDetector(opts ZoneOptions) *ZoneDetector {
	return &ZoneDetector{opts: opts.withDefaults()}
}

func (d *ZoneDetector) ID() string { return "zone" }

// Detect computes the share of recent rounds in each band. A band owning at
// least 60% of the window names the zone; otherwise the zone is MIXED.
func (d *ZoneDetector) Detect(history []round.Summary) (Signal, error) {
	if len(history) == 0 {
		return Neutral(d.ID()), nil
	}

	window := history
	if len(window) > d.opts.Window {
		window = window[len(window)-d.opts.Window:]
	}

	low, high := 0, 0
	for _, r := range window {
		switch {
		case r.CrashMultiplier < d.opts.LowBound:
			low++
		case r.CrashMultiplier >= d.opts.HighBound:
			high++
		}
	}

	n := float64(len(window))
	lowShare := float64(low) / n
	highShare := float64(high) / n

	switch {
	case lowShare >= 0.6:
		return Signal{DetectorID: d.ID(), Label: "zone_low", Confidence: lowShare}, nil
	case highShare >= 0.6:
		return Signal{DetectorID: d.ID(), Label: "zone_high", Confidence: highShare}, nil
	default:
		mixed := 1 - math.Abs(lowShare-highShare)
		return Signal{DetectorID: d.ID(), Label: "zone_mixed", Confidence: 0.3 * mixed}, nil
	}
}
