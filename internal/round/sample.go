package round

import (
	"math"
	"time"
)

// Sample is one observation delivered by the multiplier feed. A sample with
// Present=false means the feed could not read a value at that instant.
type Sample struct {
	Value     float64
	Present   bool
	Timestamp time.Time
}

// NewSample builds a present sample.
func NewSample(value float64, ts time.Time) Sample {
	return Sample{Value: value, Present: true, Timestamp: ts}
}

// AbsentSample builds a sample representing a failed or blank read.
func AbsentSample(ts time.Time) Sample {
	return Sample{Present: false, Timestamp: ts}
}

// usable reports whether the sample carries a well-formed positive value.
// A non-positive or non-finite value is treated exactly like an absent one.
func (s Sample) usable() bool {
	if !s.Present {
		return false
	}
	if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
		return false
	}
	return s.Value > 0
}
