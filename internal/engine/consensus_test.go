package engine

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"crashwatcher/internal/model"
)

func point(id string, estimate float64) model.Prediction {
	return model.Prediction{
		ModelID:       id,
		Variant:       model.PointEstimator,
		PointEstimate: estimate,
		Confidence:    0.8,
		Health:        model.HealthOK,
	}
}

func vote(id string, positive bool) model.Prediction {
	return model.Prediction{
		ModelID:    id,
		Variant:    model.ThresholdClassifier,
		Vote:       positive,
		Confidence: 0.8,
		Health:     model.HealthOK,
	}
}

func TestAggregateEmptyIsDegradedSentinel(t *testing.T) {
	e := New(Options{}, zerolog.Nop())

	c := e.Aggregate(nil)
	require.True(t, c.Degraded)
	require.Zero(t, c.Confidence)
	require.Zero(t, c.VoteFraction)
}

func TestAggregateConfidenceZeroOnlyWhenEmpty(t *testing.T) {
	e := New(Options{}, zerolog.Nop())

	// Even maximally disagreeing predictions yield non-zero confidence.
	c := e.Aggregate([]model.Prediction{point("a", 1.0), point("b", 40.0), vote("c", false)})
	require.False(t, c.Degraded)
	require.Greater(t, c.Confidence, 0.0)
}

func TestAggregateUniformWeightedMean(t *testing.T) {
	e := New(Options{}, zerolog.Nop())

	c := e.Aggregate([]model.Prediction{point("a", 2.0), point("b", 4.0)})
	require.InDelta(t, 3.0, c.PointEstimate, 1e-9)
}

func TestAggregateWeightOverride(t *testing.T) {
	e := New(Options{Weights: map[string]float64{"a": 3.0}}, zerolog.Nop())

	c := e.Aggregate([]model.Prediction{point("a", 2.0), point("b", 4.0)})
	// (3*2 + 1*4) / 4 = 2.5
	require.InDelta(t, 2.5, c.PointEstimate, 1e-9)
}

func TestAggregateVoteFraction(t *testing.T) {
	e := New(Options{}, zerolog.Nop())

	c := e.Aggregate([]model.Prediction{
		point("p", 2.0),
		vote("a", true), vote("b", true), vote("c", true), vote("d", false),
	})
	require.InDelta(t, 0.75, c.VoteFraction, 1e-9)
}

func TestAggregateRangeFlooredAtOne(t *testing.T) {
	e := New(Options{Delta: 0.2}, zerolog.Nop())

	c := e.Aggregate([]model.Prediction{point("a", 1.1)})
	require.Equal(t, 1.0, c.RangeMin)
	require.InDelta(t, 1.32, c.RangeMax, 1e-9)

	c = e.Aggregate([]model.Prediction{point("a", 3.0)})
	require.InDelta(t, 2.4, c.RangeMin, 1e-9)
	require.InDelta(t, 3.6, c.RangeMax, 1e-9)
}

func TestAggregateAgreementDrivesConfidence(t *testing.T) {
	e := New(Options{AgreementBand: 0.2}, zerolog.Nop())

	tight := e.Aggregate([]model.Prediction{point("a", 2.0), point("b", 2.1), point("c", 1.9)})
	loose := e.Aggregate([]model.Prediction{point("a", 1.0), point("b", 5.0), point("c", 20.0)})
	require.Greater(t, tight.Confidence, loose.Confidence)
}

func TestAggregateClassifierOnly(t *testing.T) {
	e := New(Options{}, zerolog.Nop())

	c := e.Aggregate([]model.Prediction{vote("a", true), vote("b", true)})
	require.False(t, c.Degraded)
	require.Equal(t, 1.0, c.VoteFraction)
	require.Equal(t, 1.0, c.PointEstimate, "classifier-only consensus anchors at the floor")
	require.Equal(t, 1.0, c.RangeMin)
}
