package model

import (
	"errors"

	"crashwatcher/internal/features"
	"crashwatcher/internal/round"
)

// Variant tags how a predictor's output is consumed by the consensus engine.
type Variant string

const (
	// PointEstimator predicts the next crash multiplier directly.
	PointEstimator Variant = "point_estimator"
	// ThresholdClassifier votes on whether the next crash clears a threshold.
	ThresholdClassifier Variant = "threshold_classifier"
)

// HealthStatus reflects a predictor's fitness to contribute.
type HealthStatus string

const (
	HealthOK       HealthStatus = "OK"
	HealthDegraded HealthStatus = "DEGRADED"
)

// ErrUntrained is returned by Predict before the first successful training.
var ErrUntrained = errors.New("model: predictor not trained")

// Prediction is a single model's forecast for the next round.
type Prediction struct {
	ModelID       string
	Variant       Variant
	PointEstimate float64
	Confidence    float64
	RangeMin      float64
	RangeMax      float64
	Vote          bool
	Health        HealthStatus
}

// Predictor is the capability every ensemble member implements. Train and
// Predict are expected to be cheap relative to the retrain budget; anything
// they return (or panic with) is isolated by the ensemble.
type Predictor interface {
	ID() string
	Variant() Variant
	Train(history []round.Summary) error
	Predict(v features.Vector) (Prediction, error)
	Health() HealthStatus
}
