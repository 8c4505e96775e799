package model

import (
	"fmt"
	"math"
	"sort"

	"crashwatcher/internal/features"
	"crashwatcher/internal/round"
)

// estimators cap their forecasts; crash games pay out far past this but
// betting on it is noise.
const maxEstimate = 50.0

const minTrainRounds = 5

type baseModel struct {
	id      string
	trained bool
}

func (b *baseModel) ID() string { return b.id }

func (b *baseModel) Health() HealthStatus {
	if !b.trained {
		return HealthDegraded
	}
	return HealthOK
}

func (b *baseModel) ensureTrainable(history []round.Summary) error {
	if len(history) < minTrainRounds {
		return fmt.Errorf("model %s: need %d rounds to train, have %d", b.id, minTrainRounds, len(history))
	}
	return nil
}

func crashSeries(history []round.Summary) []float64 {
	out := make([]float64, len(history))
	for i, r := range history {
		out[i] = r.CrashMultiplier
	}
	return out
}

func clampEstimate(v float64) float64 {
	if v < 1.0 {
		return 1.0
	}
	if v > maxEstimate {
		return maxEstimate
	}
	return v
}

func pointPrediction(id string, estimate, confidence float64) (Prediction, error) {
	estimate = clampEstimate(estimate)
	confidence = math.Max(0, math.Min(1, confidence))
	return Prediction{
		ModelID:       id,
		Variant:       PointEstimator,
		PointEstimate: estimate,
		Confidence:    confidence,
		RangeMin:      clampEstimate(estimate * 0.8),
		RangeMax:      estimate * 1.2,
		Health:        HealthOK,
	}, nil
}

// smaEstimator forecasts the trailing-window mean, blended toward the live
// feature mean so it reacts between retrains.
type smaEstimator struct {
	baseModel
	window int
	mean   float64
	std    float64
}

func newSMAEstimator(window int) *smaEstimator {
	if window <= 0 {
		window = 20
	}
	return &smaEstimator{baseModel: baseModel{id: "sma"}, window: window}
}

func (m *smaEstimator) Variant() Variant { return PointEstimator }

func (m *smaEstimator) Train(history []round.Summary) error {
	if err := m.ensureTrainable(history); err != nil {
		return err
	}
	crashes := crashSeries(history)
	if len(crashes) > m.window {
		crashes = crashes[len(crashes)-m.window:]
	}
	m.mean = meanOf(crashes)
	m.std = stdOf(crashes)
	m.trained = true
	return nil
}

func (m *smaEstimator) Predict(v features.Vector) (Prediction, error) {
	if !m.trained {
		return Prediction{}, ErrUntrained
	}
	estimate := 0.5*m.mean + 0.5*v[features.IdxMean]
	// Confidence shrinks as the training window got noisier.
	confidence := 1.0 / (1.0 + m.std)
	return pointPrediction(m.id, estimate, confidence)
}

// ewmaEstimator keeps an exponentially weighted mean of crash outcomes and
// nudges it by the live trend slope.
type ewmaEstimator struct {
	baseModel
	alpha float64
	value float64
	resid float64
}

func newEWMAEstimator(alpha float64) *ewmaEstimator {
	if alpha <= 0 || alpha >= 1 {
		alpha = 0.25
	}
	return &ewmaEstimator{baseModel: baseModel{id: "ewma"}, alpha: alpha}
}

func (m *ewmaEstimator) Variant() Variant { return PointEstimator }

func (m *ewmaEstimator) Train(history []round.Summary) error {
	if err := m.ensureTrainable(history); err != nil {
		return err
	}
	crashes := crashSeries(history)
	value := crashes[0]
	var residSum float64
	for _, c := range crashes[1:] {
		d := c - value
		residSum += d * d
		value = m.alpha*c + (1-m.alpha)*value
	}
	m.value = value
	m.resid = math.Sqrt(residSum / float64(len(crashes)-1))
	m.trained = true
	return nil
}

func (m *ewmaEstimator) Predict(v features.Vector) (Prediction, error) {
	if !m.trained {
		return Prediction{}, ErrUntrained
	}
	estimate := m.value + 0.5*v[features.IdxTrendSlope]
	confidence := 1.0 / (1.0 + m.resid)
	return pointPrediction(m.id, estimate, confidence)
}

// trendEstimator fits a least-squares line over the training series and
// extrapolates one step past its end.
type trendEstimator struct {
	baseModel
	slope     float64
	intercept float64
	n         int
	fitErr    float64
}

func newTrendEstimator() *trendEstimator {
	return &trendEstimator{baseModel: baseModel{id: "trend"}}
}

func (m *trendEstimator) Variant() Variant { return PointEstimator }

func (m *trendEstimator) Train(history []round.Summary) error {
	if err := m.ensureTrainable(history); err != nil {
		return err
	}
	crashes := crashSeries(history)
	n := float64(len(crashes))
	var sumX, sumY, sumXY, sumXX float64
	for i, c := range crashes {
		x := float64(i)
		sumX += x
		sumY += c
		sumXY += x * c
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return fmt.Errorf("model %s: degenerate series", m.id)
	}
	m.slope = (n*sumXY - sumX*sumY) / denom
	m.intercept = (sumY - m.slope*sumX) / n

	var errSum float64
	for i, c := range crashes {
		d := c - (m.intercept + m.slope*float64(i))
		errSum += d * d
	}
	m.fitErr = math.Sqrt(errSum / n)
	m.n = len(crashes)
	m.trained = true
	return nil
}

func (m *trendEstimator) Predict(v features.Vector) (Prediction, error) {
	if !m.trained {
		return Prediction{}, ErrUntrained
	}
	estimate := m.intercept + m.slope*float64(m.n)
	confidence := 1.0 / (1.0 + m.fitErr)
	_ = v
	return pointPrediction(m.id, estimate, confidence)
}

// medianEstimator forecasts the trained median; robust against the fat tail
// of occasional huge multipliers.
type medianEstimator struct {
	baseModel
	median float64
	iqr    float64
}

func newMedianEstimator() *medianEstimator {
	return &medianEstimator{baseModel: baseModel{id: "median"}}
}

func (m *medianEstimator) Variant() Variant { return PointEstimator }

func (m *medianEstimator) Train(history []round.Summary) error {
	if err := m.ensureTrainable(history); err != nil {
		return err
	}
	crashes := crashSeries(history)
	sort.Float64s(crashes)
	m.median = quantileOf(crashes, 0.5)
	m.iqr = quantileOf(crashes, 0.75) - quantileOf(crashes, 0.25)
	m.trained = true
	return nil
}

func (m *medianEstimator) Predict(v features.Vector) (Prediction, error) {
	if !m.trained {
		return Prediction{}, ErrUntrained
	}
	estimate := 0.7*m.median + 0.3*v[features.IdxMedian]
	confidence := 1.0 / (1.0 + m.iqr)
	return pointPrediction(m.id, estimate, confidence)
}

// quantileEstimator forecasts a conservative low quantile of the trained
// outcome distribution, anchoring the ensemble against over-betting.
type quantileEstimator struct {
	baseModel
	q     float64
	value float64
	n     int
}

func newQuantileEstimator(q float64) *quantileEstimator {
	if q <= 0 || q >= 1 {
		q = 0.35
	}
	return &quantileEstimator{baseModel: baseModel{id: "quantile"}, q: q}
}

func (m *quantileEstimator) Variant() Variant { return PointEstimator }

func (m *quantileEstimator) Train(history []round.Summary) error {
	if err := m.ensureTrainable(history); err != nil {
		return err
	}
	crashes := crashSeries(history)
	sort.Float64s(crashes)
	m.value = quantileOf(crashes, m.q)
	m.n = len(crashes)
	m.trained = true
	return nil
}

func (m *quantileEstimator) Predict(v features.Vector) (Prediction, error) {
	if !m.trained {
		return Prediction{}, ErrUntrained
	}
	// More training data, tighter quantile estimate.
	confidence := math.Min(1, float64(m.n)/50.0)
	_ = v
	return pointPrediction(m.id, m.value, confidence)
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdOf(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := meanOf(values)
	sum := 0.0
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

// quantileOf interpolates the q-quantile of an already sorted slice.
func quantileOf(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
