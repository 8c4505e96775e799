package model

import (
	"fmt"
	"math"

	"crashwatcher/internal/features"
	"crashwatcher/internal/round"
)

// example is one labeled training window for threshold classifiers.
type example struct {
	mean        float64
	belowStreak float64
	slope       float64
	positive    bool
}

const exampleLookback = 5

// buildExamples turns the history into (window stats, did-next-round-clear)
// pairs. The window precedes the labeled round, so no example sees its own
// outcome.
func buildExamples(history []round.Summary, threshold float64) []example {
	if len(history) <= exampleLookback {
		return nil
	}
	out := make([]example, 0, len(history)-exampleLookback)
	for i := exampleLookback; i < len(history); i++ {
		window := history[i-exampleLookback : i]
		crashes := crashSeries(window)
		out = append(out, example{
			mean:        meanOf(crashes),
			belowStreak: float64(belowStreak(crashes, threshold)),
			slope:       slopeOf(crashes),
			positive:    history[i].CrashMultiplier >= threshold,
		})
	}
	return out
}

// oversample duplicates minority-class examples until both classes are
// balanced. Training-time only; inference never sees synthetic examples.
func oversample(examples []example) []example {
	var pos, neg []example
	for _, ex := range examples {
		if ex.positive {
			pos = append(pos, ex)
		} else {
			neg = append(neg, ex)
		}
	}
	if len(pos) == 0 || len(neg) == 0 || len(pos) == len(neg) {
		return examples
	}
	minority, target := pos, len(neg)
	if len(neg) < len(pos) {
		minority, target = neg, len(pos)
	}
	balanced := append([]example(nil), examples...)
	for i := len(minority); i < target; i++ {
		balanced = append(balanced, minority[i%len(minority)])
	}
	return balanced
}

func belowStreak(crashes []float64, threshold float64) int {
	streak := 0
	for i := len(crashes) - 1; i >= 0; i-- {
		if crashes[i] >= threshold {
			break
		}
		streak++
	}
	return streak
}

func slopeOf(values []float64) float64 {
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

func classifierPrediction(id string, threshold float64, vote bool, confidence float64) (Prediction, error) {
	return Prediction{
		ModelID:       id,
		Variant:       ThresholdClassifier,
		PointEstimate: threshold,
		Confidence:    math.Max(0, math.Min(1, confidence)),
		Vote:          vote,
		Health:        HealthOK,
	}, nil
}

// frequencyClassifier votes on the raw base rate of rounds clearing the
// threshold. Balancing would distort the rate it estimates, so it trains on
// the unmodified label distribution.
type frequencyClassifier struct {
	baseModel
	threshold float64
	rate      float64
}

func newFrequencyClassifier(threshold float64) *frequencyClassifier {
	return &frequencyClassifier{baseModel: baseModel{id: "frequency"}, threshold: threshold}
}

func (m *frequencyClassifier) Variant() Variant { return ThresholdClassifier }

func (m *frequencyClassifier) Train(history []round.Summary) error {
	if err := m.ensureTrainable(history); err != nil {
		return err
	}
	positives := 0
	for _, r := range history {
		if r.CrashMultiplier >= m.threshold {
			positives++
		}
	}
	m.rate = float64(positives) / float64(len(history))
	m.trained = true
	return nil
}

func (m *frequencyClassifier) Predict(v features.Vector) (Prediction, error) {
	if !m.trained {
		return Prediction{}, ErrUntrained
	}
	_ = v
	return classifierPrediction(m.id, m.threshold, m.rate >= 0.5, math.Abs(2*m.rate-1))
}

// logisticClassifier fits a small logistic regression over window statistics
// with gradient descent on the balanced example set.
type logisticClassifier struct {
	baseModel
	threshold float64
	weights   [4]float64
}

func newLogisticClassifier(threshold float64) *logisticClassifier {
	return &logisticClassifier{baseModel: baseModel{id: "logistic"}, threshold: threshold}
}

func (m *logisticClassifier) Variant() Variant { return ThresholdClassifier }

func (m *logisticClassifier) Train(history []round.Summary) error {
	if err := m.ensureTrainable(history); err != nil {
		return err
	}
	examples := oversample(buildExamples(history, m.threshold))
	if len(examples) == 0 {
		return fmt.Errorf("model %s: no training examples", m.id)
	}

	var w [4]float64
	const (
		epochs = 200
		lr     = 0.05
	)
	for epoch := 0; epoch < epochs; epoch++ {
		for _, ex := range examples {
			x := [4]float64{1, ex.mean, ex.belowStreak, ex.slope}
			p := sigmoid(dot(w, x))
			y := 0.0
			if ex.positive {
				y = 1.0
			}
			grad := p - y
			for i := range w {
				w[i] -= lr * grad * x[i]
			}
		}
	}
	m.weights = w
	m.trained = true
	return nil
}

func (m *logisticClassifier) Predict(v features.Vector) (Prediction, error) {
	if !m.trained {
		return Prediction{}, ErrUntrained
	}
	x := [4]float64{1, v[features.IdxMean], v[features.IdxStreakBelow], v[features.IdxTrendSlope]}
	p := sigmoid(dot(m.weights, x))
	return classifierPrediction(m.id, m.threshold, p >= 0.5, math.Abs(2*p-1))
}

// streakClassifier bets on reversion: once enough consecutive rounds stayed
// below the threshold, it votes that the next one clears it. The streak
// cutoff is calibrated on the balanced example set.
type streakClassifier struct {
	baseModel
	threshold float64
	cutoff    float64
	accuracy  float64
}

func newStreakClassifier(threshold float64) *streakClassifier {
	return &streakClassifier{baseModel: baseModel{id: "streak"}, threshold: threshold, cutoff: 3}
}

func (m *streakClassifier) Variant() Variant { return ThresholdClassifier }

func (m *streakClassifier) Train(history []round.Summary) error {
	if err := m.ensureTrainable(history); err != nil {
		return err
	}
	examples := oversample(buildExamples(history, m.threshold))
	if len(examples) == 0 {
		return fmt.Errorf("model %s: no training examples", m.id)
	}

	bestCutoff, bestAcc := 3.0, 0.0
	for cutoff := 2.0; cutoff <= 5.0; cutoff++ {
		correct := 0
		for _, ex := range examples {
			vote := ex.belowStreak >= cutoff
			if vote == ex.positive {
				correct++
			}
		}
		acc := float64(correct) / float64(len(examples))
		if acc > bestAcc {
			bestAcc, bestCutoff = acc, cutoff
		}
	}
	m.cutoff = bestCutoff
	m.accuracy = bestAcc
	m.trained = true
	return nil
}

func (m *streakClassifier) Predict(v features.Vector) (Prediction, error) {
	if !m.trained {
		return Prediction{}, ErrUntrained
	}
	vote := v[features.IdxStreakBelow] >= m.cutoff
	confidence := math.Max(0, 2*m.accuracy-1)
	return classifierPrediction(m.id, m.threshold, vote, confidence)
}

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}

func dot(a, b [4]float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
