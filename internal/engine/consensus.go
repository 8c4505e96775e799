package engine

import (
	"math"
	"sort"

	"github.com/rs/zerolog"

	"crashwatcher/internal/model"
)

// Options tune consensus aggregation.
type Options struct {
	// Delta is the half-width of the consensus range, as a fraction of the
	// point estimate.
	Delta float64
	// AgreementBand is how far (fractionally) a point estimate may sit from
	// the median while still counting as agreeing.
	AgreementBand float64
	// Weights overrides the uniform per-model weight for point estimators.
	Weights map[string]float64
}

func (o Options) withDefaults() Options {
	if o.Delta <= 0 {
		o.Delta = 0.2
	}
	if o.AgreementBand <= 0 {
		o.AgreementBand = 0.2
	}
	return o
}

// Consensus is the single aggregated forecast handed to the strategy.
type Consensus struct {
	PointEstimate float64
	Confidence    float64
	RangeMin      float64
	RangeMax      float64
	VoteFraction  float64
	Degraded      bool
}

// Engine folds the ensemble's predictions into one Consensus.
type Engine struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs an Engine.
func New(opts Options, logger zerolog.Logger) *Engine {
	return &Engine{
		opts:   opts.withDefaults(),
		logger: logger.With().Str("component", "engine").Logger(),
	}
}

// Aggregate combines the model predictions. With zero valid predictions it
// returns the degraded sentinel (confidence 0) rather than failing.
func (e *Engine) Aggregate(preds []model.Prediction) Consensus {
	if len(preds) == 0 {
		return Consensus{Degraded: true}
	}

	var (
		points     []float64
		weightSum  float64
		weightedPt float64
		votes      int
		voters     int
	)

	for _, p := range preds {
		switch p.Variant {
		case model.PointEstimator:
			w := 1.0
			if override, ok := e.opts.Weights[p.ModelID]; ok && override > 0 {
				w = override
			}
			points = append(points, p.PointEstimate)
			weightedPt += w * p.PointEstimate
			weightSum += w
		case model.ThresholdClassifier:
			voters++
			if p.Vote {
				votes++
			}
		}
	}

	c := Consensus{}

	if voters > 0 {
		c.VoteFraction = float64(votes) / float64(voters)
	}

	if weightSum > 0 {
		c.PointEstimate = weightedPt / weightSum
	} else {
		// Classifier-only consensus: anchor the estimate at the floor so a
		// downstream cashout target stays minimal.
		c.PointEstimate = 1.0
	}

	c.RangeMin = math.Max(1.0, c.PointEstimate*(1-e.opts.Delta))
	c.RangeMax = c.PointEstimate * (1 + e.opts.Delta)
	c.Confidence = e.confidence(points, voters, c.VoteFraction)

	e.logger.Debug().
		Float64("point", c.PointEstimate).
		Float64("confidence", c.Confidence).
		Float64("vote_fraction", c.VoteFraction).
		Int("predictions", len(preds)).
		Msg("consensus aggregated")

	return c
}

// confidence blends point-estimator agreement (share of estimates within the
// band around the median) with the classifier vote fraction. With only one
// family present, that family's term stands alone.
func (e *Engine) confidence(points []float64, voters int, voteFraction float64) float64 {
	var agreement float64
	if len(points) > 0 {
		med := medianOf(points)
		agreeing := 0
		for _, p := range points {
			if med == 0 || math.Abs(p-med)/med <= e.opts.AgreementBand {
				agreeing++
			}
		}
		agreement = float64(agreeing) / float64(len(points))
	}

	// Zero confidence is reserved for the degraded sentinel; any populated
	// consensus reports at least the floor.
	const floor = 0.05

	switch {
	case len(points) > 0 && voters > 0:
		return math.Max(floor, clamp01(0.6*agreement+0.4*voteFraction))
	case len(points) > 0:
		return math.Max(floor, clamp01(agreement))
	case voters > 0:
		return math.Max(floor, clamp01(voteFraction))
	default:
		return 0
	}
}

func medianOf(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
