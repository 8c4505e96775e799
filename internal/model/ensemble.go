package model

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"crashwatcher/internal/features"
	"crashwatcher/internal/round"
)

// Options configure the ensemble.
type Options struct {
	// Models enumerates the predictors to build, by id.
	Models []string
	// TrainEvery is the retraining cadence in finalized rounds.
	TrainEvery int
	// TrainBudget bounds one retraining pass; an overrunning pass is
	// abandoned and the previous generation stays live.
	TrainBudget time.Duration
	// ClassifierThreshold is the multiplier threshold classifiers vote on.
	ClassifierThreshold float64
}

func (o Options) withDefaults() Options {
	if len(o.Models) == 0 {
		o.Models = DefaultModels()
	}
	if o.TrainEvery <= 0 {
		o.TrainEvery = 10
	}
	if o.TrainBudget <= 0 {
		o.TrainBudget = 2 * time.Second
	}
	if o.ClassifierThreshold <= 0 {
		o.ClassifierThreshold = 2.0
	}
	return o
}

// DefaultModels lists every built-in predictor id.
func DefaultModels() []string {
	return []string{"sma", "ewma", "trend", "median", "quantile", "frequency", "logistic", "streak"}
}

// FaultRecorder receives every isolated model fault for observability.
type FaultRecorder func(modelID string, roundNumber int64, kind string, err error)

// slot pairs a predictor with its per-generation exclusion flag. A slot whose
// training failed stays in the generation but never contributes.
type slot struct {
	predictor Predictor
	excluded  bool
}

type generation struct {
	slots        []slot
	seq          uint64
	trainedRound int64
}

// Ensemble owns the configuration-enumerated predictor set. Predictions read
// whatever generation is currently published; retraining happens against an
// immutable history snapshot and publishes a new generation atomically, so
// in-flight readers never observe a half-trained model set.
type Ensemble struct {
	opts    Options
	build   func(id string) (Predictor, error)
	logger  zerolog.Logger
	onFault FaultRecorder

	breakers map[string]*gobreaker.CircuitBreaker
	gen      atomic.Pointer[generation]
	training atomic.Bool
	genSeq   atomic.Uint64

	lastTrainedRound int64
}

// New builds an Ensemble from the configured model list.
func New(opts Options, logger zerolog.Logger, onFault FaultRecorder) (*Ensemble, error) {
	opts = opts.withDefaults()
	e := &Ensemble{
		opts:     opts,
		logger:   logger.With().Str("component", "ensemble").Logger(),
		onFault:  onFault,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
	e.build = func(id string) (Predictor, error) {
		return buildPredictor(id, opts.ClassifierThreshold)
	}

	if err := e.reset(); err != nil {
		return nil, err
	}
	return e, nil
}

// NewWithBuilder builds an Ensemble whose predictors come from a custom
// constructor. Used by tests and by callers plugging in external models.
func NewWithBuilder(opts Options, build func(id string) (Predictor, error), logger zerolog.Logger, onFault FaultRecorder) (*Ensemble, error) {
	opts = opts.withDefaults()
	e := &Ensemble{
		opts:     opts,
		build:    build,
		logger:   logger.With().Str("component", "ensemble").Logger(),
		onFault:  onFault,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
	if err := e.reset(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Ensemble) reset() error {
	slots := make([]slot, 0, len(e.opts.Models))
	for _, id := range e.opts.Models {
		p, err := e.build(id)
		if err != nil {
			return err
		}
		slots = append(slots, slot{predictor: p})
		if _, ok := e.breakers[id]; !ok {
			e.breakers[id] = newModelBreaker(id)
		}
	}
	if len(slots) == 0 {
		return fmt.Errorf("model: no predictors configured")
	}
	e.gen.Store(&generation{slots: slots, seq: e.genSeq.Add(1)})
	return nil
}

func buildPredictor(id string, classifierThreshold float64) (Predictor, error) {
	switch id {
	case "sma":
		return newSMAEstimator(20), nil
	case "ewma":
		return newEWMAEstimator(0.25), nil
	case "trend":
		return newTrendEstimator(), nil
	case "median":
		return newMedianEstimator(), nil
	case "quantile":
		return newQuantileEstimator(0.35), nil
	case "frequency":
		return newFrequencyClassifier(classifierThreshold), nil
	case "logistic":
		return newLogisticClassifier(classifierThreshold), nil
	case "streak":
		return newStreakClassifier(classifierThreshold), nil
	default:
		return nil, fmt.Errorf("model: unknown predictor %q", id)
	}
}

// The breaker trips on repeated inference faults and keeps a flapping model
// out of the consensus until it cools down.
func newModelBreaker(id string) *gobreaker.CircuitBreaker {
	st := gobreaker.Settings{Name: id}
	st.Interval = 60 * time.Second
	st.Timeout = 30 * time.Second
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 3
	}
	return gobreaker.NewCircuitBreaker(st)
}

// ModelCount reports how many predictors the live generation holds.
func (e *Ensemble) ModelCount() int {
	gen := e.gen.Load()
	if gen == nil {
		return 0
	}
	return len(gen.slots)
}

// ActiveCount reports how many predictors are currently eligible to
// contribute (trained and not excluded).
func (e *Ensemble) ActiveCount() int {
	gen := e.gen.Load()
	if gen == nil {
		return 0
	}
	n := 0
	for _, s := range gen.slots {
		if !s.excluded && s.predictor.Health() == HealthOK {
			n++
		}
	}
	return n
}

// Generation reports the sequence number of the published model set.
func (e *Ensemble) Generation() uint64 {
	gen := e.gen.Load()
	if gen == nil {
		return 0
	}
	return gen.seq
}

// PredictAll gathers one prediction per healthy model. It never fails;
// faulting models are omitted and their faults recorded.
func (e *Ensemble) PredictAll(v features.Vector, roundNumber int64) []Prediction {
	gen := e.gen.Load()
	if gen == nil {
		return nil
	}

	out := make([]Prediction, 0, len(gen.slots))
	for _, s := range gen.slots {
		if s.excluded || s.predictor.Health() != HealthOK {
			continue
		}
		p := s.predictor
		result, err := e.breakers[p.ID()].Execute(func() (any, error) {
			pred, err := safePredict(p, v)
			if err != nil {
				return nil, err
			}
			return pred, nil
		})
		if err != nil {
			e.recordFault(p.ID(), roundNumber, "inference", err)
			continue
		}
		out = append(out, result.(Prediction))
	}
	return out
}

// MaybeTrain kicks off an asynchronous retraining pass when the cadence is
// due. At most one pass runs at a time; the live prediction path is never
// blocked.
func (e *Ensemble) MaybeTrain(history *round.History, roundNumber int64) {
	if roundNumber-e.lastTrainedRound < int64(e.opts.TrainEvery) {
		return
	}
	if history.Len() < minTrainRounds {
		return
	}
	if !e.training.CompareAndSwap(false, true) {
		return
	}
	e.lastTrainedRound = roundNumber

	snapshot := history.Snapshot()
	go func() {
		defer e.training.Store(false)
		ctx, cancel := context.WithTimeout(context.Background(), e.opts.TrainBudget)
		defer cancel()
		e.train(ctx, snapshot, roundNumber)
	}()
}

// Train runs one synchronous retraining pass. Exposed for replay and tests;
// the live path goes through MaybeTrain.
func (e *Ensemble) Train(ctx context.Context, snapshot []round.Summary, roundNumber int64) error {
	e.train(ctx, snapshot, roundNumber)
	return ctx.Err()
}

func (e *Ensemble) train(ctx context.Context, snapshot []round.Summary, roundNumber int64) {
	started := time.Now()
	slots := make([]slot, 0, len(e.opts.Models))
	trained, failed := 0, 0

	for _, id := range e.opts.Models {
		if ctx.Err() != nil {
			e.logger.Warn().
				Str("model", id).
				Dur("elapsed", time.Since(started)).
				Msg("retrain budget exceeded, keeping previous generation")
			return
		}

		p, err := e.build(id)
		if err == nil {
			err = safeTrain(p, snapshot)
		}
		if err != nil {
			e.recordFault(id, roundNumber, "training", err)
			slots = append(slots, slot{predictor: p, excluded: true})
			failed++
			continue
		}
		slots = append(slots, slot{predictor: p})
		trained++
	}

	if ctx.Err() != nil {
		e.logger.Warn().Dur("elapsed", time.Since(started)).Msg("retrain budget exceeded, keeping previous generation")
		return
	}
	if trained == 0 {
		e.logger.Error().Int("failed", failed).Msg("every model failed to train, keeping previous generation")
		return
	}

	gen := &generation{slots: slots, seq: e.genSeq.Add(1), trainedRound: roundNumber}
	e.gen.Store(gen)
	e.logger.Info().
		Uint64("generation", gen.seq).
		Int("trained", trained).
		Int("failed", failed).
		Int("rounds", len(snapshot)).
		Dur("elapsed", time.Since(started)).
		Msg("published new model generation")
}

func (e *Ensemble) recordFault(modelID string, roundNumber int64, kind string, err error) {
	e.logger.Warn().
		Str("model", modelID).
		Int64("round", roundNumber).
		Str("kind", kind).
		Err(err).
		Msg("model fault")
	if e.onFault != nil {
		e.onFault(modelID, roundNumber, kind, err)
	}
}

// safeTrain isolates a panicking model.
func safeTrain(p Predictor, history []round.Summary) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("model %s: train panicked: %v", p.ID(), r)
		}
	}()
	return p.Train(history)
}

func safePredict(p Predictor, v features.Vector) (pred Prediction, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("model %s: predict panicked: %v", p.ID(), r)
		}
	}()
	return p.Predict(v)
}
