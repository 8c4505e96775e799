package model

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"crashwatcher/internal/features"
	"crashwatcher/internal/round"
)

type stubPredictor struct {
	id             string
	variant        Variant
	trainErr       error
	predictErr     error
	panicOnPredict bool
	panicOnTrain   bool
	estimate       float64
	trained        bool
}

func (s *stubPredictor) ID() string       { return s.id }
func (s *stubPredictor) Variant() Variant { return s.variant }

func (s *stubPredictor) Train(history []round.Summary) error {
	if s.panicOnTrain {
		panic("train blew up")
	}
	if s.trainErr != nil {
		return s.trainErr
	}
	s.trained = true
	return nil
}

func (s *stubPredictor) Predict(v features.Vector) (Prediction, error) {
	if s.panicOnPredict {
		panic("predict blew up")
	}
	if s.predictErr != nil {
		return Prediction{}, s.predictErr
	}
	return Prediction{
		ModelID:       s.id,
		Variant:       s.variant,
		PointEstimate: s.estimate,
		Confidence:    0.8,
		Health:        HealthOK,
	}, nil
}

func (s *stubPredictor) Health() HealthStatus {
	if !s.trained {
		return HealthDegraded
	}
	return HealthOK
}

func trainingHistory(n int) []round.Summary {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	out := make([]round.Summary, n)
	for i := range out {
		crash := 1.2 + float64(i%5)*0.6
		end := base.Add(time.Duration(i) * time.Minute)
		out[i] = round.Summary{
			Number:          int64(i + 1),
			StartTime:       end.Add(-10 * time.Second),
			EndTime:         end,
			MaxMultiplier:   crash,
			CrashMultiplier: crash,
			Duration:        10 * time.Second,
			EventCount:      50,
			Status:          round.StatusCrashed,
		}
	}
	return out
}

func testVector() features.Vector {
	v := make(features.Vector, features.VectorLen)
	v[features.IdxMean] = 2.0
	v[features.IdxMedian] = 1.8
	v[features.IdxLastCrash] = 1.5
	return v
}

func stubBuilder(failing map[string]error) func(id string) (Predictor, error) {
	return func(id string) (Predictor, error) {
		s := &stubPredictor{id: id, variant: PointEstimator, estimate: 2.0}
		if err, ok := failing[id]; ok {
			s.trainErr = err
		}
		return s, nil
	}
}

func TestEnsemblePartialTrainingFailure(t *testing.T) {
	ids := make([]string, 28)
	failing := map[string]error{}
	for i := range ids {
		ids[i] = fmt.Sprintf("m%02d", i)
	}
	for i := 0; i < 5; i++ {
		failing[ids[i]] = errors.New("synthetic training fault")
	}

	faults := 0
	e, err := NewWithBuilder(Options{Models: ids}, stubBuilder(failing), zerolog.Nop(), func(string, int64, string, error) {
		faults++
	})
	require.NoError(t, err)

	require.NoError(t, e.Train(context.Background(), trainingHistory(30), 30))

	preds := e.PredictAll(testVector(), 31)
	require.Len(t, preds, 23, "failed models must be excluded, others unaffected")
	require.Equal(t, 5, faults)
	require.Equal(t, 23, e.ActiveCount())
	require.Equal(t, 28, e.ModelCount())
}

func TestEnsembleUntrainedModelsProduceNothing(t *testing.T) {
	e, err := New(Options{}, zerolog.Nop(), nil)
	require.NoError(t, err)

	preds := e.PredictAll(testVector(), 1)
	require.Empty(t, preds, "untrained generation must contribute zero predictions")
}

func TestEnsembleGenerationSwapOnTrain(t *testing.T) {
	e, err := New(Options{}, zerolog.Nop(), nil)
	require.NoError(t, err)

	before := e.Generation()
	require.NoError(t, e.Train(context.Background(), trainingHistory(40), 40))
	require.Greater(t, e.Generation(), before, "successful training must publish a new generation")

	preds := e.PredictAll(testVector(), 41)
	require.NotEmpty(t, preds)
	for _, p := range preds {
		require.GreaterOrEqual(t, p.Confidence, 0.0)
		require.LessOrEqual(t, p.Confidence, 1.0)
		if p.Variant == PointEstimator {
			require.GreaterOrEqual(t, p.PointEstimate, 1.0)
		}
	}
}

func TestEnsembleBudgetOverrunKeepsPreviousGeneration(t *testing.T) {
	e, err := New(Options{TrainBudget: time.Nanosecond}, zerolog.Nop(), nil)
	require.NoError(t, err)

	before := e.Generation()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, e.Train(ctx, trainingHistory(40), 40))
	require.Equal(t, before, e.Generation(), "abandoned retrain must not publish")
}

func TestEnsemblePredictPanicIsIsolated(t *testing.T) {
	build := func(id string) (Predictor, error) {
		s := &stubPredictor{id: id, variant: PointEstimator, estimate: 2.0}
		if id == "boom" {
			s.panicOnPredict = true
		}
		return s, nil
	}

	var faultKind string
	e, err := NewWithBuilder(Options{Models: []string{"ok", "boom"}}, build, zerolog.Nop(), func(_ string, _ int64, kind string, _ error) {
		faultKind = kind
	})
	require.NoError(t, err)
	require.NoError(t, e.Train(context.Background(), trainingHistory(20), 20))

	preds := e.PredictAll(testVector(), 21)
	require.Len(t, preds, 1)
	require.Equal(t, "ok", preds[0].ModelID)
	require.Equal(t, "inference", faultKind)
}

func TestEnsembleBreakerTripsFlappingModel(t *testing.T) {
	build := func(id string) (Predictor, error) {
		s := &stubPredictor{id: id, variant: PointEstimator, estimate: 2.0}
		if id == "flappy" {
			s.predictErr = errors.New("inference fault")
		}
		return s, nil
	}

	faults := 0
	e, err := NewWithBuilder(Options{Models: []string{"flappy"}}, build, zerolog.Nop(), func(string, int64, string, error) {
		faults++
	})
	require.NoError(t, err)
	require.NoError(t, e.Train(context.Background(), trainingHistory(20), 20))

	for i := 0; i < 6; i++ {
		require.Empty(t, e.PredictAll(testVector(), int64(21+i)))
	}
	// Every attempt is a recorded fault, whether the breaker was closed or open.
	require.Equal(t, 6, faults)
}

func TestEnsembleRejectsUnknownModelID(t *testing.T) {
	_, err := New(Options{Models: []string{"sma", "nope"}}, zerolog.Nop(), nil)
	require.Error(t, err)
}

func TestEnsembleMaybeTrainHonorsCadence(t *testing.T) {
	build := func(id string) (Predictor, error) {
		return &stubPredictor{id: id, variant: PointEstimator, estimate: 2.0}, nil
	}

	e, err := NewWithBuilder(Options{Models: []string{"a"}, TrainEvery: 10}, build, zerolog.Nop(), nil)
	require.NoError(t, err)

	h := round.NewHistory(100)
	for _, r := range trainingHistory(12) {
		require.NoError(t, h.Append(r))
	}

	e.MaybeTrain(h, 5)
	requireEventually(t, func() bool { return !e.training.Load() })
	require.Equal(t, uint64(1), e.Generation(), "below cadence must not retrain")

	e.MaybeTrain(h, 12)
	requireEventually(t, func() bool { return e.Generation() == 2 })
}

func requireEventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
