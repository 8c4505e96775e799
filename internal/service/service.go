package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"crashwatcher/internal/alerting"
	"crashwatcher/internal/engine"
	"crashwatcher/internal/executor"
	"crashwatcher/internal/features"
	"crashwatcher/internal/feed"
	"crashwatcher/internal/model"
	"crashwatcher/internal/pattern"
	"crashwatcher/internal/round"
	"crashwatcher/internal/scheduler"
	"crashwatcher/internal/storage"
	"crashwatcher/internal/strategy"
	"crashwatcher/internal/telemetry"
)

// Persister is the storage surface the pipeline writes through. All writes
// are best effort: a storage fault is logged and the loop keeps sampling.
type Persister interface {
	storage.RoundStore
	storage.PredictionStore
	storage.DecisionStore
}

// Options collect the pipeline collaborators. Store, Locker, Notifier, and
// Metrics are optional; everything else is required.
type Options struct {
	Feed      feed.Source
	Tracker   *round.Tracker
	History   *round.History
	Extractor *features.Extractor
	Ensemble  *model.Ensemble
	Detectors []pattern.Detector
	Engine    *engine.Engine
	Strategy  *strategy.Hybrid
	Risk      strategy.RiskPolicy
	Executor  executor.Executor
	Sink      telemetry.EventSink
	Metrics   *telemetry.Metrics

	Store           Persister
	Locker          storage.AdvisoryLocker
	AdvisoryLockKey int64

	Notifier      alerting.Notifier
	AlertChannels []string

	HighMultiplierAlerts bool
}

// Service runs the observe-predict-decide pipeline over the sample feed.
type Service struct {
	opts   Options
	logger zerolog.Logger
}

// New wires a Service from its collaborators.
func New(opts Options, logger zerolog.Logger) (*Service, error) {
	switch {
	case opts.Feed == nil:
		return nil, errors.New("service: feed source is required")
	case opts.Tracker == nil:
		return nil, errors.New("service: tracker is required")
	case opts.History == nil:
		return nil, errors.New("service: history is required")
	case opts.Extractor == nil:
		return nil, errors.New("service: extractor is required")
	case opts.Ensemble == nil:
		return nil, errors.New("service: ensemble is required")
	case opts.Engine == nil:
		return nil, errors.New("service: consensus engine is required")
	case opts.Strategy == nil:
		return nil, errors.New("service: strategy is required")
	case opts.Risk == nil:
		return nil, errors.New("service: risk policy is required")
	case opts.Executor == nil:
		return nil, errors.New("service: executor is required")
	}
	if opts.Sink == nil {
		opts.Sink = telemetry.MultiSink{}
	}
	return &Service{
		opts:   opts,
		logger: logger.With().Str("component", "service").Logger(),
	}, nil
}

// Run drives the pipeline on the scheduler cadence until the context ends or
// a finite feed is exhausted.
func (s *Service) Run(ctx context.Context, sched *scheduler.Scheduler) error {
	if s.opts.Locker != nil {
		unlock, acquired, err := s.opts.Locker.TryAdvisoryLock(ctx, s.opts.AdvisoryLockKey)
		if err != nil {
			return fmt.Errorf("acquire advisory lock: %w", err)
		}
		if !acquired {
			return errors.New("another crashwatcher instance holds the sampling lock")
		}
		defer unlock()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	err := sched.Run(runCtx, func(tickCtx context.Context, _ time.Time) error {
		if tickErr := s.Tick(tickCtx); tickErr != nil {
			if errors.Is(tickErr, feed.ErrExhausted) {
				cancel()
				return nil
			}
			return tickErr
		}
		return nil
	})
	if errors.Is(err, context.Canceled) && ctx.Err() == nil {
		return nil
	}
	return err
}

// Tick performs one sampling step: fetch, track, and on a crash run the
// prediction pipeline for the round about to start.
func (s *Service) Tick(ctx context.Context) error {
	sample, err := s.opts.Feed.Fetch(ctx)
	if err != nil {
		if errors.Is(err, feed.ErrExhausted) {
			return err
		}
		return fmt.Errorf("fetch sample: %w", err)
	}

	for _, event := range s.opts.Tracker.Update(sample) {
		s.opts.Sink.RoundEvent(event)

		switch event.Type {
		case round.EventHighMultiplier:
			if s.opts.HighMultiplierAlerts {
				s.notify(ctx, alerting.Notification{
					Kind:       alerting.KindHighMultiplier,
					Round:      event.Round,
					Multiplier: event.Multiplier,
					Channels:   s.opts.AlertChannels,
					At:         event.Timestamp,
				})
			}
		case round.EventCrash:
			s.onCrash(ctx, s.opts.Tracker.Finalized())
		}
	}
	return nil
}

// onCrash ingests the finalized round and produces the decision for the next
// one. Every stage past history ingestion is best effort.
func (s *Service) onCrash(ctx context.Context, finished round.Summary) {
	if err := s.opts.History.Append(finished); err != nil {
		s.logger.Error().Err(err).Int64("round", finished.Number).Msg("history append rejected")
		return
	}
	if s.opts.Metrics != nil {
		s.opts.Metrics.ObserveRound(finished)
	}
	s.persistRound(ctx, finished)
	s.settle(ctx, finished)

	s.opts.Ensemble.MaybeTrain(s.opts.History, finished.Number)

	s.decideNext(ctx, finished)
}

func (s *Service) decideNext(ctx context.Context, finished round.Summary) {
	vector, err := s.opts.Extractor.Extract(s.opts.History)
	if err != nil {
		if errors.Is(err, features.ErrNotReady) {
			s.logger.Debug().
				Int("rounds", s.opts.History.Len()).
				Int("min_lookback", s.opts.Extractor.MinLookback()).
				Msg("not enough history to predict yet")
			return
		}
		s.logger.Error().Err(err).Msg("feature extraction failed")
		return
	}

	nextRound := finished.Number + 1
	preds := s.opts.Ensemble.PredictAll(vector, nextRound)
	consensus := s.opts.Engine.Aggregate(preds)

	snapshot := s.opts.History.Snapshot()
	signals := pattern.DetectAll(s.opts.Detectors, snapshot, s.logger)

	decision := s.opts.Strategy.Decide(consensus, signals, snapshot, s.opts.Risk)
	s.opts.Sink.Decision(decision)

	s.persistForecast(ctx, nextRound, consensus, decision)

	if err := s.opts.Executor.Execute(ctx, decision); err != nil {
		s.logger.Error().Err(err).Str("decision_id", decision.ID).Msg("execution failed")
		return
	}

	if decision.Action == strategy.ActionBet {
		s.notify(ctx, alerting.Notification{
			Kind:          alerting.KindBetPlaced,
			Round:         decision.Round,
			Stake:         decision.Stake,
			CashoutTarget: decision.CashoutTarget,
			Confidence:    decision.Confidence,
			Rationale:     decision.Rationale,
			Channels:      s.opts.AlertChannels,
			At:            decision.Timestamp,
		})
	}
}

// settle resolves the bet placed before the finished round, if any, and
// feeds the outcome back into the risk policy.
func (s *Service) settle(ctx context.Context, finished round.Summary) {
	outcome, err := s.opts.Executor.SettleRound(ctx, finished.Number, finished.CrashMultiplier)
	if err != nil {
		s.logger.Error().Err(err).Int64("round", finished.Number).Msg("settlement failed")
		return
	}
	if outcome == nil {
		return
	}

	s.opts.Risk.RecordOutcome(outcome.Won, outcome.Payout)

	if s.opts.Store != nil {
		label := "LOSS"
		if outcome.Won {
			label = "WIN"
		}
		if err := s.opts.Store.SettleDecision(ctx, outcome.DecisionID, label, outcome.Payout); err != nil {
			s.logger.Error().Err(err).Str("decision_id", outcome.DecisionID).Msg("persist settlement failed")
		}
	}
}

func (s *Service) persistRound(ctx context.Context, finished round.Summary) {
	if s.opts.Store == nil {
		return
	}
	record := storage.RoundRecord{
		Number:          finished.Number,
		StartTime:       finished.StartTime,
		EndTime:         finished.EndTime,
		MaxMultiplier:   finished.MaxMultiplier,
		CrashMultiplier: finished.CrashMultiplier,
		Duration:        finished.Duration,
		EventCount:      finished.EventCount,
	}
	if err := s.opts.Store.UpsertRound(ctx, record); err != nil {
		s.logger.Error().Err(err).Int64("round", finished.Number).Msg("persist round failed")
	}
}

func (s *Service) persistForecast(ctx context.Context, nextRound int64, consensus engine.Consensus, decision strategy.Decision) {
	if s.opts.Store == nil {
		return
	}

	prediction := storage.PredictionRecord{
		RoundNumber:   nextRound,
		PointEstimate: consensus.PointEstimate,
		Confidence:    consensus.Confidence,
		RangeMin:      consensus.RangeMin,
		RangeMax:      consensus.RangeMax,
		VoteFraction:  consensus.VoteFraction,
		Degraded:      consensus.Degraded,
	}
	if err := s.opts.Store.UpsertPrediction(ctx, prediction); err != nil {
		s.logger.Error().Err(err).Int64("round", nextRound).Msg("persist prediction failed")
	}

	record := storage.DecisionRecord{
		ID:            decision.ID,
		RoundNumber:   decision.Round,
		Action:        string(decision.Action),
		Stake:         decision.Stake,
		CashoutTarget: decision.CashoutTarget,
		Rationale:     decision.Rationale,
	}
	if err := s.opts.Store.InsertDecision(ctx, record); err != nil {
		s.logger.Error().Err(err).Str("decision_id", decision.ID).Msg("persist decision failed")
	}
}

func (s *Service) notify(ctx context.Context, note alerting.Notification) {
	if s.opts.Notifier == nil {
		return
	}
	if err := s.opts.Notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("kind", note.Kind).Msg("alert delivery failed")
	}
}
