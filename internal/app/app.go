package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crashwatcher/internal/alerting"
	"crashwatcher/internal/config"
	"crashwatcher/internal/engine"
	"crashwatcher/internal/executor"
	"crashwatcher/internal/features"
	"crashwatcher/internal/feed"
	"crashwatcher/internal/model"
	"crashwatcher/internal/pattern"
	"crashwatcher/internal/round"
	"crashwatcher/internal/scheduler"
	"crashwatcher/internal/service"
	"crashwatcher/internal/storage"
	"crashwatcher/internal/strategy"
	"crashwatcher/internal/telemetry"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newSource() (feed.Source, error) {
	switch a.Config.Feed.Source {
	case "replay":
		if a.Config.Feed.Script == "" {
			return nil, errors.New("feed.script is required for the replay source")
		}
		return feed.LoadScript(a.Config.Feed.Script)
	case "websocket":
		if a.Config.Feed.URL == "" {
			return nil, errors.New("feed.url is required for the websocket source")
		}
		return feed.NewWebsocket(feed.WebsocketOptions{
			URL:              a.Config.Feed.URL,
			StaleAfter:       a.Config.Feed.StaleAfter,
			HandshakeTimeout: a.Config.Feed.HandshakeTimeout,
			ReconnectBackoff: a.Config.Feed.ReconnectBackoff,
		}, a.Logger), nil
	default:
		return nil, fmt.Errorf("unknown feed source %q", a.Config.Feed.Source)
	}
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) newDetectors() []pattern.Detector {
	p := a.Config.Patterns
	return []pattern.Detector{
		pattern.NewStreakDetector(pattern.StreakOptions{
			Threshold: p.StreakThreshold,
			MinRun:    p.StreakMinRun,
		}),
		pattern.NewZoneDetector(pattern.ZoneOptions{
			Window:    p.ZoneWindow,
			LowBound:  p.ZoneLowBound,
			HighBound: p.ZoneHighBound,
		}),
		pattern.NewCycleDetector(pattern.CycleOptions{
			MinLag:         p.CycleMinLag,
			MaxLag:         p.CycleMaxLag,
			MinCorrelation: p.CycleMinCorr,
		}),
	}
}

func (a *App) newRiskPolicy() strategy.RiskPolicy {
	r := a.Config.Risk
	return strategy.NewFixedFractionPolicy(strategy.FixedFractionOptions{
		Bankroll:             decimal.NewFromFloat(r.Bankroll),
		StakeFraction:        r.StakeFraction,
		MaxStake:             decimal.NewFromFloat(r.MaxStake),
		MaxConsecutiveLosses: r.MaxConsecutiveLosses,
	})
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// buildService assembles the full pipeline. A nil store disables persistence
// and the advisory lock.
func (a *App) buildService(source feed.Source, store *storage.Store, metrics *telemetry.Metrics) (*service.Service, error) {
	cfg := a.Config

	sinks := telemetry.MultiSink{telemetry.NewLogSink(a.Logger)}
	if metrics != nil {
		sinks = append(sinks, metrics)
	}

	ensemble, err := model.New(model.Options{
		Models:              cfg.Ensemble.Models,
		TrainEvery:          cfg.Ensemble.TrainEvery,
		TrainBudget:         cfg.Ensemble.TrainBudget,
		ClassifierThreshold: cfg.Ensemble.ClassifierThreshold,
	}, a.Logger, sinks.ModelFault)
	if err != nil {
		return nil, err
	}

	opts := service.Options{
		Feed: source,
		Tracker: round.NewTracker(round.TrackerOptions{
			HighMultiplierThreshold: cfg.Tracker.HighMultiplierThreshold,
			CrashMisses:             cfg.Tracker.CrashMisses,
		}),
		History: round.NewHistory(cfg.History.Capacity),
		Extractor: features.NewExtractor(features.Options{
			MinLookback:     cfg.Features.MinLookback,
			MaxLookback:     cfg.Features.MaxLookback,
			TrendWindow:     cfg.Features.TrendWindow,
			StreakThreshold: cfg.Features.StreakThreshold,
		}),
		Ensemble:  ensemble,
		Detectors: a.newDetectors(),
		Engine: engine.New(engine.Options{
			Delta:         cfg.Consensus.Delta,
			AgreementBand: cfg.Consensus.AgreementBand,
			Weights:       cfg.Consensus.Weights,
		}, a.Logger),
		Strategy: strategy.NewHybrid(strategy.Options{
			VoteThreshold:    cfg.Strategy.VoteThreshold,
			ColdStreakLength: cfg.Strategy.ColdStreakLength,
			ColdStreakBound:  cfg.Strategy.ColdStreakBound,
			SafetyMargin:     cfg.Strategy.SafetyMargin,
		}),
		Risk:                 a.newRiskPolicy(),
		Executor:             executor.NewPaper(a.Logger),
		Sink:                 sinks,
		Metrics:              metrics,
		Notifier:             a.newNotifier(),
		AlertChannels:        cfg.Alerting.Channels,
		HighMultiplierAlerts: cfg.Alerting.Enabled,
	}

	if store != nil {
		opts.Store = store
		opts.Locker = store
		opts.AdvisoryLockKey = cfg.Scheduler.AdvisoryLockKey
	}

	return service.New(opts, a.Logger)
}

// Run executes the long-running watcher service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	source, err := a.newSource()
	if err != nil {
		return err
	}
	defer source.Close()

	var metrics *telemetry.Metrics
	if a.Config.Metrics.Enabled {
		metrics = telemetry.NewMetrics()
		go func() {
			if serveErr := metrics.Serve(ctx, a.Config.Metrics.Addr, a.Logger); serveErr != nil {
				a.Logger.Error().Err(serveErr).Msg("metrics listener failed")
			}
		}()
	}

	svc, err := a.buildService(source, store, metrics)
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	a.Logger.Info().Str("source", a.Config.Feed.Source).Msg("starting watcher service")
	err = svc.Run(ctx, sched)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("watcher service stopped")
	return nil
}

// ExportOptions hold parameters for exporting round history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit     int
	Decisions bool
}

// SimulateOptions configure the simulate command.
type SimulateOptions struct {
	ScriptPath string
}
