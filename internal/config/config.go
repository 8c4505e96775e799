package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"crashwatcher/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Tracker   TrackerConfig   `mapstructure:"tracker"`
	History   HistoryConfig   `mapstructure:"history"`
	Features  FeaturesConfig  `mapstructure:"features"`
	Ensemble  EnsembleConfig  `mapstructure:"ensemble"`
	Patterns  PatternsConfig  `mapstructure:"patterns"`
	Consensus ConsensusConfig `mapstructure:"consensus"`
	Strategy  StrategyConfig  `mapstructure:"strategy"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs sampling cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// FeedConfig selects and tunes the multiplier sample source.
type FeedConfig struct {
	Source           string        `mapstructure:"source"`
	URL              string        `mapstructure:"url"`
	Script           string        `mapstructure:"script"`
	StaleAfter       time.Duration `mapstructure:"stale_after"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	ReconnectBackoff time.Duration `mapstructure:"reconnect_backoff"`
}

// TrackerConfig tunes round life-cycle detection.
type TrackerConfig struct {
	HighMultiplierThreshold float64 `mapstructure:"high_multiplier_threshold"`
	CrashMisses             int     `mapstructure:"crash_misses"`
}

// HistoryConfig bounds the in-memory round history.
type HistoryConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// FeaturesConfig tunes feature extraction windows.
type FeaturesConfig struct {
	MinLookback     int     `mapstructure:"min_lookback"`
	MaxLookback     int     `mapstructure:"max_lookback"`
	TrendWindow     int     `mapstructure:"trend_window"`
	StreakThreshold float64 `mapstructure:"streak_threshold"`
}

// EnsembleConfig tunes the prediction ensemble.
type EnsembleConfig struct {
	Models              []string      `mapstructure:"models"`
	TrainEvery          int           `mapstructure:"train_every"`
	TrainBudget         time.Duration `mapstructure:"train_budget"`
	ClassifierThreshold float64       `mapstructure:"classifier_threshold"`
}

// PatternsConfig tunes the pattern detectors.
type PatternsConfig struct {
	StreakThreshold float64 `mapstructure:"streak_threshold"`
	StreakMinRun    int     `mapstructure:"streak_min_run"`
	ZoneWindow      int     `mapstructure:"zone_window"`
	ZoneLowBound    float64 `mapstructure:"zone_low_bound"`
	ZoneHighBound   float64 `mapstructure:"zone_high_bound"`
	CycleMinLag     int     `mapstructure:"cycle_min_lag"`
	CycleMaxLag     int     `mapstructure:"cycle_max_lag"`
	CycleMinCorr    float64 `mapstructure:"cycle_min_correlation"`
}

// ConsensusConfig tunes prediction aggregation.
type ConsensusConfig struct {
	Delta         float64            `mapstructure:"delta"`
	AgreementBand float64            `mapstructure:"agreement_band"`
	Weights       map[string]float64 `mapstructure:"weights"`
}

// StrategyConfig tunes the hybrid betting gates.
type StrategyConfig struct {
	VoteThreshold    float64 `mapstructure:"vote_threshold"`
	ColdStreakLength int     `mapstructure:"cold_streak_length"`
	ColdStreakBound  float64 `mapstructure:"cold_streak_bound"`
	SafetyMargin     float64 `mapstructure:"safety_margin"`
}

// RiskConfig tunes stake sizing.
type RiskConfig struct {
	Bankroll             float64 `mapstructure:"bankroll"`
	StakeFraction        float64 `mapstructure:"stake_fraction"`
	MaxStake             float64 `mapstructure:"max_stake"`
	MaxConsecutiveLosses int     `mapstructure:"max_consecutive_losses"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram alert delivery.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRASHWATCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "crashwatcher")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("scheduler.interval", "200ms")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x63726173))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("feed.source", "websocket")
	v.SetDefault("feed.stale_after", "2s")
	v.SetDefault("feed.handshake_timeout", "10s")
	v.SetDefault("feed.reconnect_backoff", "500ms")

	v.SetDefault("tracker.high_multiplier_threshold", 10.0)
	v.SetDefault("tracker.crash_misses", 1)

	v.SetDefault("history.capacity", 500)

	v.SetDefault("features.min_lookback", 5)
	v.SetDefault("features.max_lookback", 50)
	v.SetDefault("features.trend_window", 8)
	v.SetDefault("features.streak_threshold", 2.0)

	v.SetDefault("ensemble.train_every", 10)
	v.SetDefault("ensemble.train_budget", "2s")
	v.SetDefault("ensemble.classifier_threshold", 2.0)

	v.SetDefault("patterns.streak_threshold", 2.0)
	v.SetDefault("patterns.streak_min_run", 3)
	v.SetDefault("patterns.zone_window", 10)
	v.SetDefault("patterns.zone_low_bound", 1.5)
	v.SetDefault("patterns.zone_high_bound", 3.0)
	v.SetDefault("patterns.cycle_min_lag", 3)
	v.SetDefault("patterns.cycle_max_lag", 12)
	v.SetDefault("patterns.cycle_min_correlation", 0.35)

	v.SetDefault("consensus.delta", 0.2)
	v.SetDefault("consensus.agreement_band", 0.2)

	v.SetDefault("strategy.vote_threshold", 0.75)
	v.SetDefault("strategy.cold_streak_length", 6)
	v.SetDefault("strategy.cold_streak_bound", 1.5)
	v.SetDefault("strategy.safety_margin", 0.8)

	v.SetDefault("risk.bankroll", 1000.0)
	v.SetDefault("risk.stake_fraction", 0.01)
	v.SetDefault("risk.max_stake", 25.0)
	v.SetDefault("risk.max_consecutive_losses", 5)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9180")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	// The feed URL/script is checked when the source is built, so commands
	// that never open the feed still run under a bare config.
	switch c.Feed.Source {
	case "websocket", "replay":
	default:
		return fmt.Errorf("feed.source must be websocket or replay, got %q", c.Feed.Source)
	}
	if c.Tracker.CrashMisses < 1 {
		return fmt.Errorf("tracker.crash_misses must be at least 1")
	}
	if c.Features.MinLookback > c.Features.MaxLookback {
		return fmt.Errorf("features.min_lookback cannot exceed features.max_lookback")
	}
	if c.Strategy.VoteThreshold <= 0 || c.Strategy.VoteThreshold > 1 {
		return fmt.Errorf("strategy.vote_threshold must be in (0, 1]")
	}
	if c.Risk.StakeFraction <= 0 || c.Risk.StakeFraction >= 1 {
		return fmt.Errorf("risk.stake_fraction must be in (0, 1)")
	}
	if c.Risk.Bankroll <= 0 {
		return fmt.Errorf("risk.bankroll must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
