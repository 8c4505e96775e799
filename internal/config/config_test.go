package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfigFile(t, "feed:\n  source: replay\n  script: testdata/session.txt\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.App.Name != "crashwatcher" {
		t.Errorf("app.name = %q", cfg.App.Name)
	}
	if cfg.Scheduler.Interval != 200*time.Millisecond {
		t.Errorf("scheduler.interval = %s", cfg.Scheduler.Interval)
	}
	if cfg.Tracker.CrashMisses != 1 {
		t.Errorf("tracker.crash_misses = %d", cfg.Tracker.CrashMisses)
	}
	if cfg.Ensemble.TrainEvery != 10 {
		t.Errorf("ensemble.train_every = %d", cfg.Ensemble.TrainEvery)
	}
	if cfg.Ensemble.TrainBudget != 2*time.Second {
		t.Errorf("ensemble.train_budget = %s", cfg.Ensemble.TrainBudget)
	}
	if cfg.Strategy.VoteThreshold != 0.75 {
		t.Errorf("strategy.vote_threshold = %f", cfg.Strategy.VoteThreshold)
	}
	if cfg.Risk.Bankroll != 1000.0 {
		t.Errorf("risk.bankroll = %f", cfg.Risk.Bankroll)
	}
	if cfg.History.Capacity != 500 {
		t.Errorf("history.capacity = %d", cfg.History.Capacity)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfigFile(t, `
app:
  name: crashwatcher-test
feed:
  source: websocket
  url: wss://example.test/feed
  stale_after: 5s
tracker:
  crash_misses: 2
strategy:
  vote_threshold: 0.6
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.App.Name != "crashwatcher-test" {
		t.Errorf("app.name = %q", cfg.App.Name)
	}
	if cfg.Feed.URL != "wss://example.test/feed" {
		t.Errorf("feed.url = %q", cfg.Feed.URL)
	}
	if cfg.Feed.StaleAfter != 5*time.Second {
		t.Errorf("feed.stale_after = %s", cfg.Feed.StaleAfter)
	}
	if cfg.Tracker.CrashMisses != 2 {
		t.Errorf("tracker.crash_misses = %d", cfg.Tracker.CrashMisses)
	}
	if cfg.Strategy.VoteThreshold != 0.6 {
		t.Errorf("strategy.vote_threshold = %f", cfg.Strategy.VoteThreshold)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"unknown feed source", "feed:\n  source: carrier-pigeon\n"},
		{"zero crash misses", "feed:\n  source: replay\n  script: s.txt\ntracker:\n  crash_misses: 0\n"},
		{"vote threshold above one", "feed:\n  source: replay\n  script: s.txt\nstrategy:\n  vote_threshold: 1.5\n"},
		{"stake fraction of one", "feed:\n  source: replay\n  script: s.txt\nrisk:\n  stake_fraction: 1.0\n"},
		{"telegram enabled without token", "feed:\n  source: replay\n  script: s.txt\nalerting:\n  telegram:\n    enabled: true\n    chat_id: \"42\"\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfigFile(t, tc.yaml)
			if _, err := Load(path); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 1000}}
	if got := cfg.ResolveMaxPoints(0); got != 1000 {
		t.Errorf("default = %d", got)
	}
	if got := cfg.ResolveMaxPoints(50); got != 50 {
		t.Errorf("override = %d", got)
	}
}
