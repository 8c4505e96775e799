package app

import (
	"context"
	"errors"
	"time"

	"crashwatcher/internal/feed"
	"crashwatcher/internal/scheduler"
)

// Simulate replays a multiplier script through the full pipeline with
// persistence disabled, so strategies can be inspected offline.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	if opts.ScriptPath == "" {
		return errors.New("--script is required")
	}

	source, err := feed.LoadScript(opts.ScriptPath)
	if err != nil {
		return err
	}
	defer source.Close()

	a.Logger.Info().
		Str("script", opts.ScriptPath).
		Int("samples", source.Remaining()).
		Msg("starting replay simulation")

	svc, err := a.buildService(source, nil, nil)
	if err != nil {
		return err
	}

	// Replay as fast as possible; the script supplies its own pacing.
	sched := scheduler.New(scheduler.Options{Interval: time.Millisecond}, a.Logger)

	if err := svc.Run(ctx, sched); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	a.Logger.Info().Msg("simulation finished")
	return nil
}
