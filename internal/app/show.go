package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"crashwatcher/internal/storage"
)

type roundLister interface {
	ListRecentRounds(ctx context.Context, limit int) ([]storage.RoundRecord, error)
}

type decisionLister interface {
	ListRecentDecisions(ctx context.Context, limit int) ([]storage.DecisionRecord, error)
}

// Show prints recent rounds, or recent decisions with --decisions.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show history")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.Decisions {
		return a.showDecisions(ctx, store, opts.Limit)
	}
	return a.showRounds(ctx, store, opts.Limit)
}

func (a *App) showRounds(ctx context.Context, store roundLister, limit int) error {
	rounds, err := store.ListRecentRounds(ctx, limit)
	if err != nil {
		return err
	}
	if len(rounds) == 0 {
		fmt.Fprintln(os.Stdout, "no rounds found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Round\tEnd (UTC)\tCrash\tMax\tDuration\tEvents")

	for _, r := range rounds {
		fmt.Fprintf(
			writer,
			"%d\t%s\t%.2fx\t%.2fx\t%s\t%d\n",
			r.Number,
			r.EndTime.UTC().Format(time.RFC3339),
			r.CrashMultiplier,
			r.MaxMultiplier,
			r.Duration.Round(time.Millisecond),
			r.EventCount,
		)
	}

	writer.Flush()
	return nil
}

func (a *App) showDecisions(ctx context.Context, store decisionLister, limit int) error {
	decisions, err := store.ListRecentDecisions(ctx, limit)
	if err != nil {
		return err
	}
	if len(decisions) == 0 {
		fmt.Fprintln(os.Stdout, "no decisions found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Round\tAction\tStake\tTarget\tOutcome\tPayout\tRationale")

	for _, d := range decisions {
		outcome := "-"
		if d.Outcome != nil {
			outcome = *d.Outcome
		}
		payout := "-"
		if d.Payout != nil {
			payout = d.Payout.StringFixed(2)
		}
		fmt.Fprintf(
			writer,
			"%d\t%s\t%s\t%.2fx\t%s\t%s\t%s\n",
			d.RoundNumber,
			d.Action,
			d.Stake.StringFixed(2),
			d.CashoutTarget,
			outcome,
			payout,
			sanitizeInline(d.Rationale),
		)
	}

	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
