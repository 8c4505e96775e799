package executor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crashwatcher/internal/strategy"
)

// Outcome is the settled result of a previously placed bet.
type Outcome struct {
	DecisionID string
	Round      int64
	Won        bool
	// Payout is the net bankroll delta: stake*(target-1) on a win, -stake
	// on a loss.
	Payout    decimal.Decimal
	SettledAt time.Time
}

// Executor places decisions and settles them once the round crashes.
type Executor interface {
	Execute(ctx context.Context, d strategy.Decision) error
	// SettleRound resolves the pending bet, if any, against the crash
	// multiplier of the round just finished.
	SettleRound(ctx context.Context, roundNumber int64, crashMultiplier float64) (*Outcome, error)
}

// Paper simulates execution against the observed feed without placing real
// bets. At most one bet is pending at a time: decisions arrive before the
// next round starts and settle when it crashes.
type Paper struct {
	logger zerolog.Logger

	mu      sync.Mutex
	pending *strategy.Decision
}

// NewPaper builds a paper-trading executor.
func NewPaper(logger zerolog.Logger) *Paper {
	return &Paper{
		logger: logger.With().Str("component", "executor").Logger(),
	}
}

// Execute records a BET decision as pending. SKIP decisions are logged and
// discarded.
func (p *Paper) Execute(_ context.Context, d strategy.Decision) error {
	if d.Action != strategy.ActionBet {
		p.logger.Debug().
			Str("decision_id", d.ID).
			Int64("round", d.Round).
			Str("rationale", d.Rationale).
			Msg("skip recorded")
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pending != nil {
		p.logger.Warn().
			Str("decision_id", d.ID).
			Str("pending_id", p.pending.ID).
			Msg("replacing unsettled bet")
	}
	copied := d
	p.pending = &copied

	p.logger.Info().
		Str("decision_id", d.ID).
		Int64("round", d.Round).
		Str("stake", d.Stake.StringFixed(2)).
		Float64("cashout_target", d.CashoutTarget).
		Msg("paper bet placed")
	return nil
}

// SettleRound resolves the pending bet against the crash multiplier. The
// bet wins when the round reached the cashout target before crashing.
func (p *Paper) SettleRound(_ context.Context, roundNumber int64, crashMultiplier float64) (*Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pending == nil {
		return nil, nil
	}
	d := *p.pending
	p.pending = nil

	won := crashMultiplier >= d.CashoutTarget
	var payout decimal.Decimal
	if won {
		margin := decimal.NewFromFloat(d.CashoutTarget).Sub(decimal.NewFromInt(1))
		payout = d.Stake.Mul(margin).Round(2)
	} else {
		payout = d.Stake.Neg()
	}

	out := &Outcome{
		DecisionID: d.ID,
		Round:      roundNumber,
		Won:        won,
		Payout:     payout,
		SettledAt:  time.Now().UTC(),
	}

	p.logger.Info().
		Str("decision_id", d.ID).
		Int64("round", roundNumber).
		Bool("won", won).
		Str("payout", payout.StringFixed(2)).
		Float64("crash_multiplier", crashMultiplier).
		Msg("paper bet settled")
	return out, nil
}
