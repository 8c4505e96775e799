package strategy

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"crashwatcher/internal/engine"
	"crashwatcher/internal/pattern"
	"crashwatcher/internal/round"
)

// Action is the outcome of a decision.
type Action string

const (
	ActionBet  Action = "BET"
	ActionSkip Action = "SKIP"
)

// Decision is the plain record handed to the external executor. Rationale
// always explains which gate authorized a bet, or why both refused.
type Decision struct {
	ID            string
	Round         int64
	Action        Action
	Stake         decimal.Decimal
	CashoutTarget float64
	Rationale     string
	VoteFraction  float64
	Confidence    float64
	Timestamp     time.Time
}

// Options tune the hybrid gates.
type Options struct {
	// VoteThreshold is the classifier vote fraction the primary gate needs.
	VoteThreshold float64
	// ColdStreakLength is how many consecutive sub-bound crashes arm the
	// reversion gate.
	ColdStreakLength int
	// ColdStreakBound is the low-multiplier bound defining a cold round.
	ColdStreakBound float64
	// SafetyMargin scales the consensus estimate down to the cashout target.
	SafetyMargin float64
}

func (o Options) withDefaults() Options {
	if o.VoteThreshold <= 0 {
		o.VoteThreshold = 0.75
	}
	if o.ColdStreakLength <= 0 {
		o.ColdStreakLength = 6
	}
	if o.ColdStreakBound <= 0 {
		o.ColdStreakBound = 1.5
	}
	if o.SafetyMargin <= 0 || o.SafetyMargin > 1 {
		o.SafetyMargin = 0.8
	}
	return o
}

const minCashout = 1.01

// Hybrid is the betting decision function. Decide is pure over its inputs
// (save for stake sizing, which consults the risk policy) and total: it
// always resolves to BET or SKIP.
type Hybrid struct {
	opts Options
}

// NewHybrid builds the strategy.
func NewHybrid(opts Options) *Hybrid {
	return &Hybrid{opts: opts.withDefaults()}
}

// Decide turns a consensus forecast into a betting decision for the round
// after the most recent one in history.
//
// Primary gate: vote fraction at or above the threshold. Secondary gate: a
// cold streak in the raw history, betting on reversion even when the vote
// fails. Neither gate firing, a degraded consensus, or a withheld stake all
// yield SKIP with a rationale.
func (h *Hybrid) Decide(consensus engine.Consensus, signals []pattern.Signal, history []round.Summary, policy RiskPolicy) Decision {
	d := Decision{
		ID:           uuid.NewString(),
		Round:        nextRound(history),
		VoteFraction: consensus.VoteFraction,
		Confidence:   consensus.Confidence,
		Timestamp:    time.Now().UTC(),
	}

	if consensus.Degraded {
		d.Action = ActionSkip
		d.Rationale = "no valid model predictions; consensus degraded"
		return d
	}

	primary := consensus.VoteFraction >= h.opts.VoteThreshold
	cold := h.coldStreak(history)

	if !primary && !cold {
		d.Action = ActionSkip
		d.Rationale = fmt.Sprintf(
			"primary gate failed (vote %.2f < %.2f) and no cold streak (%d rounds below %.2f required)",
			consensus.VoteFraction, h.opts.VoteThreshold, h.opts.ColdStreakLength, h.opts.ColdStreakBound,
		)
		return d
	}

	stake, ok := policy.Stake()
	if !ok || stake.LessThanOrEqual(decimal.Zero) {
		d.Action = ActionSkip
		d.Rationale = "gate authorized but risk policy withheld stake"
		return d
	}

	target := consensus.PointEstimate * h.opts.SafetyMargin
	if target < minCashout {
		target = minCashout
	}
	if target > consensus.PointEstimate {
		// Estimate sits below the floor; the margin cannot be honored.
		d.Action = ActionSkip
		d.Rationale = fmt.Sprintf("consensus estimate %.3f too low for minimum cashout", consensus.PointEstimate)
		return d
	}

	d.Action = ActionBet
	d.Stake = stake
	d.CashoutTarget = target
	d.Rationale = h.betRationale(primary, cold, consensus, signals)
	return d
}

func (h *Hybrid) betRationale(primary, cold bool, consensus engine.Consensus, signals []pattern.Signal) string {
	var gate string
	switch {
	case primary && cold:
		gate = fmt.Sprintf("vote gate passed (%.2f) and cold streak armed", consensus.VoteFraction)
	case primary:
		gate = fmt.Sprintf("vote gate passed (%.2f >= %.2f)", consensus.VoteFraction, h.opts.VoteThreshold)
	default:
		gate = fmt.Sprintf("cold streak override (%d+ rounds below %.2f)", h.opts.ColdStreakLength, h.opts.ColdStreakBound)
	}
	if best, ok := pattern.Strongest(signals); ok {
		gate += fmt.Sprintf("; pattern %s (%.2f)", best.Label, best.Confidence)
	}
	return gate
}

// coldStreak reports whether the most recent ColdStreakLength rounds all
// crashed below the bound.
func (h *Hybrid) coldStreak(history []round.Summary) bool {
	if len(history) < h.opts.ColdStreakLength {
		return false
	}
	for _, r := range history[len(history)-h.opts.ColdStreakLength:] {
		if r.CrashMultiplier >= h.opts.ColdStreakBound {
			return false
		}
	}
	return true
}

func nextRound(history []round.Summary) int64 {
	if len(history) == 0 {
		return 1
	}
	return history[len(history)-1].Number + 1
}
