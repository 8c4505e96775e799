package strategy

import (
	"sync"

	"github.com/shopspring/decimal"
)

// RiskPolicy is the externally supplied stake-sizing collaborator. Stake
// returns the amount to wager; a zero stake (or ok=false) withholds funds.
type RiskPolicy interface {
	Stake() (decimal.Decimal, bool)
	// RecordOutcome feeds an execution result back so loss caps can engage.
	RecordOutcome(won bool, delta decimal.Decimal)
}

// FixedFractionOptions configure the bundled risk policy.
type FixedFractionOptions struct {
	Bankroll             decimal.Decimal
	StakeFraction        float64
	MaxStake             decimal.Decimal
	MaxConsecutiveLosses int
}

// FixedFractionPolicy stakes a fixed fraction of the running bankroll, capped
// at MaxStake, and stops staking entirely after a configured run of losses.
type FixedFractionPolicy struct {
	mu sync.Mutex

	bankroll decimal.Decimal
	fraction decimal.Decimal
	maxStake decimal.Decimal
	maxRun   int

	lossRun int
}

// NewFixedFractionPolicy builds the policy.
func NewFixedFractionPolicy(opts FixedFractionOptions) *FixedFractionPolicy {
	fraction := decimal.NewFromFloat(opts.StakeFraction)
	if fraction.LessThanOrEqual(decimal.Zero) {
		fraction = decimal.NewFromFloat(0.01)
	}
	maxRun := opts.MaxConsecutiveLosses
	if maxRun <= 0 {
		maxRun = 5
	}
	return &FixedFractionPolicy{
		bankroll: opts.Bankroll,
		fraction: fraction,
		maxStake: opts.MaxStake,
		maxRun:   maxRun,
	}
}

// Stake returns the next wager amount, or ok=false when the policy refuses.
func (p *FixedFractionPolicy) Stake() (decimal.Decimal, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lossRun >= p.maxRun {
		return decimal.Zero, false
	}
	if p.bankroll.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, false
	}

	stake := p.bankroll.Mul(p.fraction).Round(2)
	if p.maxStake.GreaterThan(decimal.Zero) && stake.GreaterThan(p.maxStake) {
		stake = p.maxStake
	}
	if stake.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, false
	}
	return stake, true
}

// RecordOutcome updates the bankroll and the consecutive-loss counter. A win
// resets the loss run.
func (p *FixedFractionPolicy) RecordOutcome(won bool, delta decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.bankroll = p.bankroll.Add(delta)
	if won {
		p.lossRun = 0
	} else {
		p.lossRun++
	}
}

// Bankroll reports the current bankroll.
func (p *FixedFractionPolicy) Bankroll() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bankroll
}
