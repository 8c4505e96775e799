package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"crashwatcher/internal/engine"
	"crashwatcher/internal/round"
)

type stubPolicy struct {
	stake    decimal.Decimal
	ok       bool
	outcomes int
}

func (s *stubPolicy) Stake() (decimal.Decimal, bool) { return s.stake, s.ok }

func (s *stubPolicy) RecordOutcome(bool, decimal.Decimal) { s.outcomes++ }

func grantingPolicy() *stubPolicy {
	return &stubPolicy{stake: decimal.NewFromInt(10), ok: true}
}

func historyWith(crashes ...float64) []round.Summary {
	base := time.Date(2026, 3, 3, 14, 0, 0, 0, time.UTC)
	out := make([]round.Summary, len(crashes))
	for i, c := range crashes {
		end := base.Add(time.Duration(i) * time.Minute)
		out[i] = round.Summary{
			Number:          int64(i + 1),
			EndTime:         end,
			CrashMultiplier: c,
			MaxMultiplier:   c,
			Status:          round.StatusCrashed,
		}
	}
	return out
}

func okConsensus(point, voteFraction float64) engine.Consensus {
	return engine.Consensus{
		PointEstimate: point,
		Confidence:    0.7,
		RangeMin:      point * 0.8,
		RangeMax:      point * 1.2,
		VoteFraction:  voteFraction,
	}
}

func TestDecideBetOnPrimaryGate(t *testing.T) {
	h := NewHybrid(Options{})

	d := h.Decide(okConsensus(2.5, 0.8), nil, historyWith(2.0, 3.0, 1.5), grantingPolicy())

	require.Equal(t, ActionBet, d.Action)
	require.InDelta(t, 2.0, d.CashoutTarget, 1e-9)
	require.True(t, d.Stake.Equal(decimal.NewFromInt(10)))
	require.Contains(t, d.Rationale, "vote gate passed")
}

func TestDecideSkipWhenBothGatesFail(t *testing.T) {
	h := NewHybrid(Options{VoteThreshold: 0.75, ColdStreakLength: 6, ColdStreakBound: 1.5})

	d := h.Decide(okConsensus(2.5, 0.70), nil, historyWith(2.0, 3.0, 1.5, 2.2, 4.0, 2.1), grantingPolicy())

	require.Equal(t, ActionSkip, d.Action)
	require.Contains(t, d.Rationale, "primary gate failed")
	require.Contains(t, d.Rationale, "no cold streak")
}

func TestDecideColdStreakOverride(t *testing.T) {
	h := NewHybrid(Options{VoteThreshold: 0.75, ColdStreakLength: 4, ColdStreakBound: 1.5})

	d := h.Decide(okConsensus(2.5, 0.1), nil, historyWith(3.0, 1.1, 1.2, 1.3, 1.4), grantingPolicy())

	require.Equal(t, ActionBet, d.Action)
	require.Contains(t, d.Rationale, "cold streak override")
}

func TestDecideColdStreakBrokenByOneHighRound(t *testing.T) {
	h := NewHybrid(Options{VoteThreshold: 0.75, ColdStreakLength: 4, ColdStreakBound: 1.5})

	d := h.Decide(okConsensus(2.5, 0.1), nil, historyWith(1.1, 1.2, 2.0, 1.3, 1.4), grantingPolicy())

	require.Equal(t, ActionSkip, d.Action)
}

func TestDecideCashoutBounds(t *testing.T) {
	h := NewHybrid(Options{SafetyMargin: 0.8})
	policy := grantingPolicy()

	for _, point := range []float64{1.3, 1.6, 2.0, 5.0, 40.0} {
		d := h.Decide(okConsensus(point, 0.9), nil, historyWith(2.0), policy)
		if d.Action != ActionBet {
			continue
		}
		require.GreaterOrEqual(t, d.CashoutTarget, 1.01, "point %v", point)
		require.LessOrEqual(t, d.CashoutTarget, point, "point %v", point)
	}
}

func TestDecideSkipWhenEstimateBelowMinimumCashout(t *testing.T) {
	h := NewHybrid(Options{})

	// 1.005 * 0.8 floors to 1.01, which exceeds the estimate itself.
	d := h.Decide(okConsensus(1.005, 0.9), nil, historyWith(2.0), grantingPolicy())

	require.Equal(t, ActionSkip, d.Action)
	require.Contains(t, d.Rationale, "too low")
}

func TestDecideSkipOnDegradedConsensus(t *testing.T) {
	h := NewHybrid(Options{})

	d := h.Decide(engine.Consensus{Degraded: true}, nil, historyWith(1.1, 1.1, 1.1, 1.1, 1.1, 1.1), grantingPolicy())

	require.Equal(t, ActionSkip, d.Action)
	require.Contains(t, d.Rationale, "degraded")
}

func TestDecideSkipWhenPolicyWithholdsStake(t *testing.T) {
	h := NewHybrid(Options{})
	policy := &stubPolicy{ok: false}

	d := h.Decide(okConsensus(2.5, 0.9), nil, historyWith(2.0), policy)

	require.Equal(t, ActionSkip, d.Action)
	require.Contains(t, d.Rationale, "risk policy withheld stake")
}

func TestDecideIsTotal(t *testing.T) {
	h := NewHybrid(Options{})

	// Empty history, empty signals, zero consensus: still a decision.
	d := h.Decide(engine.Consensus{}, nil, nil, grantingPolicy())
	require.Contains(t, []Action{ActionBet, ActionSkip}, d.Action)
	require.NotEmpty(t, d.Rationale)
	require.NotEmpty(t, d.ID)
}

func TestBetImpliesGateFired(t *testing.T) {
	h := NewHybrid(Options{VoteThreshold: 0.75, ColdStreakLength: 4, ColdStreakBound: 1.5})
	policy := grantingPolicy()

	histories := [][]float64{
		{1.1, 1.2, 1.3, 1.4},
		{2.0, 3.0, 1.5, 2.2},
		{1.1, 1.2, 2.0, 1.4},
	}
	votes := []float64{0.0, 0.5, 0.76, 0.9}

	for _, crashes := range histories {
		history := historyWith(crashes...)
		for _, vf := range votes {
			d := h.Decide(okConsensus(2.5, vf), nil, history, policy)
			if d.Action == ActionBet {
				fired := vf >= 0.75 || h.coldStreak(history)
				require.True(t, fired, "BET without any gate firing (vote=%v crashes=%v)", vf, crashes)
			}
		}
	}
}

func TestFixedFractionPolicyStake(t *testing.T) {
	p := NewFixedFractionPolicy(FixedFractionOptions{
		Bankroll:      decimal.NewFromInt(1000),
		StakeFraction: 0.01,
		MaxStake:      decimal.NewFromInt(25),
	})

	stake, ok := p.Stake()
	require.True(t, ok)
	require.True(t, stake.Equal(decimal.NewFromInt(10)), "got %s", stake)
}

func TestFixedFractionPolicyMaxStakeCap(t *testing.T) {
	p := NewFixedFractionPolicy(FixedFractionOptions{
		Bankroll:      decimal.NewFromInt(100000),
		StakeFraction: 0.01,
		MaxStake:      decimal.NewFromInt(25),
	})

	stake, ok := p.Stake()
	require.True(t, ok)
	require.True(t, stake.Equal(decimal.NewFromInt(25)), "got %s", stake)
}

func TestFixedFractionPolicyLossCutoff(t *testing.T) {
	p := NewFixedFractionPolicy(FixedFractionOptions{
		Bankroll:             decimal.NewFromInt(1000),
		StakeFraction:        0.01,
		MaxConsecutiveLosses: 3,
	})

	for i := 0; i < 3; i++ {
		p.RecordOutcome(false, decimal.NewFromInt(-10))
	}
	_, ok := p.Stake()
	require.False(t, ok, "loss cap must withhold stake")

	p.RecordOutcome(true, decimal.NewFromInt(15))
	_, ok = p.Stake()
	require.True(t, ok, "a win resets the loss run")
}

func TestFixedFractionPolicyRefusesOnEmptyBankroll(t *testing.T) {
	p := NewFixedFractionPolicy(FixedFractionOptions{
		Bankroll:      decimal.NewFromInt(0),
		StakeFraction: 0.05,
	})

	_, ok := p.Stake()
	require.False(t, ok)
}
