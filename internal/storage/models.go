package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// RoundRecord is a finalized round as persisted, keyed by round number.
type RoundRecord struct {
	Number          int64
	StartTime       time.Time
	EndTime         time.Time
	MaxMultiplier   float64
	CrashMultiplier float64
	Duration        time.Duration
	EventCount      int
	CreatedAt       time.Time
}

// PredictionRecord is the consensus forecast stored for the round it
// predicted.
type PredictionRecord struct {
	RoundNumber   int64
	PointEstimate float64
	Confidence    float64
	RangeMin      float64
	RangeMax      float64
	VoteFraction  float64
	Degraded      bool
	CreatedAt     time.Time
}

// DecisionRecord is a betting decision plus, once settled, its outcome.
type DecisionRecord struct {
	ID            string
	RoundNumber   int64
	Action        string
	Stake         decimal.Decimal
	CashoutTarget float64
	Rationale     string
	Outcome       *string
	Payout        *decimal.Decimal
	CreatedAt     time.Time
}
