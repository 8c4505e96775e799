package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrNotConfigured indicates the storage pool was not initialised.
var ErrNotConfigured = errors.New("storage: pool not configured")

const (
	upsertRoundSQL = `INSERT INTO rounds (
        round_number,
        start_ts,
        end_ts,
        max_multiplier,
        crash_multiplier,
        duration_ms,
        event_count
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (round_number) DO UPDATE
    SET
        start_ts         = EXCLUDED.start_ts,
        end_ts           = EXCLUDED.end_ts,
        max_multiplier   = EXCLUDED.max_multiplier,
        crash_multiplier = EXCLUDED.crash_multiplier,
        duration_ms      = EXCLUDED.duration_ms,
        event_count      = EXCLUDED.event_count;`

	listRoundsBetweenSQL = `SELECT
        round_number,
        start_ts,
        end_ts,
        max_multiplier,
        crash_multiplier,
        duration_ms,
        event_count,
        created_at
    FROM rounds
    WHERE end_ts >= $1
      AND end_ts < $2
    ORDER BY round_number;`

	listRecentRoundsSQL = `SELECT
        round_number,
        start_ts,
        end_ts,
        max_multiplier,
        crash_multiplier,
        duration_ms,
        event_count,
        created_at
    FROM rounds
    ORDER BY round_number DESC
    LIMIT $1;`

	countRoundsSQL = `SELECT COUNT(*) FROM rounds;`

	upsertPredictionSQL = `INSERT INTO predictions (
        round_number,
        point_estimate,
        confidence,
        range_min,
        range_max,
        vote_fraction,
        degraded
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (round_number) DO UPDATE
    SET
        point_estimate = EXCLUDED.point_estimate,
        confidence     = EXCLUDED.confidence,
        range_min      = EXCLUDED.range_min,
        range_max      = EXCLUDED.range_max,
        vote_fraction  = EXCLUDED.vote_fraction,
        degraded       = EXCLUDED.degraded;`

	insertDecisionSQL = `INSERT INTO decisions (
        id,
        round_number,
        action,
        stake,
        cashout_target,
        rationale
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    ON CONFLICT (id) DO NOTHING;`

	settleDecisionSQL = `UPDATE decisions
    SET outcome = $2, payout = $3
    WHERE id = $1;`

	listRecentDecisionsSQL = `SELECT
        id,
        round_number,
        action,
        stake,
        cashout_target,
        rationale,
        outcome,
        payout,
        created_at
    FROM decisions
    ORDER BY created_at DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// RoundStore defines the persistence collaborator for finalized rounds.
type RoundStore interface {
	UpsertRound(ctx context.Context, r RoundRecord) error
	ListRoundsBetween(ctx context.Context, from, to time.Time) ([]RoundRecord, error)
	ListRecentRounds(ctx context.Context, limit int) ([]RoundRecord, error)
	CountRounds(ctx context.Context) (int64, error)
}

// PredictionStore persists consensus forecasts keyed by round number.
type PredictionStore interface {
	UpsertPrediction(ctx context.Context, p PredictionRecord) error
}

// DecisionStore persists betting decisions and their settled outcomes.
type DecisionStore interface {
	InsertDecision(ctx context.Context, d DecisionRecord) error
	SettleDecision(ctx context.Context, id, outcome string, payout decimal.Decimal) error
	ListRecentDecisions(ctx context.Context, limit int) ([]DecisionRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to rounds, predictions, and decisions.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// UpsertRound persists one finalized round.
func (s *Store) UpsertRound(ctx context.Context, r RoundRecord) error {
	if s.pool == nil {
		return ErrNotConfigured
	}
	_, err := s.pool.Exec(ctx, upsertRoundSQL,
		r.Number,
		r.StartTime,
		r.EndTime,
		r.MaxMultiplier,
		r.CrashMultiplier,
		r.Duration.Milliseconds(),
		r.EventCount,
	)
	if err != nil {
		return fmt.Errorf("upsert round %d: %w", r.Number, err)
	}
	return nil
}

// ListRoundsBetween returns rounds whose end time falls in [from, to).
func (s *Store) ListRoundsBetween(ctx context.Context, from, to time.Time) ([]RoundRecord, error) {
	if s.pool == nil {
		return nil, ErrNotConfigured
	}
	rows, err := s.pool.Query(ctx, listRoundsBetweenSQL, from, to)
	if err != nil {
		return nil, fmt.Errorf("list rounds: %w", err)
	}
	defer rows.Close()
	return scanRounds(rows)
}

// ListRecentRounds returns the latest rounds, newest first.
func (s *Store) ListRecentRounds(ctx context.Context, limit int) ([]RoundRecord, error) {
	if s.pool == nil {
		return nil, ErrNotConfigured
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, listRecentRoundsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent rounds: %w", err)
	}
	defer rows.Close()
	return scanRounds(rows)
}

// CountRounds returns the number of persisted rounds.
func (s *Store) CountRounds(ctx context.Context) (int64, error) {
	if s.pool == nil {
		return 0, ErrNotConfigured
	}
	var count int64
	if err := s.pool.QueryRow(ctx, countRoundsSQL).Scan(&count); err != nil {
		return 0, fmt.Errorf("count rounds: %w", err)
	}
	return count, nil
}

// UpsertPrediction persists the consensus forecast for a round.
func (s *Store) UpsertPrediction(ctx context.Context, p PredictionRecord) error {
	if s.pool == nil {
		return ErrNotConfigured
	}
	_, err := s.pool.Exec(ctx, upsertPredictionSQL,
		p.RoundNumber,
		p.PointEstimate,
		p.Confidence,
		p.RangeMin,
		p.RangeMax,
		p.VoteFraction,
		p.Degraded,
	)
	if err != nil {
		return fmt.Errorf("upsert prediction for round %d: %w", p.RoundNumber, err)
	}
	return nil
}

// InsertDecision persists one betting decision.
func (s *Store) InsertDecision(ctx context.Context, d DecisionRecord) error {
	if s.pool == nil {
		return ErrNotConfigured
	}
	_, err := s.pool.Exec(ctx, insertDecisionSQL,
		d.ID,
		d.RoundNumber,
		d.Action,
		d.Stake,
		d.CashoutTarget,
		d.Rationale,
	)
	if err != nil {
		return fmt.Errorf("insert decision %s: %w", d.ID, err)
	}
	return nil
}

// SettleDecision records the executed outcome of a decision.
func (s *Store) SettleDecision(ctx context.Context, id, outcome string, payout decimal.Decimal) error {
	if s.pool == nil {
		return ErrNotConfigured
	}
	if _, err := s.pool.Exec(ctx, settleDecisionSQL, id, outcome, payout); err != nil {
		return fmt.Errorf("settle decision %s: %w", id, err)
	}
	return nil
}

// ListRecentDecisions returns the latest decisions, newest first.
func (s *Store) ListRecentDecisions(ctx context.Context, limit int) ([]DecisionRecord, error) {
	if s.pool == nil {
		return nil, ErrNotConfigured
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, listRecentDecisionsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent decisions: %w", err)
	}
	defer rows.Close()

	var out []DecisionRecord
	for rows.Next() {
		var d DecisionRecord
		if err := rows.Scan(
			&d.ID,
			&d.RoundNumber,
			&d.Action,
			&d.Stake,
			&d.CashoutTarget,
			&d.Rationale,
			&d.Outcome,
			&d.Payout,
			&d.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// TryAdvisoryLock acquires a session advisory lock so only one watcher
// samples at a time.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	if s.pool == nil {
		return nil, false, ErrNotConfigured
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire conn: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		_, _ = conn.Exec(context.Background(), advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

type roundRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanRounds(rows roundRows) ([]RoundRecord, error) {
	var out []RoundRecord
	for rows.Next() {
		var (
			r          RoundRecord
			durationMS int64
		)
		if err := rows.Scan(
			&r.Number,
			&r.StartTime,
			&r.EndTime,
			&r.MaxMultiplier,
			&r.CrashMultiplier,
			&durationMS,
			&r.EventCount,
			&r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

var (
	_ RoundStore      = (*Store)(nil)
	_ PredictionStore = (*Store)(nil)
	_ DecisionStore   = (*Store)(nil)
)
