package feed

import (
	"context"
	"errors"

	"crashwatcher/internal/round"
)

// ErrExhausted signals that a finite source has no more samples.
var ErrExhausted = errors.New("feed: source exhausted")

// Source delivers one multiplier sample per call. The pipeline polls it on
// its tick cadence; a source that cannot produce a reading returns an absent
// sample, never an error, unless the source itself is finished or broken.
type Source interface {
	Fetch(ctx context.Context) (round.Sample, error)
	Close() error
}
