package telemetry

import (
	"github.com/rs/zerolog"

	"crashwatcher/internal/round"
	"crashwatcher/internal/strategy"
)

// EventSink receives every tracker event, betting decision, and model fault
// as plain records. Implementations must be cheap; they run on the tick path.
type EventSink interface {
	RoundEvent(e round.Event)
	Decision(d strategy.Decision)
	ModelFault(modelID string, roundNumber int64, kind string, err error)
}

// LogSink writes every record through zerolog.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink builds a LogSink.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "events").Logger()}
}

func (s *LogSink) RoundEvent(e round.Event) {
	evt := s.logger.Debug()
	if e.Type == round.EventCrash || e.Type == round.EventRoundStart || e.Type == round.EventHighMultiplier {
		evt = s.logger.Info()
	}
	evt.Str("event", string(e.Type)).
		Int64("round", e.Round).
		Float64("multiplier", e.Multiplier).
		Msg("round event")
}

func (s *LogSink) Decision(d strategy.Decision) {
	s.logger.Info().
		Str("decision", d.ID).
		Int64("round", d.Round).
		Str("action", string(d.Action)).
		Str("stake", d.Stake.String()).
		Float64("cashout_target", d.CashoutTarget).
		Float64("vote_fraction", d.VoteFraction).
		Float64("confidence", d.Confidence).
		Str("rationale", d.Rationale).
		Msg("betting decision")
}

func (s *LogSink) ModelFault(modelID string, roundNumber int64, kind string, err error) {
	s.logger.Warn().
		Str("model", modelID).
		Int64("round", roundNumber).
		Str("kind", kind).
		Err(err).
		Msg("model fault")
}

// MultiSink fans records out to several sinks.
type MultiSink []EventSink

func (m MultiSink) RoundEvent(e round.Event) {
	for _, s := range m {
		s.RoundEvent(e)
	}
}

func (m MultiSink) Decision(d strategy.Decision) {
	for _, s := range m {
		s.Decision(d)
	}
}

func (m MultiSink) ModelFault(modelID string, roundNumber int64, kind string, err error) {
	for _, s := range m {
		s.ModelFault(modelID, roundNumber, kind, err)
	}
}

var (
	_ EventSink = (*LogSink)(nil)
	_ EventSink = (MultiSink)(nil)
)
