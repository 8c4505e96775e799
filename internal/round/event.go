package round

import "time"

// EventType enumerates tracker lifecycle events.
type EventType string

const (
	EventRoundStart       EventType = "ROUND_START"
	EventMultiplierUpdate EventType = "MULTIPLIER_UPDATE"
	EventHighMultiplier   EventType = "HIGH_MULTIPLIER"
	EventCrash            EventType = "CRASH"
)

// Event is a plain record handed to external telemetry collaborators.
type Event struct {
	Type       EventType
	Round      int64
	Multiplier float64
	Timestamp  time.Time
}
