package models

import "time"

// RampEvent is a single entry of the magnet operation log.
type RampEvent struct {
	EventID     string    `json:"event_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	Type        string    `json:"type"`        // RAMP_START | RAMP_DONE | RAMP_BLOCKED | ... | ERROR
	Description string    `json:"description"` // human-readable
	Metadata    any       `json:"metadata,omitempty"`
}

// Event types written to the log.
const (
	EventRampStart   = "RAMP_START"
	EventRampDone    = "RAMP_DONE"
	EventRampBlocked = "RAMP_BLOCKED"
	EventRampCancel  = "RAMP_CANCEL"
	EventRateChange  = "RATE_CHANGE"
	EventUnits       = "UNITS"
	EventPause       = "PAUSE"
	EventZero        = "ZERO"
	EventQuenchReset = "QUENCH_RESET"
	EventError       = "ERROR"
)
