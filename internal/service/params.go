package service

import "time"

// FieldParams requests a ramp. With Block the service supervises the ramp
// until the field converges and then pauses the sweep.
type FieldParams struct {
	TargetT float64
	Block   bool
}

// RateParams requests a sweep rate in T/min.
type RateParams struct {
	TPerMin float64
}

// LogFilter supports history filtering by time range and type.
type LogFilter struct {
	From time.Time // inclusive; zero means no lower bound
	To   time.Time // inclusive; zero means no upper bound
	Type string    // "", "RAMP_START", "RAMP_DONE", "RATE_CHANGE", "ERROR", ...
}
