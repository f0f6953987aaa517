package magnet

import (
	"fmt"
	"strings"
)

// Units is the active unit mode of the supply.
type Units string

const (
	UnitsAmps      Units = "A"
	UnitsKiloGauss Units = "kG"
	UnitsTesla     Units = "T"
)

// ParseUnits accepts the unit names case-insensitively.
func ParseUnits(s string) (Units, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A":
		return UnitsAmps, nil
	case "KG":
		return UnitsKiloGauss, nil
	case "T":
		return UnitsTesla, nil
	}
	return "", fmt.Errorf("%q: %w", s, ErrInvalidUnits)
}

// FailureState is read from the status byte for one ramp attempt.
type FailureState struct {
	QuenchPresent      bool `json:"quench_present"`
	PowerModuleFailure bool `json:"power_module_failure"`
}

// CanStartRamping is true when no failure flag is set.
func (f FailureState) CanStartRamping() bool {
	return !f.QuenchPresent && !f.PowerModuleFailure
}

// RateRange is one band of the current-range table.
type RateRange struct {
	Index       int     `json:"index" mapstructure:"index"`
	UpperLimitA float64 `json:"upper_limit_a" mapstructure:"limit_a"`
	MaxRateAps  float64 `json:"max_rate_a_s" mapstructure:"rate_a_s"`
}

// RateTable is searched in order; limits must ascend.
type RateTable []RateRange

// Validate enforces unique indices, positive values and strictly ascending limits.
func (t RateTable) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("%w: table is empty", ErrInvalidRangeTable)
	}
	seen := make(map[int]bool, len(t))
	for i, r := range t {
		if seen[r.Index] {
			return fmt.Errorf("%w: duplicate index %d", ErrInvalidRangeTable, r.Index)
		}
		seen[r.Index] = true
		if r.UpperLimitA <= 0 || r.MaxRateAps <= 0 {
			return fmt.Errorf("%w: range %d needs positive limit and rate", ErrInvalidRangeTable, r.Index)
		}
		if i > 0 && r.UpperLimitA <= t[i-1].UpperLimitA {
			return fmt.Errorf("%w: range %d limit %g A does not exceed previous %g A",
				ErrInvalidRangeTable, r.Index, r.UpperLimitA, t[i-1].UpperLimitA)
		}
	}
	return nil
}

// Lookup returns the first band whose limit is at or above amps.
func (t RateTable) Lookup(amps float64) (RateRange, bool) {
	for _, r := range t {
		if amps <= r.UpperLimitA {
			return r, true
		}
	}
	return RateRange{}, false
}

func (t RateTable) String() string {
	parts := make([]string, 0, len(t))
	for _, r := range t {
		parts = append(parts, fmt.Sprintf("%d: <=%g A @ %g A/s", r.Index, r.UpperLimitA, r.MaxRateAps))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Direction of a sweep.
type Direction string

const (
	DirectionUp   Direction = "UP"
	DirectionDown Direction = "DOWN"
)

// RampTarget is derived per ramp from the present and requested field.
type RampTarget struct {
	FieldT     float64   `json:"field_t"`
	SetpointKG float64   `json:"setpoint_kg"`
	Direction  Direction `json:"direction"`
}

func newRampTarget(targetT, currentT float64) RampTarget {
	dir := DirectionUp
	if targetT < currentT {
		dir = DirectionDown
	}
	return RampTarget{
		FieldT:     targetT,
		SetpointKG: targetT * kiloGaussPerTesla,
		Direction:  dir,
	}
}

// limitCommand is LLIM for downward sweeps and ULIM for upward ones.
func (r RampTarget) limitCommand() string {
	if r.Direction == DirectionDown {
		return "LLIM " + formatValue(r.SetpointKG)
	}
	return "ULIM " + formatValue(r.SetpointKG)
}

// RampStatus is the outcome of a SetField call.
type RampStatus string

const (
	// RampStarted: the sweep is running on the instrument, unsupervised.
	RampStarted RampStatus = "started"
	// RampCompleted: a blocking ramp converged and the sweep was paused.
	RampCompleted RampStatus = "completed"
	// RampAlreadyAtTarget: no device interaction beyond reading the field.
	RampAlreadyAtTarget RampStatus = "already_at_target"
	// RampBlockedBySafety: a quench or power-module fault prevented the sweep.
	RampBlockedBySafety RampStatus = "blocked_by_safety"
)

// RampResult reports what SetField did.
type RampResult struct {
	Status RampStatus `json:"status"`
	StartT float64    `json:"start_t"`
	Target RampTarget `json:"target"`
	Reason string     `json:"reason,omitempty"`
	FinalT float64    `json:"final_t,omitempty"`
}

// RateSetting is what SetRate sent to the instrument.
type RateSetting struct {
	Range       RateRange `json:"range"`
	RateAps     float64   `json:"rate_a_s"`
	RateTPerMin float64   `json:"rate_t_per_min"`
	Clamped     bool      `json:"clamped"`
}
