package magnet

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Field returns the magnet reading: Tesla when the supply is in Tesla
// units, otherwise the raw value in the active units.
func (c *Controller) Field(ctx context.Context) (float64, error) {
	raw, units, err := c.reading(ctx)
	if err != nil {
		return 0, err
	}
	if units == UnitsTesla {
		return raw * teslaPerKiloGauss, nil
	}
	return raw, nil
}

// reading returns IMAG? and the active units. Field units report kilogauss.
func (c *Controller) reading(ctx context.Context) (float64, Units, error) {
	raw, err := c.readNumber(ctx, "IMAG?")
	if err != nil {
		return 0, "", err
	}
	units, err := c.Units(ctx)
	if err != nil {
		return 0, "", err
	}
	return raw, units, nil
}

// currentAmps is the magnet current regardless of the unit mode.
func (c *Controller) currentAmps(ctx context.Context) (float64, error) {
	raw, units, err := c.reading(ctx)
	if err != nil {
		return 0, err
	}
	if units == UnitsAmps {
		return raw, nil
	}
	return raw * teslaPerKiloGauss / c.coil, nil
}

// Status reads the failure flags from the status byte.
func (c *Controller) Status(ctx context.Context) (FailureState, error) {
	reply, err := c.cmd.Query(ctx, "*STB?")
	if err != nil {
		return FailureState{}, err
	}
	stb, err := strconv.Atoi(strings.TrimSpace(reply))
	if err != nil {
		return FailureState{}, &ParseError{Command: "*STB?", Reply: reply, Err: err}
	}
	return FailureState{
		QuenchPresent:      stb&statusQuench != 0,
		PowerModuleFailure: stb&statusPowerModule != 0,
	}, nil
}

// CheckFailureConditions returns a SafetyFault when the supply must not ramp.
func (c *Controller) CheckFailureConditions(ctx context.Context) (FailureState, error) {
	state, err := c.Status(ctx)
	if err != nil {
		return FailureState{}, err
	}
	if state.QuenchPresent {
		msg := "cannot ramp due to quench condition"
		c.log.Errorw(msg)
		return FailureState{}, &SafetyFault{Reason: msg, State: state}
	}
	if state.PowerModuleFailure {
		msg := "cannot ramp due to power module failure"
		c.log.Errorw(msg)
		return FailureState{}, &SafetyFault{Reason: msg, State: state}
	}
	return state, nil
}

// SetField ramps to targetT. A safety fault is not an error: the result
// carries RampBlockedBySafety and nothing is sent. Without block the sweep is
// left running on the instrument; with block the call polls until the field
// converges, then pauses the sweep. Cancelling ctx pauses the sweep and
// returns the context error.
func (c *Controller) SetField(ctx context.Context, targetT float64, block bool) (RampResult, error) {
	res, err := c.StartRamp(ctx, targetT)
	if err != nil || res.Status != RampStarted {
		return res, err
	}
	if !block {
		c.log.Warnw("magnetic field is ramping but not currently blocked", "target_t", targetT)
		return res, nil
	}
	return c.AwaitSetpoint(ctx, res)
}

// StartRamp performs the gated part of SetField: read, compare, check the
// status byte, program the limit and start the sweep.
func (c *Controller) StartRamp(ctx context.Context, targetT float64) (RampResult, error) {
	if math.IsNaN(targetT) || math.Abs(targetT) > c.maxFieldT {
		return RampResult{}, fmt.Errorf("%g T (limit ±%g T): %w", targetT, c.maxFieldT, ErrFieldLimit)
	}
	current, err := c.Field(ctx)
	if err != nil {
		return RampResult{}, err
	}
	c.log.Debugw("ramp_requested", "current_t", current, "target_t", targetT)

	if math.Abs(targetT-current) < setpointTolerance {
		c.log.Infow("magnetic field is already at setpoint", "field_t", targetT)
		return RampResult{
			Status: RampAlreadyAtTarget,
			StartT: current,
			FinalT: current,
			Target: RampTarget{FieldT: targetT, SetpointKG: targetT * kiloGaussPerTesla},
		}, nil
	}

	if _, err := c.CheckFailureConditions(ctx); err != nil {
		var fault *SafetyFault
		if errors.As(err, &fault) {
			c.log.Errorw("cannot set field", "reason", fault.Reason, "target_t", targetT)
			return RampResult{Status: RampBlockedBySafety, StartT: current, Reason: fault.Reason}, nil
		}
		return RampResult{}, err
	}

	target := newRampTarget(targetT, current)
	if err := c.cmd.Send(ctx, target.limitCommand()); err != nil {
		return RampResult{}, err
	}
	c.log.Debugw("sweeping", "direction", target.Direction, "setpoint_kg", target.SetpointKG)
	if err := c.cmd.Send(ctx, "SWEEP "+string(target.Direction)); err != nil {
		return RampResult{}, err
	}
	return RampResult{Status: RampStarted, StartT: current, Target: target}, nil
}

// AwaitSetpoint polls the field every poll interval until it is within
// tolerance of the target, then sends SWEEP PAUSE once.
func (c *Controller) AwaitSetpoint(ctx context.Context, res RampResult) (RampResult, error) {
	target := res.Target.FieldT
	c.log.Debugw("starting blocking ramp", "target_t", target)

	field := res.StartT
	for math.Abs(target-field) > convergenceTolerance {
		if err := c.clock.Sleep(ctx, c.poll); err != nil {
			return c.abortRamp(ctx, res, field, err)
		}
		next, err := c.Field(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return c.abortRamp(ctx, res, field, ctx.Err())
			}
			return res, err
		}
		field = next
		c.log.Debugw("ramp_progress", "field_t", field, "target_t", target)
	}
	c.log.Debugw("finished blocking ramp", "field_t", field)

	if err := c.Pause(ctx); err != nil {
		return res, err
	}
	res.Status = RampCompleted
	res.FinalT = field
	return res, nil
}

// abortRamp stops the sweep after the caller gave up waiting.
func (c *Controller) abortRamp(ctx context.Context, res RampResult, field float64, cause error) (RampResult, error) {
	res.FinalT = field
	interrupted := fmt.Errorf("ramp to %g T interrupted at %g T: %w", res.Target.FieldT, field, cause)

	pauseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abortPauseTimeout)
	defer cancel()
	if err := c.Pause(pauseCtx); err != nil {
		c.log.Errorw("pause_after_interrupt_failed", "err", err)
		return res, errors.Join(interrupted, err)
	}
	c.log.Warnw("ramp_interrupted", "field_t", field, "target_t", res.Target.FieldT, "cause", cause)
	return res, interrupted
}
