// Package magnet drives a superconducting-magnet power supply: unit
// conversion, the current-range rate table, safety gating and the
// sweep-to-setpoint sequence.
package magnet

import (
	"context"
	"fmt"
	"time"

	"controlling_magnet/internal/clock"
	"controlling_magnet/internal/logger"
)

const (
	kiloGaussPerTesla = 10.0
	teslaPerKiloGauss = 0.1
	secondsPerMinute  = 60.0

	// setpointTolerance below which SetField does nothing (T).
	setpointTolerance = 1e-4
	// convergenceTolerance ends a blocking ramp (T).
	convergenceTolerance = 0.002

	// status byte bits
	statusQuench      = 1 << 2
	statusPowerModule = 1 << 3

	// abortPauseTimeout bounds the SWEEP PAUSE sent after an interrupted ramp;
	// it must cover one channel retry cooldown.
	abortPauseTimeout = 15 * time.Second
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultMaxFieldT    = 9.001
)

// Commander is the command channel surface the controller needs.
type Commander interface {
	Send(ctx context.Context, cmd string) error
	Query(ctx context.Context, cmd string) (string, error)
}

// Config is fixed at construction.
type Config struct {
	CoilConstant float64 // T/A
	Ranges       RateTable
	PollInterval time.Duration
	MaxFieldT    float64
}

// Option customizes a Controller.
type Option func(*Controller)

func WithLogger(l *logger.Logger) Option {
	return func(c *Controller) { c.log = logger.OrNop(l) }
}

// WithClock replaces the clock driving the blocking ramp poll.
func WithClock(clk clock.Clock) Option {
	return func(c *Controller) { c.clock = clk }
}

// Controller owns one magnet. Configuration is read-only after New, so
// concurrent calls are safe as long as the Commander serializes exchanges.
type Controller struct {
	cmd       Commander
	coil      float64
	ranges    RateTable
	poll      time.Duration
	maxFieldT float64
	clock     clock.Clock
	log       *logger.Logger
}

// New validates cfg, programs every range limit and rate, switches the
// supply to remote mode and selects Tesla units. The first failing command
// aborts construction without rollback.
func New(ctx context.Context, cmd Commander, cfg Config, opts ...Option) (*Controller, error) {
	if cfg.CoilConstant <= 0 {
		return nil, ErrInvalidCoil
	}
	if err := cfg.Ranges.Validate(); err != nil {
		return nil, err
	}
	c := &Controller{
		cmd:       cmd,
		coil:      cfg.CoilConstant,
		ranges:    append(RateTable(nil), cfg.Ranges...),
		poll:      cfg.PollInterval,
		maxFieldT: cfg.MaxFieldT,
		clock:     clock.Real{},
		log:       logger.Nop(),
	}
	if c.poll <= 0 {
		c.poll = DefaultPollInterval
	}
	if c.maxFieldT <= 0 {
		c.maxFieldT = DefaultMaxFieldT
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.initializeCurrentLimits(ctx); err != nil {
		return nil, fmt.Errorf("initialize current limits: %w", err)
	}
	if err := c.OperatingMode(ctx, true); err != nil {
		return nil, err
	}
	if err := c.SetUnits(ctx, UnitsTesla); err != nil {
		return nil, err
	}
	c.log.Infow("magnet_controller_ready", "coil_t_per_a", c.coil, "ranges", c.ranges.String())
	return c, nil
}

// initializeCurrentLimits sends RANGE and RATE for each entry in table order.
func (c *Controller) initializeCurrentLimits(ctx context.Context) error {
	for _, r := range c.ranges {
		if err := c.cmd.Send(ctx, fmt.Sprintf("RANGE %d %s", r.Index, formatValue(r.UpperLimitA))); err != nil {
			return err
		}
		if err := c.cmd.Send(ctx, fmt.Sprintf("RATE %d %s", r.Index, formatValue(r.MaxRateAps))); err != nil {
			return err
		}
	}
	return nil
}

// CoilConstant in T/A.
func (c *Controller) CoilConstant() float64 {
	return c.coil
}

// Ranges returns a copy of the rate table.
func (c *Controller) Ranges() RateTable {
	return append(RateTable(nil), c.ranges...)
}

// MaxFieldT is the largest accepted |setpoint|.
func (c *Controller) MaxFieldT() float64 {
	return c.maxFieldT
}
