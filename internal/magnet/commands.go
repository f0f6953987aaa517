package magnet

import (
	"context"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Units reads the active unit mode.
func (c *Controller) Units(ctx context.Context) (Units, error) {
	reply, err := c.cmd.Query(ctx, "UNITS?")
	if err != nil {
		return "", err
	}
	u, err := ParseUnits(reply)
	if err != nil {
		return "", &ParseError{Command: "UNITS?", Reply: reply, Err: err}
	}
	return u, nil
}

// SetUnits selects the unit mode used by readings and limits.
func (c *Controller) SetUnits(ctx context.Context, u Units) error {
	u, err := ParseUnits(string(u))
	if err != nil {
		return err
	}
	return c.cmd.Send(ctx, "UNITS "+string(u))
}

// OperatingMode switches between remote and local front-panel control.
func (c *Controller) OperatingMode(ctx context.Context, remote bool) error {
	if remote {
		return c.cmd.Send(ctx, "REMOTE")
	}
	return c.cmd.Send(ctx, "LOCAL")
}

// MagnetVoltage is VMAG? in volts.
func (c *Controller) MagnetVoltage(ctx context.Context) (float64, error) {
	return c.readNumber(ctx, "VMAG?")
}

// OutputVoltage is VOUT? in volts.
func (c *Controller) OutputVoltage(ctx context.Context) (float64, error) {
	return c.readNumber(ctx, "VOUT?")
}

// OutputCurrent is IOUT? converted to amps regardless of unit mode.
func (c *Controller) OutputCurrent(ctx context.Context) (float64, error) {
	raw, err := c.readNumber(ctx, "IOUT?")
	if err != nil {
		return 0, err
	}
	units, err := c.Units(ctx)
	if err != nil {
		return 0, err
	}
	if units == UnitsAmps {
		return raw, nil
	}
	return raw * teslaPerKiloGauss / c.coil, nil
}

// Sweeping reports whether a sweep (up, down or to zero) is active.
func (c *Controller) Sweeping(ctx context.Context) (bool, error) {
	reply, err := c.cmd.Query(ctx, "SWEEP?")
	if err != nil {
		return false, err
	}
	mode := strings.ToUpper(reply)
	for _, active := range []string{"UP", "DOWN", "ZERO"} {
		if strings.Contains(mode, active) {
			return true, nil
		}
	}
	return false, nil
}

// Pause holds the present current.
func (c *Controller) Pause(ctx context.Context) error {
	return c.cmd.Send(ctx, "SWEEP PAUSE")
}

// ZeroCurrent sweeps the supply to zero at the configured rates.
func (c *Controller) ZeroCurrent(ctx context.Context) error {
	if _, err := c.CheckFailureConditions(ctx); err != nil {
		return err
	}
	c.log.Infow("sweeping to zero")
	return c.cmd.Send(ctx, "SWEEP ZERO")
}

// QuenchReset clears the latched quench condition.
func (c *Controller) QuenchReset(ctx context.Context) error {
	c.log.Warnw("resetting quench condition")
	return c.cmd.Send(ctx, "QRESET")
}

// Reset restores the supply defaults and reprograms the rate table.
func (c *Controller) Reset(ctx context.Context) error {
	if err := c.cmd.Send(ctx, "*RST"); err != nil {
		return err
	}
	if err := c.initializeCurrentLimits(ctx); err != nil {
		return err
	}
	if err := c.OperatingMode(ctx, true); err != nil {
		return err
	}
	return c.SetUnits(ctx, UnitsTesla)
}

// Identify returns the *IDN? reply.
func (c *Controller) Identify(ctx context.Context) (string, error) {
	reply, err := c.cmd.Query(ctx, "*IDN?")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

func (c *Controller) readNumber(ctx context.Context, cmd string) (float64, error) {
	reply, err := c.cmd.Query(ctx, cmd)
	if err != nil {
		return 0, err
	}
	v, err := parseNumeric(reply)
	if err != nil {
		return 0, &ParseError{Command: cmd, Reply: reply, Err: err}
	}
	return v, nil
}

// parseNumeric drops unit suffixes and whitespace from a reply.
func parseNumeric(reply string) (float64, error) {
	s := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '+' {
			return r
		}
		return -1
	}, reply)
	return strconv.ParseFloat(s, 64)
}

// formatValue renders the shortest decimal that parses back to v.
func formatValue(v float64) string {
	return decimal.NewFromFloat(v).String()
}
