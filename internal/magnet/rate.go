package magnet

import (
	"context"
	"fmt"
	"math"
)

// Rate reads the active sweep rate in T/min.
func (c *Controller) Rate(ctx context.Context) (float64, error) {
	aps, err := c.readNumber(ctx, "RATE?")
	if err != nil {
		return 0, err
	}
	return c.teslaPerMinute(aps), nil
}

// SetRate programs the band covering the present current. A request above the
// band maximum is clamped with a warning.
func (c *Controller) SetRate(ctx context.Context, tPerMin float64) (RateSetting, error) {
	if !(tPerMin > 0) || math.IsInf(tPerMin, 0) {
		return RateSetting{}, fmt.Errorf("%g T/min: %w", tPerMin, ErrInvalidRate)
	}
	requested := c.ampsPerSecond(tPerMin)

	amps, err := c.currentAmps(ctx)
	if err != nil {
		return RateSetting{}, err
	}

	band, ok := c.ranges.Lookup(amps)
	if !ok {
		return RateSetting{}, &OutOfRangeError{CurrentA: amps, Ranges: c.Ranges()}
	}

	rate, clamped := requested, false
	if rate > band.MaxRateAps {
		c.log.Warnw("requested rate exceeds range maximum, clamping",
			"requested_a_s", requested, "max_a_s", band.MaxRateAps, "range", band.Index)
		rate, clamped = band.MaxRateAps, true
	}

	if err := c.cmd.Send(ctx, fmt.Sprintf("RATE %d %s", band.Index, formatValue(rate))); err != nil {
		return RateSetting{}, err
	}
	c.log.Infow("rate_set", "range", band.Index, "rate_a_s", rate, "current_a", amps)
	return RateSetting{
		Range:       band,
		RateAps:     rate,
		RateTPerMin: c.teslaPerMinute(rate),
		Clamped:     clamped,
	}, nil
}

func (c *Controller) teslaPerMinute(aps float64) float64 {
	return aps * c.coil * secondsPerMinute
}

func (c *Controller) ampsPerSecond(tPerMin float64) float64 {
	return tPerMin / (c.coil * secondsPerMinute)
}
