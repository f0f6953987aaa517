package config

import (
	"errors"
	"fmt"

	"controlling_magnet/internal/logger"
)

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config cannot be nil")
	}
	if err := c.validateLog(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if err := c.validateTransport(); err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	if err := c.validateMagnet(); err != nil {
		return fmt.Errorf("magnet: %w", err)
	}
	if c.Channel.RetryEnabled && c.Channel.RetryCooldown < 0 {
		return fmt.Errorf("channel: retry cooldown must be non-negative, got %v", c.Channel.RetryCooldown)
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor: interval must be positive, got %v", c.Monitor.Interval)
	}
	return nil
}

func (c *Config) validateLog() error {
	switch c.Log.Level {
	case logger.DebugLevel, logger.InfoLevel, logger.WarnLevel, logger.ErrorLevel:
		return nil
	}
	return fmt.Errorf("unknown level %q", c.Log.Level)
}

func (c *Config) validateTransport() error {
	t := c.Transport
	switch t.Kind {
	case TransportSim:
	case TransportTCP:
		if t.Address == "" {
			return errors.New("tcp transport needs an address")
		}
	case TransportPrologix:
		if t.Address == "" {
			return errors.New("prologix transport needs a serial port")
		}
		if t.GPIBAddress < 0 || t.GPIBAddress > 30 {
			return fmt.Errorf("gpib address %d outside 0..30", t.GPIBAddress)
		}
	default:
		return fmt.Errorf("unknown kind %q", t.Kind)
	}
	if t.Terminator == "" {
		return errors.New("terminator must not be empty")
	}
	if t.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", t.Timeout)
	}
	return nil
}

func (c *Config) validateMagnet() error {
	m := c.Magnet
	if m.CoilConstant <= 0 {
		return fmt.Errorf("coil constant must be positive, got %v", m.CoilConstant)
	}
	if err := m.Ranges.Validate(); err != nil {
		return err
	}
	if m.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %v", m.PollInterval)
	}
	if m.MaxFieldT <= 0 {
		return fmt.Errorf("max field must be positive, got %v", m.MaxFieldT)
	}
	if m.RampTimeout < 0 {
		return fmt.Errorf("ramp timeout must be non-negative, got %v", m.RampTimeout)
	}
	return nil
}
