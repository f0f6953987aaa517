// Package channel wraps a raw instrument transport with a bounded retry
// policy: one cooldown, device clear and reissue per failed exchange.
package channel

import (
	"context"
	"sync"
	"time"

	"controlling_magnet/internal/clock"
	"controlling_magnet/internal/logger"
	"controlling_magnet/internal/transport"
)

// DefaultRetryCooldown is the wait before the device clear and reissue.
const DefaultRetryCooldown = 5 * time.Second

// Policy is fixed for the lifetime of a Channel.
type Policy struct {
	RetryEnabled  bool
	RetryCooldown time.Duration
}

// DefaultPolicy retries once after DefaultRetryCooldown.
func DefaultPolicy() Policy {
	return Policy{RetryEnabled: true, RetryCooldown: DefaultRetryCooldown}
}

// Option customizes a Channel.
type Option func(*Channel)

// WithLogger sets the logger used for transport failures.
func WithLogger(l *logger.Logger) Option {
	return func(c *Channel) { c.log = logger.OrNop(l) }
}

// WithClock replaces the clock used for the retry cooldown.
func WithClock(clk clock.Clock) Option {
	return func(c *Channel) { c.clock = clk }
}

// Channel serializes exchanges with one instrument. It never inspects replies.
type Channel struct {
	link   transport.Transport
	policy Policy
	clock  clock.Clock
	log    *logger.Logger

	mu sync.Mutex
}

// New builds a Channel over link.
func New(link transport.Transport, policy Policy, opts ...Option) *Channel {
	c := &Channel{
		link:   link,
		policy: policy,
		clock:  clock.Real{},
		log:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the retry policy.
func (c *Channel) Policy() Policy {
	return c.policy
}

// Send issues a command that has no reply.
func (c *Channel) Send(ctx context.Context, cmd string) error {
	_, err := c.exchange(ctx, OpSend, cmd, func(ctx context.Context) (string, error) {
		return "", c.link.Write(ctx, cmd)
	})
	return err
}

// Query issues a command and returns its reply line.
func (c *Channel) Query(ctx context.Context, cmd string) (string, error) {
	return c.exchange(ctx, OpQuery, cmd, func(ctx context.Context) (string, error) {
		return c.link.Query(ctx, cmd)
	})
}

// Close releases the underlying link.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link.Close()
}

// exchange runs attempt, and on failure performs at most one recovery:
// cooldown, device clear, reissue. The lock is held throughout so no other
// exchange interleaves with a recovery.
func (c *Channel) exchange(ctx context.Context, op, cmd string, attempt func(context.Context) (string, error)) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reply, err := attempt(ctx)
	if err == nil {
		return reply, nil
	}
	if ctx.Err() != nil || !c.policy.RetryEnabled {
		c.log.Errorw("transport_failure", "op", op, "cmd", cmd, "err", err)
		return "", &TransportError{Op: op, Command: cmd, Err: err}
	}

	c.log.Errorw("transport_failure", "op", op, "cmd", cmd, "err", err, "retry_in", c.policy.RetryCooldown)
	if err := c.clock.Sleep(ctx, c.policy.RetryCooldown); err != nil {
		return "", &TransportError{Op: op, Command: cmd, Err: err}
	}
	if err := c.link.Clear(ctx); err != nil {
		c.log.Errorw("device_clear_failed", "op", op, "cmd", cmd, "err", err)
		return "", &TransportError{Op: op, Command: cmd, Retried: true, Err: err}
	}

	reply, err = attempt(ctx)
	if err != nil {
		c.log.Errorw("transport_failure_after_retry", "op", op, "cmd", cmd, "err", err)
		return "", &TransportError{Op: op, Command: cmd, Retried: true, Err: err}
	}
	c.log.Infow("transport_recovered", "op", op, "cmd", cmd)
	return reply, nil
}
