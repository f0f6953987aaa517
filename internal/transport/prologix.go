package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/gotmc/prologix"
	"github.com/gotmc/prologix/driver/vcp"
)

// Prologix talks GPIB through a Prologix USB controller exposed as a
// virtual COM port.
type Prologix struct {
	mu     sync.Mutex
	port   *vcp.VCP
	ctrl   *prologix.Controller
	closed bool
}

var _ Transport = (*Prologix)(nil)

// OpenPrologix opens serialPort and addresses the instrument at gpibAddr.
func OpenPrologix(serialPort string, gpibAddr int) (*Prologix, error) {
	port, err := vcp.NewVCP(serialPort)
	if err != nil {
		return nil, fmt.Errorf("open prologix port %s: %w", serialPort, err)
	}
	ctrl, err := prologix.NewController(port, gpibAddr, false)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("prologix controller at gpib %d: %w", gpibAddr, err)
	}
	return &Prologix{port: port, ctrl: ctrl}, nil
}

func (p *Prologix) Write(ctx context.Context, cmd string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ready(ctx); err != nil {
		return err
	}
	if err := p.ctrl.Command("%s", cmd); err != nil {
		return fmt.Errorf("gpib command %q: %w", cmd, err)
	}
	return nil
}

func (p *Prologix) Query(ctx context.Context, cmd string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ready(ctx); err != nil {
		return "", err
	}
	reply, err := p.ctrl.Query(cmd)
	// The controller reports io.EOF alongside a complete reply.
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("gpib query %q: %w", cmd, err)
	}
	return reply, nil
}

// Clear sends the GPIB Selected Device Clear message.
func (p *Prologix) Clear(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ready(ctx); err != nil {
		return err
	}
	return p.ctrl.ClearDevice()
}

func (p *Prologix) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.port == nil {
		return nil
	}
	return p.port.Close()
}

func (p *Prologix) ready(ctx context.Context) error {
	if p.closed {
		return ErrClosed
	}
	return ctx.Err()
}
