// Package transport provides the raw write/query primitives used to talk to
// the magnet power supply over its ASCII command link.
package transport

import (
	"context"
	"errors"
)

// DefaultTerminator ends every command and reply line.
const DefaultTerminator = "\n"

var (
	ErrClosed  = errors.New("transport closed")
	ErrTimeout = errors.New("transport timeout")
)

// Transport is a single instrument link. Write is fire-and-forget, Query
// writes and reads one reply line. Clear resets a stalled link.
type Transport interface {
	Write(ctx context.Context, cmd string) error
	Query(ctx context.Context, cmd string) (string, error)
	Clear(ctx context.Context) error
	Close() error
}
