package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"
)

const defaultIOTimeout = 3 * time.Second

// TCPOptions configures a TCP link (Ethernet-attached supplies or serial servers).
type TCPOptions struct {
	Terminator string
	Timeout    time.Duration
}

// TCP speaks the line protocol over a TCP connection.
type TCP struct {
	addr       string
	terminator string
	timeout    time.Duration
	dialer     net.Dialer

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	closed bool
}

var _ Transport = (*TCP)(nil)

// DialTCP connects to addr.
func DialTCP(ctx context.Context, addr string, opts TCPOptions) (*TCP, error) {
	t := &TCP{
		addr:       addr,
		terminator: opts.Terminator,
		timeout:    opts.Timeout,
	}
	if t.terminator == "" {
		t.terminator = DefaultTerminator
	}
	if t.timeout <= 0 {
		t.timeout = defaultIOTimeout
	}
	t.dialer.Timeout = t.timeout

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.dialLocked(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *TCP) dialLocked(ctx context.Context) error {
	conn, err := t.dialer.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.addr, err)
	}
	t.conn = conn
	t.reader = bufio.NewReader(conn)
	return nil
}

// deadline picks the earlier of the context deadline and the I/O timeout.
func (t *TCP) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(t.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		return ctxDeadline
	}
	return d
}

func (t *TCP) Write(ctx context.Context, cmd string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writeLocked(ctx, cmd)
}

func (t *TCP) writeLocked(ctx context.Context, cmd string) error {
	if t.closed || t.conn == nil {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_ = t.conn.SetWriteDeadline(t.deadline(ctx))
	if _, err := t.conn.Write([]byte(cmd + t.terminator)); err != nil {
		return wrapIOErr("write", cmd, err)
	}
	return nil
}

func (t *TCP) Query(ctx context.Context, cmd string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.writeLocked(ctx, cmd); err != nil {
		return "", err
	}
	_ = t.conn.SetReadDeadline(t.deadline(ctx))
	delim := t.terminator[len(t.terminator)-1]
	line, err := t.reader.ReadString(delim)
	if err != nil {
		return "", wrapIOErr("read reply to", cmd, err)
	}
	return strings.TrimRight(line, "\r\n"+t.terminator), nil
}

// Clear drops any unread reply bytes and reconnects, which is the closest
// TCP equivalent of a GPIB selected device clear.
func (t *TCP) Clear(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if t.conn != nil {
		_ = t.conn.Close()
	}
	return t.dialLocked(ctx)
}

func (t *TCP) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}

func wrapIOErr(op, cmd string, err error) error {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%s %q: %w", op, cmd, ErrTimeout)
	}
	return fmt.Errorf("%s %q: %w", op, cmd, err)
}
