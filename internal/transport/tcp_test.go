package transport

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lineServer answers every line ending in '?' with "<cmd> OK" and records
// the rest. Each accepted connection is counted.
func lineServer(t *testing.T) (addr string, accepted chan struct{}, writes chan string) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	accepted = make(chan struct{}, 8)
	writes = make(chan string, 16)
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			accepted <- struct{}{}
			go func(c net.Conn) {
				defer c.Close()
				r := bufio.NewReader(c)
				for {
					line, err := r.ReadString('\n')
					if err != nil {
						return
					}
					cmd := strings.TrimSpace(line)
					if strings.HasSuffix(cmd, "?") {
						_, _ = c.Write([]byte(cmd + " OK\r\n"))
						continue
					}
					writes <- cmd
				}
			}(conn)
		}
	}()
	return l.Addr().String(), accepted, writes
}

func TestTCP_WriteAndQuery(t *testing.T) {
	addr, _, writes := lineServer(t)
	ctx := context.Background()

	link, err := DialTCP(ctx, addr, TCPOptions{Timeout: time.Second})
	require.NoError(t, err)
	defer link.Close()

	require.NoError(t, link.Write(ctx, "SWEEP UP"))
	assert.Equal(t, "SWEEP UP", <-writes)

	reply, err := link.Query(ctx, "IMAG?")
	require.NoError(t, err)
	assert.Equal(t, "IMAG? OK", reply)
}

func TestTCP_ClearRedials(t *testing.T) {
	addr, accepted, _ := lineServer(t)
	ctx := context.Background()

	link, err := DialTCP(ctx, addr, TCPOptions{Timeout: time.Second})
	require.NoError(t, err)
	defer link.Close()
	<-accepted

	require.NoError(t, link.Clear(ctx))
	select {
	case <-accepted:
	case <-time.After(time.Second):
		t.Fatal("Clear did not open a new connection")
	}
	reply, err := link.Query(ctx, "UNITS?")
	require.NoError(t, err)
	assert.Equal(t, "UNITS? OK", reply)
}

func TestTCP_QueryTimeout(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	go func() {
		conn, err := l.Accept()
		if err == nil {
			defer conn.Close()
			time.Sleep(time.Second)
		}
	}()

	link, err := DialTCP(context.Background(), l.Addr().String(), TCPOptions{Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	defer link.Close()

	_, err = link.Query(context.Background(), "*STB?")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestTCP_ClosedLink(t *testing.T) {
	addr, _, _ := lineServer(t)
	link, err := DialTCP(context.Background(), addr, TCPOptions{})
	require.NoError(t, err)
	require.NoError(t, link.Close())

	assert.ErrorIs(t, link.Write(context.Background(), "REMOTE"), ErrClosed)
	assert.ErrorIs(t, link.Clear(context.Background()), ErrClosed)
}
