package sim

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"

	"controlling_magnet/internal/logger"
	"controlling_magnet/internal/transport"
)

// Server exposes an Instrument over TCP using the line protocol: one command
// per line, replies only for query commands.
type Server struct {
	inst *Instrument
	log  *logger.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

// NewServer wraps inst.
func NewServer(inst *Instrument, log *logger.Logger) *Server {
	return &Server{
		inst:  inst,
		log:   logger.OrNop(log),
		conns: make(map[net.Conn]struct{}),
	}
}

// ListenAndServe listens on addr until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	l, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

// Serve accepts connections on l until ctx is canceled or l is closed.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	s.log.Infow("sim_listening", "addr", l.Addr().String())

	go func() {
		<-ctx.Done()
		s.shutdown()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			s.log.Infow("sim_accept_failed", "err", err)
			continue
		}
		s.track(conn, true)
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// Addr is the bound address once Serve has started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer s.track(conn, false)
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		reply, ok, err := s.inst.Exec(line)
		if err != nil {
			// hardware stays silent on bad input; the client times out
			s.log.Debugw("sim_command_rejected", "line", line, "err", err)
			continue
		}
		if !ok {
			continue
		}
		if _, err := conn.Write([]byte(reply + transport.DefaultTerminator)); err != nil {
			s.log.Infow("sim_write_failed", "err", err)
			return
		}
	}
}

func (s *Server) track(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

func (s *Server) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	for c := range s.conns {
		_ = c.Close()
	}
}
