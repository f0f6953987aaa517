package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "controlling_magnet/docs"
	"controlling_magnet/internal/channel"
	"controlling_magnet/internal/clock"
	"controlling_magnet/internal/config"
	"controlling_magnet/internal/handlers"
	"controlling_magnet/internal/logger"
	"controlling_magnet/internal/magnet"
	"controlling_magnet/internal/repository"
	"controlling_magnet/internal/repository/db"
	"controlling_magnet/internal/server"
	"controlling_magnet/internal/service"
	"controlling_magnet/internal/transport"
	"controlling_magnet/internal/transport/sim"

	"github.com/spf13/cobra"
)

const (
	shutdownTimeout = 30 * time.Second
	connectTimeout  = 30 * time.Second
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to the supply and serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

func serve(cfg *config.Config) error {
	log := logger.Init(cfg.LoggerOptions())
	defer func() { _ = log.Sync() }()

	sqlDB, err := db.InitDB(cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("init sqlite: %w", err)
	}
	defer func() {
		if cerr := sqlDB.Close(); cerr != nil {
			log.Errorw("failed to close sqlite", "err", cerr)
		}
	}()

	link, err := openTransport(cfg, log)
	if err != nil {
		return err
	}
	ch := channel.New(link, cfg.ChannelPolicy(), channel.WithLogger(log))
	defer func() {
		if cerr := ch.Close(); cerr != nil {
			log.Errorw("failed to close transport", "err", cerr)
		}
	}()

	initCtx, cancelInit := context.WithTimeout(context.Background(), connectTimeout)
	ctrl, err := magnet.New(initCtx, ch, cfg.ControllerConfig(), magnet.WithLogger(log))
	if err != nil {
		cancelInit()
		return fmt.Errorf("initialize magnet controller: %w", err)
	}
	if idn, err := ctrl.Identify(initCtx); err == nil {
		log.Infow("magnet_supply_identified", "idn", idn)
	} else {
		log.Warnw("magnet_identify_failed", "err", err)
	}
	cancelInit()

	services := newServices(sqlDB, ctrl, cfg, log)
	apiHandler := handlers.NewHandler(services, log)

	// context for background goroutines
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go services.Poller.Run(ctx, cfg.Monitor.Interval)

	srv := &server.Server{}
	runHTTPServer(srv, cfg.Port, apiHandler, log)

	waitForShutdown(cancel, srv, services, log)
	return nil
}

func newServices(sqlDB *sql.DB, ctrl *magnet.Controller, cfg *config.Config, log *logger.Logger) *service.Service {
	repos := repository.NewRepository(sqlDB)
	return service.NewService(repos, ctrl, service.Options{
		Log:         log,
		RampTimeout: cfg.Magnet.RampTimeout,
		SigningKey:  cfg.Auth.SigningKey,
		TokenTTL:    cfg.Auth.TokenTTL,
	})
}

// openTransport builds the link named by transport.kind.
func openTransport(cfg *config.Config, log *logger.Logger) (transport.Transport, error) {
	t := cfg.Transport
	switch t.Kind {
	case config.TransportTCP:
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()
		link, err := transport.DialTCP(ctx, t.Address, transport.TCPOptions{
			Terminator: t.Terminator,
			Timeout:    t.Timeout,
		})
		if err != nil {
			return nil, err
		}
		log.Infow("transport_connected", "kind", t.Kind, "addr", t.Address)
		return link, nil
	case config.TransportPrologix:
		link, err := transport.OpenPrologix(t.Address, t.GPIBAddress)
		if err != nil {
			return nil, err
		}
		log.Infow("transport_connected", "kind", t.Kind, "port", t.Address, "gpib", t.GPIBAddress)
		return link, nil
	case config.TransportSim:
		log.Warnw("transport_simulated", "coil_constant", cfg.Magnet.CoilConstant)
		return newInstrument(cfg), nil
	}
	return nil, fmt.Errorf("unknown transport kind %q", t.Kind)
}

func newInstrument(cfg *config.Config) *sim.Instrument {
	return sim.New(sim.Config{
		CoilConstant:   cfg.Magnet.CoilConstant,
		Inductance:     cfg.Magnet.Inductance,
		LeadResistance: cfg.Magnet.LeadResistance,
	}, clock.Real{})
}

// runHTTPServer runs the HTTP server in a separate goroutine.
func runHTTPServer(srv *server.Server, port string, handler *handlers.Handler, log *logger.Logger) {
	go func() {
		if err := srv.Run(port, handler.InitRoutes()); err != nil {
			log.Fatalw("error starting server", "err", err)
		}
	}()
	log.Infow("http_listening", "port", port)
}

// waitForShutdown blocks until SIGINT/SIGTERM, then stops the poller,
// drains HTTP requests and pauses any supervised ramp.
func waitForShutdown(cancel context.CancelFunc, srv *server.Server, services *service.Service, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down server...")

	// stop background goroutines
	cancel()

	ctx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("server forced to shutdown", "err", err)
	}
	services.Magnet.Close()
}
