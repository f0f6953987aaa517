package main

import (
	"context"
	"os/signal"
	"syscall"

	"controlling_magnet/internal/config"
	"controlling_magnet/internal/logger"
	"controlling_magnet/internal/transport/sim"

	"github.com/spf13/cobra"
)

func newSimCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Serve a simulated supply over TCP for bench testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			log := logger.Init(cfg.LoggerOptions())
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := sim.NewServer(newInstrument(cfg), log)
			return srv.ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":4444", "listen address")
	return cmd
}
