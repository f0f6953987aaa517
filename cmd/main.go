package main

import (
	"os"

	"github.com/spf13/cobra"
)

// @title                      Magnet power supply API
// @version                    1.0
// @description                Ramp control and monitoring for a superconducting magnet supply.
// @BasePath                   /
// @securityDefinitions.apikey BearerAuth
// @in                         header
// @name                       Authorization

var cfgFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "magnetd",
		Short: "Control a superconducting magnet power supply",
		Long: `magnetd drives a 4G-style magnet power supply over GPIB (Prologix) or TCP,
exposes ramp control over HTTP and records every ramp in a local event log.

Examples:
  magnetd serve --config configs/config.yml
  magnetd sim --addr :4444`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is configs/config.yml)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newSimCmd())
	return root
}
