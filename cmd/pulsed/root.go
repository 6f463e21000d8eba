package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Tpanda03/Pulse-RadarProject/internal/version"
)

var rootCmd = &cobra.Command{
	Use:     "pulsed",
	Short:   "Pulse radar ingestion daemon",
	Long:    "pulsed ingests radar detections over BLE or TCP, maintains the detection ledger, and serves it over HTTP.",
	Version: version.String(),
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
