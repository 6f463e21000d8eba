package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Tpanda03/Pulse-RadarProject/internal/version"
)

var rootCmd = &cobra.Command{
	Use:     "sensor-bridge",
	Short:   "RD-03D serial-to-TCP bridge",
	Long:    "sensor-bridge reads native RD-03D radar frames from a serial port and serves them as newline-delimited JSON detections over TCP.",
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
	rootCmd.AddCommand(runCmd)
}
