package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tpanda03/Pulse-RadarProject/internal/api"
	"github.com/Tpanda03/Pulse-RadarProject/internal/ble"
	"github.com/Tpanda03/Pulse-RadarProject/internal/config"
	"github.com/Tpanda03/Pulse-RadarProject/internal/ingest"
	"github.com/Tpanda03/Pulse-RadarProject/internal/sim"
	"github.com/Tpanda03/Pulse-RadarProject/internal/stream"
)

var (
	serveListen     string
	serveConfigPath string
	serveMode       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingestion daemon",
	Long:  "serve starts the detection ingestion coordinator and the HTTP API.",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings := config.DefaultSettings()
		if serveConfigPath != "" {
			loaded, err := config.Load(serveConfigPath)
			if err != nil {
				return err
			}
			settings = loaded
		}

		coordinator := ingest.NewCoordinator(settings,
			ble.NewTransport(ble.NewRadio()),
			stream.NewTransport(),
			sim.NewGenerator(),
		)
		defer coordinator.Close()

		if serveMode != "" {
			mode, err := ingest.ParseMode(serveMode)
			if err != nil {
				return err
			}
			coordinator.SetMode(mode)
		}

		server := api.NewServer(coordinator)
		httpServer := &http.Server{
			Addr:    serveListen,
			Handler: api.LoggingMiddleware(server.ServeMux()),
		}

		errs := make(chan error, 1)
		go func() {
			log.Printf("Listening on %s", serveListen)
			if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errs <- err
			}
		}()

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errs:
			return err
		case sig := <-sigs:
			log.Printf("Received %s, shutting down", sig)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", ":8080", "HTTP listen address")
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to settings JSON file")
	serveCmd.Flags().StringVar(&serveMode, "mode", "", "Initial ingestion mode (ble, tcp, simulation)")
}
