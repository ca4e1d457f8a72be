package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/IrisStreamer/internal/api"
	"github.com/bryanchriswhite/IrisStreamer/internal/calculators"
	"github.com/bryanchriswhite/IrisStreamer/internal/logger"
	"github.com/bryanchriswhite/IrisStreamer/internal/pipeline"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the IrisStreamer server",
	Long: `Start the frame graph together with the HTTP server.

The server provides the annotated MJPEG stream, live per-eye depth over
websocket and a REST API for status, graph and configuration.`,
	Example: `  # Start server on default port (8080)
  irisstreamer serve

  # Start server on custom port
  irisstreamer serve --port 9090

  # Start with specific config file
  irisstreamer serve --config /path/to/config.yaml

  # Start with debug logging
  irisstreamer serve --log-level debug --pretty`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.WithComponent("serve")
	log.Info().Str("path", configMgr.GetConfigPath()).Str("log_level", cfg.LogLevel).Msg("Configuration loaded")

	pipe, err := pipeline.New(cfg, calculators.Default())
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	if err := pipe.Start(); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := api.NewServer(configMgr, pipe)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(cfg.ServerPort)
	}()

	runDone := make(chan error, 1)
	go func() {
		runDone <- pipe.Run(ctx)
	}()

	log.Info().
		Str("view", fmt.Sprintf("http://localhost:%d/view", cfg.ServerPort)).
		Str("api", fmt.Sprintf("http://localhost:%d/api", cfg.ServerPort)).
		Msg("IrisStreamer is running, press Ctrl+C to stop")

	var result error
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		result = fmt.Errorf("server error: %w", err)
	case err := <-runDone:
		runDone = nil
		if err != nil {
			result = fmt.Errorf("pipeline error: %w", err)
			break
		}
		// Exhausted source: keep serving the final state.
		log.Info().Msg("Frame source finished, server stays up until interrupted")
		select {
		case <-ctx.Done():
		case err := <-serverErr:
			result = fmt.Errorf("server error: %w", err)
		}
	}

	log.Info().Msg("Shutting down gracefully")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown failed")
	}
	if err := pipe.Stop(); err != nil {
		log.Warn().Err(err).Msg("Pipeline stop failed")
	}
	if runDone != nil {
		<-runDone
	}
	return result
}
