package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/quantrun/oppscan/internal/config"
	httpapi "github.com/quantrun/oppscan/internal/interfaces/http"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scan orchestrator HTTP API",
	Long: `Start the HTTP server exposing scan creation, status/results polling,
and the diagnostics surface. Scan state lives in Redis when REDIS_ADDR or
store.redis_addr is set, otherwise in process memory.

Examples:
  oppscan serve
  oppscan serve --config config/oppscan.yaml
  REDIS_ADDR=localhost:6379 oppscan serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setLogLevel(cfg.LogLevel)

	c := buildCore(cfg)
	if err := c.recorder.StartRollover(); err != nil {
		return fmt.Errorf("failed to schedule metrics rollover: %w", err)
	}

	handlers := httpapi.NewHandlers(c.coord, c.store, c.recorder, c.adapter, c.storeTag)
	server := httpapi.NewServer(cfg.Server, handlers, c.promReg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(server.Start)

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown failed")
		}
		c.coord.Wait()
		c.recorder.Stop(shutdownCtx)
		return nil
	})

	log.Info().
		Str("version", version).
		Str("store", c.storeTag).
		Int("strategies", c.registry.Len()).
		Msg("Scan orchestrator ready")

	return g.Wait()
}
