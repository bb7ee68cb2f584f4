package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/database"
	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/events"
	"github.com/Sage-Bionetworks/BridgeServer2-sub000/internal/metrics"
)

const dbStatsInterval = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Process activity events and export metrics",
	Long: `Run the background worker.

The worker processes pending activity events, recording the finished and
retrieved anchor events that schedules depend on, and removes processed
events after the configured retention. When metrics are enabled, a
Prometheus endpoint is served on metrics.addr.

Example:
  bridgesched serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	busCfg := eventBusConfig(cfg)
	bus := events.NewEventBus(db, busCfg)
	events.NewRecorder(events.NewActivityEventStore(db)).Register(bus)
	bus.Start(ctx, busCfg)
	defer bus.Stop()

	var srv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, metrics.Handler())

		srv = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			log.Info().Str("addr", cfg.Metrics.Addr).Str("path", cfg.Metrics.Path).Msg("Serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("Metrics server failed")
				stop()
			}
		}()

		go reportDBStats(ctx, db)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Worker running (Ctrl+C to stop)")
	<-ctx.Done()

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down metrics server: %w", err)
		}
	}

	log.Info().Msg("Worker stopped")
	return nil
}

func reportDBStats(ctx context.Context, db *database.DB) {
	ticker := time.NewTicker(dbStatsInterval)
	defer ticker.Stop()

	for {
		stats := db.Stats()
		metrics.UpdateDBStats(stats.OpenConnections, stats.InUse, stats.Idle)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
