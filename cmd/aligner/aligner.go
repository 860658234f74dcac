package aligner

import (
	"context"
	"database/sql"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/audiolens/audiolens/internal/align"
	"github.com/audiolens/audiolens/internal/config"
	"github.com/audiolens/audiolens/internal/gateway"
	"github.com/audiolens/audiolens/internal/store"
	"github.com/audiolens/audiolens/internal/streams"
	"github.com/audiolens/audiolens/internal/worker"

	// Import postgres driver for database/sql package
	_ "github.com/lib/pq"
)

// New returns the fusion coordinator command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "aligner",
		Short: "Runs the fusion coordinator consuming analysis results",
		Run: func(cmd *cobra.Command, args []string) {
			run()
		},
	}
}

func run() {
	cfg := config.DefaultServiceConfigFromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := streams.NewRedisClient(cfg.Valkey)
	defer rdb.Close()

	db, err := sql.Open("postgres", cfg.Database.ConnectionString())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}

	client := streams.NewClient(rdb, cfg.Worker.RetryCounterTTL)
	sessions := store.New(db)
	tracker := align.NewAccumulator(rdb, cfg.Align.AccumulatorTTL)

	runner := worker.New(client, worker.Config{
		Streams:       []string{streams.TopicAlignPending},
		Group:         "align-workers",
		MaxRetries:    cfg.Worker.MaxRetries,
		ReadCount:     cfg.Worker.ReadCount,
		RecoveryCount: cfg.Worker.RecoveryCount,
		BlockTimeout:  cfg.Worker.BlockTimeout,
		ClaimIdle:     cfg.Worker.ClaimIdle,
		LoopBackoff:   cfg.Worker.LoopBackoff,
	})

	coordinator := align.NewCoordinator(tracker, sessions, runner, client, cfg.Align)

	srv := gateway.New(cfg.Echo, nil, map[string]gateway.Check{
		"valkey":   client.Ping,
		"database": sessions.Ping,
	})
	go func() {
		if err := srv.Start(); err != nil {
			log.Debug().Err(err).Msg("HTTP server stopped")
		}
	}()

	if err := runner.Run(ctx, coordinator); err != nil {
		log.Error().Err(err).Msg("Aligner runner failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown HTTP server")
	}
}
