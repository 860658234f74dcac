package relay

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/audiolens/audiolens/internal/config"
	"github.com/audiolens/audiolens/internal/gateway"
	"github.com/audiolens/audiolens/internal/relay"
	"github.com/audiolens/audiolens/internal/streams"
	"github.com/audiolens/audiolens/internal/worker"
)

// New returns the fan-out relay command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Runs the fan-out relay pushing results to live subscribers",
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

	client := streams.NewClient(rdb, cfg.Worker.RetryCounterTTL)
	registry := relay.NewRegistry()
	handler := relay.New(registry)

	runner := worker.New(client, worker.Config{
		Streams: []string{
			streams.TopicResults,
			streams.TopicSessionStatus,
			streams.TopicTTSComplete,
		},
		Group:         "relay-gateways",
		MaxRetries:    cfg.Worker.MaxRetries,
		ReadCount:     cfg.Relay.ReadCount,
		RecoveryCount: cfg.Worker.RecoveryCount,
		BlockTimeout:  cfg.Relay.BlockTimeout,
		ClaimIdle:     cfg.Worker.ClaimIdle,
		LoopBackoff:   cfg.Worker.LoopBackoff,
	})

	srv := gateway.New(cfg.Echo, relay.WSHandler(registry), map[string]gateway.Check{
		"valkey": client.Ping,
	})
	go func() {
		if err := srv.Start(); err != nil {
			log.Debug().Err(err).Msg("HTTP server stopped")
		}
	}()

	if err := runner.Run(ctx, handler); err != nil {
		log.Error().Err(err).Msg("Relay runner failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Relay.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown HTTP server")
	}
}
