package config_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolens/audiolens/internal/config"
)

func TestPrintServiceEnv(t *testing.T) {
	cfg := config.DefaultServiceConfigFromEnv()

	out, err := json.MarshalIndent(cfg, "", "  ")
	require.NoError(t, err)

	// Secrets never reach the serialized form.
	assert.NotContains(t, string(out), "Password")
}

func TestDefaultServiceConfigFromEnvDefaults(t *testing.T) {
	cfg := config.DefaultServiceConfigFromEnv()

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "localhost:6379", cfg.Valkey.Address)
	assert.Equal(t, 3, cfg.Worker.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Worker.ClaimIdle)
	assert.Equal(t, time.Hour, cfg.Worker.RetryCounterTTL)
	assert.Equal(t, time.Hour, cfg.Align.AccumulatorTTL)
	assert.Equal(t, int64(10), cfg.Relay.ReadCount)
	assert.Equal(t, ":8080", cfg.Echo.ListenAddress)
	assert.Equal(t, "info", cfg.Logger.Level)
}

func TestDefaultServiceConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("PGHOST", "db.internal")
	t.Setenv("PGPORT", "5433")
	t.Setenv("VALKEY_ADDRESS", "valkey.internal:6380")
	t.Setenv("WORKER_MAX_RETRIES", "5")
	t.Setenv("WORKER_BLOCK_TIMEOUT", "2s")
	t.Setenv("ALIGN_LOCK_ATTEMPTS", "1")
	t.Setenv("LOG_PRETTY_PRINT_CONSOLE", "true")

	cfg := config.DefaultServiceConfigFromEnv()

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, "valkey.internal:6380", cfg.Valkey.Address)
	assert.Equal(t, 5, cfg.Worker.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Worker.BlockTimeout)
	assert.Equal(t, 1, cfg.Align.LockAttempts)
	assert.True(t, cfg.Logger.PrettyPrintConsole)
}

func TestDatabaseConnectionString(t *testing.T) {
	d := config.Database{
		Host:     "localhost",
		Port:     5432,
		Username: "audiolens",
		Password: "secret",
		Database: "audiolens",
		SSLMode:  "disable",
	}

	assert.Equal(t,
		"host=localhost port=5432 user=audiolens password=secret dbname=audiolens sslmode=disable",
		d.ConnectionString())
}
