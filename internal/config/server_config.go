package config

import (
	"fmt"
	"time"

	"github.com/audiolens/audiolens/internal/util"
)

// Database holds the PostgreSQL connection settings.
type Database struct {
	Host     string
	Port     int
	Username string
	Password string `json:"-"` // sensitive
	Database string
	SSLMode  string
}

// ConnectionString builds a lib/pq DSN from the settings.
func (d Database) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.Username, d.Password, d.Database, d.SSLMode)
}

// Valkey holds the Valkey/Redis connection settings.
type Valkey struct {
	Address  string
	Password string `json:"-"` // sensitive
	DB       int
}

// Worker holds the consumer-group runtime tuning knobs.
type Worker struct {
	MaxRetries      int
	ReadCount       int64
	RecoveryCount   int64
	BlockTimeout    time.Duration
	ClaimIdle       time.Duration
	RetryCounterTTL time.Duration
	LoopBackoff     time.Duration
}

// Align holds the fusion coordinator settings.
type Align struct {
	AccumulatorTTL time.Duration
	LockTTL        time.Duration
	LockAttempts   int
	LockRetryDelay time.Duration
}

// Relay holds the fan-out relay settings.
type Relay struct {
	ReadCount       int64
	BlockTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// EchoServer holds the HTTP listener settings.
type EchoServer struct {
	ListenAddress string
}

// Logger holds the zerolog settings.
type Logger struct {
	Level              string
	PrettyPrintConsole bool
}

// Server is the full service configuration, assembled from the environment.
type Server struct {
	Database Database
	Valkey   Valkey
	Worker   Worker
	Align    Align
	Relay    Relay
	Echo     EchoServer
	Logger   Logger
}

// DefaultServiceConfigFromEnv returns the server config with all values
// resolved from the environment, falling back to development defaults.
func DefaultServiceConfigFromEnv() Server {
	return Server{
		Database: Database{
			Host:     util.GetEnv("PGHOST", "localhost"),
			Port:     util.GetEnvAsInt("PGPORT", 5432),
			Username: util.GetEnv("PGUSER", "audiolens"),
			Password: util.GetEnv("PGPASSWORD", "audiolens"),
			Database: util.GetEnv("PGDATABASE", "audiolens"),
			SSLMode:  util.GetEnv("PGSSLMODE", "disable"),
		},
		Valkey: Valkey{
			Address:  util.GetEnv("VALKEY_ADDRESS", "localhost:6379"),
			Password: util.GetEnv("VALKEY_PASSWORD", ""),
			DB:       util.GetEnvAsInt("VALKEY_DB", 0),
		},
		Worker: Worker{
			MaxRetries:      util.GetEnvAsInt("WORKER_MAX_RETRIES", 3),
			ReadCount:       int64(util.GetEnvAsInt("WORKER_READ_COUNT", 1)),
			RecoveryCount:   int64(util.GetEnvAsInt("WORKER_RECOVERY_COUNT", 10)),
			BlockTimeout:    util.GetEnvAsDuration("WORKER_BLOCK_TIMEOUT", 5*time.Second),
			ClaimIdle:       util.GetEnvAsDuration("WORKER_CLAIM_IDLE", 30*time.Second),
			RetryCounterTTL: util.GetEnvAsDuration("WORKER_RETRY_COUNTER_TTL", time.Hour),
			LoopBackoff:     util.GetEnvAsDuration("WORKER_LOOP_BACKOFF", time.Second),
		},
		Align: Align{
			AccumulatorTTL: util.GetEnvAsDuration("ALIGN_ACCUMULATOR_TTL", time.Hour),
			LockTTL:        util.GetEnvAsDuration("ALIGN_LOCK_TTL", 30*time.Second),
			LockAttempts:   util.GetEnvAsInt("ALIGN_LOCK_ATTEMPTS", 5),
			LockRetryDelay: util.GetEnvAsDuration("ALIGN_LOCK_RETRY_DELAY", 200*time.Millisecond),
		},
		Relay: Relay{
			ReadCount:       int64(util.GetEnvAsInt("RELAY_READ_COUNT", 10)),
			BlockTimeout:    util.GetEnvAsDuration("RELAY_BLOCK_TIMEOUT", time.Second),
			ShutdownTimeout: util.GetEnvAsDuration("RELAY_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Echo: EchoServer{
			ListenAddress: util.GetEnv("SERVER_LISTEN_ADDRESS", ":8080"),
		},
		Logger: Logger{
			Level:              util.GetEnv("LOG_LEVEL", "info"),
			PrettyPrintConsole: util.GetEnvAsBool("LOG_PRETTY_PRINT_CONSOLE", false),
		},
	}
}
