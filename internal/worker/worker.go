package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/audiolens/audiolens/internal/session"
	"github.com/audiolens/audiolens/internal/streams"
)

// Handler processes one delivered message. Returning an error leaves the
// message unacknowledged so the runtime's retry accounting applies. The
// stream name is passed because a runner may consume several streams under
// one group.
type Handler interface {
	Handle(ctx context.Context, stream, id string, fields map[string]string) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, stream, id string, fields map[string]string) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, stream, id string, fields map[string]string) error {
	return f(ctx, stream, id, fields)
}

// Broker is the narrow log-service contract the runtime depends on,
// implemented by streams.Client over Valkey and by fakes in tests.
type Broker interface {
	Publish(ctx context.Context, stream string, fields map[string]any) (string, error)
	EnsureGroup(ctx context.Context, stream, group string) error
	ReadGroup(ctx context.Context, streamNames []string, group, consumer string, pending bool, count int64, block time.Duration) ([]streams.Batch, error)
	Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]streams.Message, error)
	Ack(ctx context.Context, stream, group, id string) error
	AttemptCount(ctx context.Context, stream, id string) (int, error)
	SetAttemptCount(ctx context.Context, stream, id string, count int) error
	ClearAttempts(ctx context.Context, stream, id string) error
}

// State is the runner lifecycle, exposed for readiness probes.
type State int32

const (
	StateIdle State = iota
	StateGroupEnsured
	StateRecovering
	StateLiveConsuming
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateGroupEnsured:
		return "group_ensured"
	case StateRecovering:
		return "recovering"
	case StateLiveConsuming:
		return "live_consuming"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config tunes one runner instance.
type Config struct {
	Streams       []string
	Group         string
	MaxRetries    int
	ReadCount     int64
	RecoveryCount int64
	BlockTimeout  time.Duration
	ClaimIdle     time.Duration
	LoopBackoff   time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.ReadCount <= 0 {
		c.ReadCount = 1
	}
	if c.RecoveryCount <= 0 {
		c.RecoveryCount = 10
	}
	if c.BlockTimeout <= 0 {
		c.BlockTimeout = 5 * time.Second
	}
	if c.ClaimIdle <= 0 {
		c.ClaimIdle = 30 * time.Second
	}
	if c.LoopBackoff <= 0 {
		c.LoopBackoff = time.Second
	}
}

// Runner is a generic at-least-once consumer-group loop over one or more
// streams. Every pipeline stage embeds a Runner and supplies only a Handler.
type Runner struct {
	broker   Broker
	cfg      Config
	consumer string
	state    atomic.Int32
}

// New creates a runner with a process-unique consumer identity.
func New(broker Broker, cfg Config) *Runner {
	cfg.applyDefaults()
	return &Runner{
		broker:   broker,
		cfg:      cfg,
		consumer: fmt.Sprintf("%s-%s", cfg.Group, uuid.NewString()[:8]),
	}
}

// Consumer returns the consumer identity used within the group.
func (r *Runner) Consumer() string {
	return r.consumer
}

// State returns the current lifecycle state.
func (r *Runner) State() State {
	return State(r.state.Load())
}

func (r *Runner) setState(s State) {
	r.state.Store(int32(s))
}

// Publish appends a message to an arbitrary stream.
func (r *Runner) Publish(ctx context.Context, stream string, fields map[string]any) (string, error) {
	return r.broker.Publish(ctx, stream, fields)
}

// EmitStatus publishes a session lifecycle transition to the status stream.
func (r *Runner) EmitStatus(ctx context.Context, sessionID string, status session.Status, errMsg string) error {
	_, err := r.broker.Publish(ctx, streams.TopicSessionStatus, map[string]any{
		"session_id": sessionID,
		"status":     string(status),
		"error":      errMsg,
	})
	return errors.Wrap(err, "failed to emit status")
}

// Run blocks until ctx is cancelled. It ensures the consumer group on every
// configured stream, recovers pending deliveries, then consumes new messages,
// dispatching each through the retry-aware handler wrapper.
func (r *Runner) Run(ctx context.Context, handler Handler) error {
	for _, stream := range r.cfg.Streams {
		if err := r.broker.EnsureGroup(ctx, stream, r.cfg.Group); err != nil {
			return errors.Wrapf(err, "failed to ensure group on %s", stream)
		}
	}
	r.setState(StateGroupEnsured)

	log.Info().
		Str("consumer", r.consumer).
		Str("group", r.cfg.Group).
		Strs("streams", r.cfg.Streams).
		Msg("Worker started")

	r.setState(StateRecovering)
	if err := r.recover(ctx, handler); err != nil {
		if ctx.Err() != nil {
			r.drain()
			return nil
		}
		log.Error().Err(err).Msg("Recovery pass failed, continuing with live consumption")
	}

	r.setState(StateLiveConsuming)
	r.live(ctx, handler)

	r.drain()
	return nil
}

func (r *Runner) drain() {
	r.setState(StateDraining)
	log.Info().Str("consumer", r.consumer).Msg("Worker draining")
	r.setState(StateStopped)
	log.Info().Str("consumer", r.consumer).Msg("Worker stopped")
}

// recover claims messages stranded on dead consumer identities of the group,
// then drains this consumer's own pending entries. Everything recovered goes
// through the normal retry-aware dispatch.
func (r *Runner) recover(ctx context.Context, handler Handler) error {
	for _, stream := range r.cfg.Streams {
		for {
			claimed, err := r.broker.Claim(ctx, stream, r.cfg.Group, r.consumer, r.cfg.ClaimIdle, r.cfg.RecoveryCount)
			if err != nil {
				return err
			}
			if len(claimed) == 0 {
				break
			}
			log.Info().
				Str("stream", stream).
				Int("count", len(claimed)).
				Msg("Claimed stranded messages from dead consumers")
			for _, msg := range claimed {
				r.dispatch(ctx, handler, stream, msg)
			}
		}
	}

	for {
		batches, err := r.broker.ReadGroup(ctx, r.cfg.Streams, r.cfg.Group, r.consumer, true, r.cfg.RecoveryCount, 0)
		if err != nil {
			return err
		}
		total := 0
		for _, batch := range batches {
			for _, msg := range batch.Messages {
				// Entries acknowledged but not yet trimmed come back empty.
				if len(msg.Fields) == 0 {
					continue
				}
				total++
				r.dispatch(ctx, handler, batch.Stream, msg)
			}
		}
		if total == 0 {
			return nil
		}
	}
}

// live consumes new messages until ctx is cancelled. Infrastructure errors
// back off and retry; they are never fatal to the process.
func (r *Runner) live(ctx context.Context, handler Handler) {
	for ctx.Err() == nil {
		batches, err := r.broker.ReadGroup(ctx, r.cfg.Streams, r.cfg.Group, r.consumer, false, r.cfg.ReadCount, r.cfg.BlockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("Consumer loop read failed, backing off")
			select {
			case <-time.After(r.cfg.LoopBackoff):
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, batch := range batches {
			for _, msg := range batch.Messages {
				r.dispatch(ctx, handler, batch.Stream, msg)
			}
		}
	}
}

// dispatch runs the handler for one message and applies the retry/DLQ
// algorithm around it. Handler failures are local to the message; they never
// stop the loop.
func (r *Runner) dispatch(ctx context.Context, handler Handler, stream string, msg streams.Message) {
	attempts, err := r.broker.AttemptCount(ctx, stream, msg.ID)
	if err != nil {
		// Counter store unavailable is transient; treat as first attempt.
		log.Warn().Err(err).Str("id", msg.ID).Msg("Failed to read attempt count, assuming zero")
		attempts = 0
	}

	start := time.Now()
	handlerErr := r.invoke(ctx, handler, stream, msg)
	observeHandle(stream, r.cfg.Group, time.Since(start), handlerErr == nil)

	if handlerErr == nil {
		if err := r.broker.Ack(ctx, stream, r.cfg.Group, msg.ID); err != nil {
			log.Error().Err(err).Str("id", msg.ID).Msg("Failed to ack message")
			return
		}
		if err := r.broker.ClearAttempts(ctx, stream, msg.ID); err != nil {
			log.Warn().Err(err).Str("id", msg.ID).Msg("Failed to clear attempt count")
		}
		return
	}

	attempts++
	log.Error().
		Err(handlerErr).
		Str("stream", stream).
		Str("id", msg.ID).
		Int("attempt", attempts).
		Int("max_retries", r.cfg.MaxRetries).
		Msg("Handler failed")

	if attempts < r.cfg.MaxRetries {
		if err := r.broker.SetAttemptCount(ctx, stream, msg.ID, attempts); err != nil {
			log.Warn().Err(err).Str("id", msg.ID).Msg("Failed to store attempt count")
		}
		// Leave unacknowledged; a recovery pass will redeliver.
		return
	}

	r.deadLetter(ctx, stream, msg, attempts, handlerErr)
}

// invoke calls the handler, converting panics into errors so a broken
// payload cannot take the consumer loop down.
func (r *Runner) invoke(ctx context.Context, handler Handler, stream string, msg streams.Message) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Errorf("handler panic: %v", rec)
		}
	}()
	return handler.Handle(ctx, stream, msg.ID, msg.Fields)
}

// deadLetter moves an exhausted message to <stream>:dlq, acknowledges the
// original so it is not redelivered, and surfaces the failure on the
// session's status channel.
func (r *Runner) deadLetter(ctx context.Context, stream string, msg streams.Message, attempts int, cause error) {
	fields := make(map[string]any, len(msg.Fields)+2)
	for k, v := range msg.Fields {
		fields[k] = v
	}
	fields["original_id"] = msg.ID
	fields["attempts"] = fmt.Sprintf("%d", attempts)

	if _, err := r.broker.Publish(ctx, streams.DLQTopic(stream), fields); err != nil {
		log.Error().Err(err).Str("id", msg.ID).Msg("Failed to publish dead letter, leaving message pending")
		return
	}
	if err := r.broker.Ack(ctx, stream, r.cfg.Group, msg.ID); err != nil {
		log.Error().Err(err).Str("id", msg.ID).Msg("Failed to ack dead-lettered message")
	}
	if err := r.broker.ClearAttempts(ctx, stream, msg.ID); err != nil {
		log.Warn().Err(err).Str("id", msg.ID).Msg("Failed to clear attempt count")
	}
	observeDeadLetter(stream, r.cfg.Group)

	sessionID := msg.Fields["session_id"]
	if sessionID == "" {
		sessionID = "unknown"
	}
	errMsg := fmt.Sprintf("exceeded %d retries: %v", r.cfg.MaxRetries, cause)
	if err := r.EmitStatus(ctx, sessionID, session.StatusFailed, errMsg); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to emit failed status")
	}

	log.Warn().
		Str("stream", stream).
		Str("id", msg.ID).
		Str("session_id", sessionID).
		Int("attempts", attempts).
		Msg("Message moved to dead-letter stream")
}
