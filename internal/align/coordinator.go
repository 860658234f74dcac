package align

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/audiolens/audiolens/internal/config"
	"github.com/audiolens/audiolens/internal/session"
	"github.com/audiolens/audiolens/internal/streams"
)

// Message sources accepted on the fusion input stream.
const (
	SourceMusic    = "music"
	SourceASR      = "asr"
	SourceASRFinal = "asr_final"
)

// Tracker is the accumulator contract the coordinator drives.
type Tracker interface {
	SetMusic(ctx context.Context, sessionID string, payload []byte) error
	AppendPartial(ctx context.Context, sessionID string, payload []byte) error
	SetTranscript(ctx context.Context, sessionID string, payload []byte) error
	Ready(ctx context.Context, sessionID string) (bool, error)
	Snapshot(ctx context.Context, sessionID string) (music, transcript []byte, err error)
	Delete(ctx context.Context, sessionID string) error
}

// SessionStore is the relational subset the coordinator touches.
type SessionStore interface {
	GetDuration(ctx context.Context, sessionID string) (float64, error)
	ReplaceFrames(ctx context.Context, sessionID string, frames []PerceptionFrame) error
	Complete(ctx context.Context, sessionID string, duration float64) error
}

// Publisher appends to result/status streams; satisfied by *worker.Runner.
type Publisher interface {
	Publish(ctx context.Context, stream string, fields map[string]any) (string, error)
	EmitStatus(ctx context.Context, sessionID string, status session.Status, errMsg string) error
}

// Locker provides the per-session critical section; satisfied by
// *streams.Client.
type Locker interface {
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name string) error
}

// Coordinator accumulates partial analysis results per session and runs the
// alignment algorithm once both music and final ASR have arrived. Fusion is
// idempotent (frames are replaced wholesale), so a refire after a crash or a
// lost lock converges to the same artifact.
type Coordinator struct {
	tracker Tracker
	store   SessionStore
	pub     Publisher
	locker  Locker
	cfg     config.Align
}

// NewCoordinator wires the fusion handler.
func NewCoordinator(tracker Tracker, store SessionStore, pub Publisher, locker Locker, cfg config.Align) *Coordinator {
	return &Coordinator{
		tracker: tracker,
		store:   store,
		pub:     pub,
		locker:  locker,
		cfg:     cfg,
	}
}

// Handle implements worker.Handler for the fusion input stream. Message
// fields: session_id, source (music|asr|asr_final), payload (JSON).
func (c *Coordinator) Handle(ctx context.Context, _ string, id string, fields map[string]string) error {
	sessionID := fields["session_id"]
	if sessionID == "" {
		return errors.Errorf("message %s has no session_id", id)
	}
	source := fields["source"]
	payload := []byte(fields["payload"])
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	// Accumulator update and readiness check form one critical section per
	// session; two racing arrivals must not both observe readiness.
	if err := c.lockSession(ctx, sessionID); err != nil {
		return err
	}
	defer func() {
		if err := c.locker.ReleaseLock(ctx, lockName(sessionID)); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to release session lock")
		}
	}()

	switch source {
	case SourceMusic:
		if err := c.tracker.SetMusic(ctx, sessionID, payload); err != nil {
			return err
		}
		log.Info().Str("session_id", sessionID).Msg("Received music analysis")
	case SourceASR:
		if err := c.tracker.AppendPartial(ctx, sessionID, payload); err != nil {
			return err
		}
	case SourceASRFinal:
		if err := c.tracker.SetTranscript(ctx, sessionID, payload); err != nil {
			return err
		}
		log.Info().Str("session_id", sessionID).Msg("Received final transcript")
	default:
		log.Warn().Str("session_id", sessionID).Str("source", source).Msg("Unknown fusion source, dropping")
		return nil
	}

	ready, err := c.tracker.Ready(ctx, sessionID)
	if err != nil {
		return err
	}
	if !ready {
		return nil
	}

	return c.fuse(ctx, sessionID)
}

func lockName(sessionID string) string {
	return "align:" + sessionID
}

// lockSession takes the per-session lock with bounded retries. Persistent
// contention surfaces as a handler error so the runtime redelivers.
func (c *Coordinator) lockSession(ctx context.Context, sessionID string) error {
	attempts := c.cfg.LockAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		ok, err := c.locker.AcquireLock(ctx, lockName(sessionID), c.cfg.LockTTL)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-time.After(c.cfg.LockRetryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return errors.Errorf("session %s is locked by another consumer", sessionID)
}

// fuse builds and persists the aligned timeline, publishes the result
// summary and completion status, and drops the accumulator.
func (c *Coordinator) fuse(ctx context.Context, sessionID string) error {
	musicRaw, transcriptRaw, err := c.tracker.Snapshot(ctx, sessionID)
	if err != nil {
		return err
	}

	var music MusicPayload
	if len(musicRaw) > 0 {
		if err := json.Unmarshal(musicRaw, &music); err != nil {
			return errors.Wrap(err, "failed to decode music payload")
		}
	}

	var transcript []TranscriptSegment
	if len(transcriptRaw) > 0 {
		if err := json.Unmarshal(transcriptRaw, &transcript); err != nil {
			return errors.Wrap(err, "failed to decode transcript payload")
		}
	}

	duration, err := c.store.GetDuration(ctx, sessionID)
	if err != nil {
		return err
	}
	if duration <= 0 && len(music.Features) > 0 {
		duration = music.Features[len(music.Features)-1].T + FrameResolution
	}
	if duration <= 0 {
		// Not silently completed: the session stays inspectable in its
		// current state.
		log.Warn().Str("session_id", sessionID).Msg("No duration available, skipping frame build")
		return nil
	}

	frames := BuildFrames(sessionID, duration, music, transcript)

	log.Info().
		Str("session_id", sessionID).
		Int("frames", len(frames)).
		Float64("duration_sec", duration).
		Msg("Built perception frames")

	if err := c.store.ReplaceFrames(ctx, sessionID, frames); err != nil {
		return err
	}
	if err := c.store.Complete(ctx, sessionID, duration); err != nil {
		return err
	}

	summary, err := json.Marshal(map[string]int{"frame_count": len(frames)})
	if err != nil {
		return errors.Wrap(err, "failed to encode frame summary")
	}
	if _, err := c.pub.Publish(ctx, streams.TopicResults, map[string]any{
		"session_id": sessionID,
		"frame":      string(summary),
		"is_final":   "true",
	}); err != nil {
		return err
	}

	if err := c.pub.EmitStatus(ctx, sessionID, session.StatusCompleted, ""); err != nil {
		return err
	}

	if err := c.tracker.Delete(ctx, sessionID); err != nil {
		return err
	}

	log.Info().Str("session_id", sessionID).Msg("Session completed")
	return nil
}
