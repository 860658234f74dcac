package align

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const trackerKeyPrefix = "lens:align:tracker:"

const (
	fieldMusic            = "music"
	fieldMusicReceived    = "music_received"
	fieldASRPartials      = "asr_partials"
	fieldASRFinal         = "asr_final"
	fieldASRFinalReceived = "asr_final_received"
)

// Accumulator holds the per-session partial results in a Valkey hash until
// readiness. The hash is created implicitly on the first write and carries a
// TTL refreshed on every write, so abandoned sessions age out on their own.
type Accumulator struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewAccumulator creates an accumulator store with the given entry TTL.
func NewAccumulator(rdb *redis.Client, ttl time.Duration) *Accumulator {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Accumulator{rdb: rdb, ttl: ttl}
}

func trackerKey(sessionID string) string {
	return trackerKeyPrefix + sessionID
}

// SetMusic stores the music payload and marks it received.
func (a *Accumulator) SetMusic(ctx context.Context, sessionID string, payload []byte) error {
	key := trackerKey(sessionID)
	if err := a.rdb.HSet(ctx, key, fieldMusic, string(payload), fieldMusicReceived, "1").Err(); err != nil {
		return errors.Wrap(err, "failed to store music payload")
	}
	return a.refresh(ctx, key)
}

// AppendPartial appends one streaming transcript partial to the session's
// partial log. Callers hold the per-session lock, so the read-modify-write
// on the JSON list is not racy.
func (a *Accumulator) AppendPartial(ctx context.Context, sessionID string, payload []byte) error {
	key := trackerKey(sessionID)

	var partials []json.RawMessage
	existing, err := a.rdb.HGet(ctx, key, fieldASRPartials).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return errors.Wrap(err, "failed to read partial log")
	}
	if existing != "" {
		if err := json.Unmarshal([]byte(existing), &partials); err != nil {
			return errors.Wrap(err, "failed to decode partial log")
		}
	}

	partials = append(partials, json.RawMessage(payload))
	data, err := json.Marshal(partials)
	if err != nil {
		return errors.Wrap(err, "failed to encode partial log")
	}

	if err := a.rdb.HSet(ctx, key, fieldASRPartials, string(data)).Err(); err != nil {
		return errors.Wrap(err, "failed to store partial log")
	}
	return a.refresh(ctx, key)
}

// SetTranscript stores the final transcript payload and marks it received.
func (a *Accumulator) SetTranscript(ctx context.Context, sessionID string, payload []byte) error {
	key := trackerKey(sessionID)
	if err := a.rdb.HSet(ctx, key, fieldASRFinal, string(payload), fieldASRFinalReceived, "1").Err(); err != nil {
		return errors.Wrap(err, "failed to store final transcript")
	}
	return a.refresh(ctx, key)
}

// Ready reports whether both required inputs have arrived.
func (a *Accumulator) Ready(ctx context.Context, sessionID string) (bool, error) {
	vals, err := a.rdb.HMGet(ctx, trackerKey(sessionID), fieldMusicReceived, fieldASRFinalReceived).Result()
	if err != nil {
		return false, errors.Wrap(err, "failed to read readiness flags")
	}
	return isSet(vals[0]) && isSet(vals[1]), nil
}

// Snapshot returns the accumulated music and final transcript payloads.
func (a *Accumulator) Snapshot(ctx context.Context, sessionID string) (music, transcript []byte, err error) {
	vals, err := a.rdb.HMGet(ctx, trackerKey(sessionID), fieldMusic, fieldASRFinal).Result()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to read accumulator")
	}
	if s, ok := vals[0].(string); ok {
		music = []byte(s)
	}
	if s, ok := vals[1].(string); ok {
		transcript = []byte(s)
	}
	return music, transcript, nil
}

// Delete removes the accumulator once fusion has completed.
func (a *Accumulator) Delete(ctx context.Context, sessionID string) error {
	if err := a.rdb.Del(ctx, trackerKey(sessionID)).Err(); err != nil {
		return errors.Wrap(err, "failed to delete accumulator")
	}
	return nil
}

func (a *Accumulator) refresh(ctx context.Context, key string) error {
	if err := a.rdb.Expire(ctx, key, a.ttl).Err(); err != nil {
		return errors.Wrap(err, "failed to refresh accumulator ttl")
	}
	return nil
}

func isSet(v any) bool {
	s, ok := v.(string)
	return ok && s == "1"
}
