package relay

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/audiolens/audiolens/internal/streams"
)

// Envelope types pushed to live subscribers.
const (
	TypeConnected   = "connected"
	TypeStatus      = "status"
	TypeFrame       = "frame"
	TypeTTSComplete = "tts_complete"
	TypeUnknown     = "unknown"
	TypePing        = "ping"
	TypePong        = "pong"
)

// StatusMessage mirrors a session status transition.
type StatusMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Error     string `json:"error"`
}

// FrameMessage carries a perception frame payload.
type FrameMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	IsFinal   bool            `json:"is_final"`
	Data      json.RawMessage `json:"data"`
}

// TTSMessage announces a finished synthesis artifact.
type TTSMessage struct {
	Type           string `json:"type"`
	SessionID      string `json:"session_id"`
	AudioKey       string `json:"audio_key"`
	Voice          string `json:"voice"`
	AudioSizeBytes string `json:"audio_size_bytes"`
}

// UnknownMessage wraps a message from an unrecognized source stream.
type UnknownMessage struct {
	Type string            `json:"type"`
	Data map[string]string `json:"data"`
}

// Relay fans result, status and TTS messages out to the session's live
// subscribers. Delivery is best-effort: every message is acknowledged after
// dispatch regardless of how many subscribers received it.
type Relay struct {
	registry *Registry
}

// New creates the relay handler over the given connection registry.
func New(registry *Registry) *Relay {
	return &Relay{registry: registry}
}

// Handle implements worker.Handler for the relay's stream set.
func (r *Relay) Handle(_ context.Context, stream, id string, fields map[string]string) error {
	sessionID := fields["session_id"]
	if sessionID == "" {
		log.Debug().Str("stream", stream).Str("id", id).Msg("Message without session_id, skipping")
		return nil
	}

	delivered := r.registry.Broadcast(sessionID, r.envelope(stream, fields))
	log.Debug().
		Str("stream", stream).
		Str("session_id", sessionID).
		Int("delivered", delivered).
		Msg("Fanned out message")

	return nil
}

// envelope builds the typed outbound payload for one delivered message.
func (r *Relay) envelope(stream string, fields map[string]string) any {
	sessionID := fields["session_id"]

	switch stream {
	case streams.TopicSessionStatus:
		return StatusMessage{
			Type:      TypeStatus,
			SessionID: sessionID,
			Status:    fields["status"],
			Error:     fields["error"],
		}
	case streams.TopicResults:
		data := json.RawMessage(fields["frame"])
		if !json.Valid(data) {
			data = json.RawMessage("{}")
		}
		return FrameMessage{
			Type:      TypeFrame,
			SessionID: sessionID,
			IsFinal:   fields["is_final"] == "true",
			Data:      data,
		}
	case streams.TopicTTSComplete:
		return TTSMessage{
			Type:           TypeTTSComplete,
			SessionID:      sessionID,
			AudioKey:       fields["audio_key"],
			Voice:          fields["voice_id"],
			AudioSizeBytes: fields["audio_size_bytes"],
		}
	default:
		return UnknownMessage{Type: TypeUnknown, Data: fields}
	}
}
