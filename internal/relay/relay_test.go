package relay

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolens/audiolens/internal/streams"
)

func TestHandleStatusEnvelope(t *testing.T) {
	reg := NewRegistry()
	conn := &memConn{}
	reg.Connect("s1", conn)

	r := New(reg)
	err := r.Handle(context.Background(), streams.TopicSessionStatus, "1-0", map[string]string{
		"session_id": "s1",
		"status":     "analyzing",
		"error":      "",
	})

	require.NoError(t, err)
	require.Len(t, conn.sent, 1)
	assert.Equal(t, StatusMessage{
		Type:      TypeStatus,
		SessionID: "s1",
		Status:    "analyzing",
	}, conn.sent[0])
}

func TestHandleFrameEnvelope(t *testing.T) {
	reg := NewRegistry()
	conn := &memConn{}
	reg.Connect("s1", conn)

	r := New(reg)
	err := r.Handle(context.Background(), streams.TopicResults, "1-0", map[string]string{
		"session_id": "s1",
		"frame":      `{"frame_count":9}`,
		"is_final":   "true",
	})

	require.NoError(t, err)
	require.Len(t, conn.sent, 1)
	msg, ok := conn.sent[0].(FrameMessage)
	require.True(t, ok)
	assert.Equal(t, TypeFrame, msg.Type)
	assert.True(t, msg.IsFinal)
	assert.Equal(t, json.RawMessage(`{"frame_count":9}`), msg.Data)
}

func TestHandleFrameEnvelopeInvalidJSON(t *testing.T) {
	reg := NewRegistry()
	conn := &memConn{}
	reg.Connect("s1", conn)

	r := New(reg)
	err := r.Handle(context.Background(), streams.TopicResults, "1-0", map[string]string{
		"session_id": "s1",
		"frame":      `{broken`,
	})

	require.NoError(t, err)
	msg := conn.sent[0].(FrameMessage)
	assert.Equal(t, json.RawMessage("{}"), msg.Data)
	assert.False(t, msg.IsFinal)
}

func TestHandleTTSEnvelope(t *testing.T) {
	reg := NewRegistry()
	conn := &memConn{}
	reg.Connect("s1", conn)

	r := New(reg)
	err := r.Handle(context.Background(), streams.TopicTTSComplete, "1-0", map[string]string{
		"session_id":       "s1",
		"audio_key":        "tts/s1/0001.ogg",
		"voice_id":         "narrator",
		"audio_size_bytes": "20480",
	})

	require.NoError(t, err)
	assert.Equal(t, TTSMessage{
		Type:           TypeTTSComplete,
		SessionID:      "s1",
		AudioKey:       "tts/s1/0001.ogg",
		Voice:          "narrator",
		AudioSizeBytes: "20480",
	}, conn.sent[0])
}

func TestHandleUnknownStream(t *testing.T) {
	reg := NewRegistry()
	conn := &memConn{}
	reg.Connect("s1", conn)

	r := New(reg)
	fields := map[string]string{"session_id": "s1", "payload": "x"}
	err := r.Handle(context.Background(), "lens:some:future", "1-0", fields)

	require.NoError(t, err)
	assert.Equal(t, UnknownMessage{Type: TypeUnknown, Data: fields}, conn.sent[0])
}

func TestHandleMissingSessionIDAcked(t *testing.T) {
	reg := NewRegistry()
	conn := &memConn{}
	reg.Connect("s1", conn)

	r := New(reg)
	err := r.Handle(context.Background(), streams.TopicResults, "1-0", map[string]string{"frame": "{}"})

	// Malformed fan-out input is dropped, never retried.
	require.NoError(t, err)
	assert.Empty(t, conn.sent)
}

func TestHandleNoSubscribers(t *testing.T) {
	r := New(NewRegistry())
	err := r.Handle(context.Background(), streams.TopicResults, "1-0", map[string]string{
		"session_id": "s1",
		"frame":      "{}",
	})
	assert.NoError(t, err)
}
