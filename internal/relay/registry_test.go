package relay

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memConn records delivered payloads and can be switched to fail.
type memConn struct {
	sent []any
	fail bool
}

func (c *memConn) WriteJSON(v any) error {
	if c.fail {
		return errors.New("connection reset")
	}
	c.sent = append(c.sent, v)
	return nil
}

func TestRegistryBroadcastReachesAllSubscribers(t *testing.T) {
	reg := NewRegistry()
	a := &memConn{}
	b := &memConn{}
	reg.Connect("s1", a)
	reg.Connect("s1", b)

	delivered := reg.Broadcast("s1", "frame-1")

	assert.Equal(t, 2, delivered)
	assert.Equal(t, []any{"frame-1"}, a.sent)
	assert.Equal(t, []any{"frame-1"}, b.sent)
}

func TestRegistryBroadcastIsSessionScoped(t *testing.T) {
	reg := NewRegistry()
	mine := &memConn{}
	other := &memConn{}
	reg.Connect("s1", mine)
	reg.Connect("s2", other)

	reg.Broadcast("s1", "frame-1")

	assert.Len(t, mine.sent, 1)
	assert.Empty(t, other.sent)
}

func TestRegistryBroadcastPrunesDeadConnections(t *testing.T) {
	reg := NewRegistry()
	live := &memConn{}
	dead := &memConn{fail: true}
	reg.Connect("s1", live)
	reg.Connect("s1", dead)

	delivered := reg.Broadcast("s1", "frame-1")
	require.Equal(t, 1, delivered)
	assert.Equal(t, 1, reg.Count("s1"))

	// The pruned connection is not retried on the next broadcast.
	dead.fail = false
	reg.Broadcast("s1", "frame-2")
	assert.Empty(t, dead.sent)
	assert.Equal(t, []any{"frame-1", "frame-2"}, live.sent)
}

func TestRegistryBroadcastWithoutSubscribers(t *testing.T) {
	reg := NewRegistry()
	assert.Equal(t, 0, reg.Broadcast("s1", "frame-1"))
}

func TestRegistryDisconnectLastRemovesSession(t *testing.T) {
	reg := NewRegistry()
	c := &memConn{}
	reg.Connect("s1", c)
	require.Equal(t, 1, reg.Count("s1"))

	reg.Disconnect("s1", c)
	assert.Equal(t, 0, reg.Count("s1"))

	reg.Disconnect("s1", c) // unknown session is a no-op
}
