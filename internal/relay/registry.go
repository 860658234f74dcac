package relay

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Conn is one live subscriber connection. gorilla/websocket connections
// satisfy it through the wsConn wrapper.
type Conn interface {
	WriteJSON(v any) error
}

// Registry maps session ids to the live connections of this relay instance.
// It is explicit process-local state: a horizontally scaled relay owns a
// disjoint slice of connections and consumes the shared streams under its
// own consumer identity.
type Registry struct {
	mu          sync.Mutex
	connections map[string]map[Conn]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{connections: make(map[string]map[Conn]struct{})}
}

// Connect registers a live connection for the session.
func (r *Registry) Connect(sessionID string, c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.connections[sessionID]
	if !ok {
		set = make(map[Conn]struct{})
		r.connections[sessionID] = set
	}
	set[c] = struct{}{}

	log.Info().Str("session_id", sessionID).Int("total", len(set)).Msg("Subscriber connected")
}

// Disconnect removes a connection, dropping the session entry when it was
// the last one.
func (r *Registry) Disconnect(sessionID string, c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.connections[sessionID]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(r.connections, sessionID)
	}

	log.Info().Str("session_id", sessionID).Msg("Subscriber disconnected")
}

// Count returns the number of live connections for the session.
func (r *Registry) Count(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connections[sessionID])
}

// Broadcast delivers msg to every connection of the session; connections
// whose send fails are pruned and not retried. It returns the number of
// successful deliveries. No subscriber is not an error.
func (r *Registry) Broadcast(sessionID string, msg any) int {
	r.mu.Lock()
	conns := make([]Conn, 0, len(r.connections[sessionID]))
	for c := range r.connections[sessionID] {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	delivered := 0
	var dead []Conn
	for _, c := range conns {
		if err := c.WriteJSON(msg); err != nil {
			dead = append(dead, c)
			continue
		}
		delivered++
	}

	for _, c := range dead {
		r.Disconnect(sessionID, c)
	}

	return delivered
}
