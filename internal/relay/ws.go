package relay

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Browser clients connect from app origins; authorization happens at
	// the gateway in front of this service.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn wraps a websocket connection with a write mutex; the relay loop and
// the ping responder write concurrently.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// WriteJSON implements Conn.
func (c *wsConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

type connectedMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

type clientMessage struct {
	Type string `json:"type"`
}

type pongMessage struct {
	Type string `json:"type"`
}

// WSHandler returns the echo handler for GET /ws/audio/:session_id. It
// upgrades the connection, registers it for the session's fan-out, confirms
// with a connected message and answers ping with pong until the client goes
// away.
func WSHandler(registry *Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		sessionID := c.Param("session_id")
		if sessionID == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "missing session id")
		}

		raw, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			return err
		}

		conn := &wsConn{conn: raw}
		registry.Connect(sessionID, conn)
		defer func() {
			registry.Disconnect(sessionID, conn)
			_ = raw.Close()
		}()

		if err := conn.WriteJSON(connectedMessage{Type: TypeConnected, SessionID: sessionID}); err != nil {
			return nil
		}

		for {
			_, data, err := raw.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug().Err(err).Str("session_id", sessionID).Msg("WebSocket closed unexpectedly")
				}
				return nil
			}

			var msg clientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if msg.Type == TypePing {
				if err := conn.WriteJSON(pongMessage{Type: TypePong}); err != nil {
					return nil
				}
			}
		}
	}
}
