package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SnapshotFunc returns the current state of an arena for a reconnecting client.
type SnapshotFunc func(ctx context.Context, arenaID uuid.UUID) (any, error)

// Client represents a single WebSocket connection to an arena.
type Client struct {
	ID       string
	ArenaID  uuid.UUID
	UserID   uuid.UUID
	JoinedAt time.Time
	hub      *Hub
	snapshot SnapshotFunc
	conn     *websocket.Conn
	send     chan WSMessage
	logger   *zap.Logger
}

// ServeWs handles the WebSocket upgrade and runs the client loop.
func ServeWs(hub *Hub, logger *zap.Logger, jwtValidate func(token string) (uuid.UUID, error), snapshot SnapshotFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		arenaIDStr := c.Query("arena_id")
		token := c.Query("token")
		if arenaIDStr == "" || token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "arena_id and token required"})
			return
		}
		arenaID, err := uuid.Parse(arenaIDStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid arena_id"})
			return
		}
		userID, err := jwtValidate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			ID:       uuid.New().String(),
			ArenaID:  arenaID,
			UserID:   userID,
			JoinedAt: time.Now(),
			hub:      hub,
			snapshot: snapshot,
			conn:     conn,
			send:     make(chan WSMessage, 256),
			logger:   logger,
		}
		hub.Register(client)
		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))

		switch msg.Event {
		case "ping":
			c.hub.SendToClient(c.ArenaID, c.ID, "pong", map[string]int64{"at": time.Now().UnixMilli()})
		case "sync":
			// Late joiners and reconnects catch up from the authoritative state.
			if c.snapshot == nil {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			snap, err := c.snapshot(ctx, c.ArenaID)
			cancel()
			if err != nil {
				c.hub.SendToClient(c.ArenaID, c.ID, "error", map[string]string{"error": err.Error()})
				continue
			}
			c.hub.SendToClient(c.ArenaID, c.ID, "snapshot", snap)
		default:
			// ignore
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
