package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/practice-arena/backend/internal/broadcast"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// PresenceHandler is called when a user's first socket to an arena opens or their last one closes.
type PresenceHandler func(arenaID, userID uuid.UUID, connected bool)

// Subscriber subscribes to arena channels and invokes handler for incoming events.
type Subscriber interface {
	SubscribeArena(arenaID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
}

// Hub maintains arena_id -> set of connections and delivers arena events to them.
// With a Subscriber every event arrives through Redis, so each instance delivers to its own sockets once.
type Hub struct {
	// arenaID -> map[clientID]*Client
	arenas     map[uuid.UUID]map[string]*Client
	sockets    map[presenceKey]int
	subs       map[uuid.UUID]func() // cancel Redis subscription per arena
	mu         sync.RWMutex
	logger     *zap.Logger
	sub        Subscriber
	onPresence PresenceHandler

	// presenceMu orders presence callbacks; announced is the state last reported per key.
	presenceMu sync.Mutex
	announced  map[presenceKey]bool
}

type presenceKey struct {
	arenaID uuid.UUID
	userID  uuid.UUID
}

// NewHub creates a new WebSocket hub. sub may be nil for a single instance.
func NewHub(logger *zap.Logger, sub Subscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		arenas:    make(map[uuid.UUID]map[string]*Client),
		sockets:   make(map[presenceKey]int),
		subs:      make(map[uuid.UUID]func()),
		logger:    logger,
		sub:       sub,
		announced: make(map[presenceKey]bool),
	}
}

// SetPresenceHandler sets the callback for participant connect and disconnect.
func (h *Hub) SetPresenceHandler(fn PresenceHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onPresence = fn
}

// Register adds a client to an arena room. Starts the Redis subscription for this arena if first client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.arenas[c.ArenaID] == nil {
		h.arenas[c.ArenaID] = make(map[string]*Client)
		if h.sub != nil {
			arenaID := c.ArenaID
			cancel, err := h.sub.SubscribeArena(arenaID, func(event string, payload []byte) {
				h.BroadcastToArena(arenaID, event, payload)
			})
			if err != nil {
				h.logger.Warn("arena subscription failed", zap.String("arena_id", arenaID.String()), zap.Error(err))
			} else {
				h.subs[arenaID] = cancel
			}
		}
	}
	h.arenas[c.ArenaID][c.ID] = c
	key := presenceKey{c.ArenaID, c.UserID}
	h.sockets[key]++
	first := h.sockets[key] == 1
	h.mu.Unlock()
	if first {
		h.syncPresence(key)
	}
	h.logger.Debug("client joined arena", zap.String("client_id", c.ID), zap.String("arena_id", c.ArenaID.String()))
}

// Unregister removes a client from an arena room. Cancels the Redis subscription when the last client leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	m, ok := h.arenas[c.ArenaID]
	if !ok || m[c.ID] == nil {
		h.mu.Unlock()
		return
	}
	delete(m, c.ID)
	if len(m) == 0 {
		delete(h.arenas, c.ArenaID)
		if cancel, ok := h.subs[c.ArenaID]; ok {
			cancel()
			delete(h.subs, c.ArenaID)
		}
	}
	key := presenceKey{c.ArenaID, c.UserID}
	h.sockets[key]--
	last := h.sockets[key] == 0
	if last {
		delete(h.sockets, key)
	}
	h.mu.Unlock()
	if last {
		h.syncPresence(key)
	}
	h.logger.Debug("client left arena", zap.String("client_id", c.ID), zap.String("arena_id", c.ArenaID.String()))
}

// syncPresence reports the current socket state of key if it differs from the last report.
// The count is read under presenceMu, so a late caller never overwrites a newer state.
func (h *Hub) syncPresence(key presenceKey) {
	h.presenceMu.Lock()
	defer h.presenceMu.Unlock()

	h.mu.RLock()
	connected := h.sockets[key] > 0
	onPresence := h.onPresence
	h.mu.RUnlock()

	if h.announced[key] == connected {
		return
	}
	if connected {
		h.announced[key] = true
	} else {
		delete(h.announced, key)
	}
	if onPresence != nil {
		onPresence(key.arenaID, key.userID, connected)
	}
}

// BroadcastToArena sends a message to all clients in an arena (local only).
func (h *Hub) BroadcastToArena(arenaID uuid.UUID, event string, payload []byte) {
	msg := WSMessage{Event: event, Data: json.RawMessage(payload)}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.arenas[arenaID] {
		select {
		case c.send <- msg:
		default:
			h.logger.Debug("client buffer full, event skipped", zap.String("client_id", c.ID), zap.String("event", event))
		}
	}
}

// Publish delivers an arena channel event to local clients, making the hub a single-instance transport.
func (h *Hub) Publish(_ context.Context, channel, eventType string, payload []byte) error {
	arenaID, err := arenaFromChannel(channel)
	if err != nil {
		return err
	}
	h.BroadcastToArena(arenaID, eventType, payload)
	return nil
}

// ClientCount returns the number of connected sockets in an arena.
func (h *Hub) ClientCount(arenaID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.arenas[arenaID])
}

// SendToClient sends a message to a single client in an arena.
func (h *Hub) SendToClient(arenaID uuid.UUID, clientID string, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	msg := WSMessage{Event: event, Data: data}
	h.mu.RLock()
	c, ok := h.arenas[arenaID][clientID]
	h.mu.RUnlock()
	if !ok || c == nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func arenaFromChannel(channel string) (uuid.UUID, error) {
	raw, ok := strings.CutPrefix(channel, broadcast.ChannelPrefix)
	if !ok {
		return uuid.Nil, fmt.Errorf("not an arena channel: %s", channel)
	}
	return uuid.Parse(raw)
}
