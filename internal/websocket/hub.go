// Package websocket is the live feed: committed point changes, tier
// transitions and reward unlocks pushed to subscribed connections.
package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	EntityAccount = "account"
	EntityTier    = "tier"
	EntityReward  = "reward"
)

// maxDrops is how many consecutive messages a client may miss before it is
// disconnected.
const maxDrops = 8

// Message is one live-feed notification. Type is "<entity>_<action>", e.g.
// account_points, tier_changed, reward_unlocked, reward_used. Seq and At are
// stamped by the hub; a gap in Seq tells a client it missed messages.
type Message struct {
	Seq    uint64         `json:"seq"`
	At     time.Time      `json:"at"`
	Type   string         `json:"type"`
	Entity string         `json:"entity"`
	Action string         `json:"action"`
	UserID string         `json:"user_id,omitempty"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// NewMessage creates a Message with the Type field derived from entity and action.
func NewMessage(entity, action, userID string, extra map[string]any) Message {
	return Message{
		Type:   fmt.Sprintf("%s_%s", entity, action),
		Entity: entity,
		Action: action,
		UserID: userID,
		Extra:  extra,
	}
}

// Filter narrows what a client receives. Zero values match everything.
type Filter struct {
	UserID string
	Types  map[string]struct{}
}

// ParseFilter builds a Filter from a user id and a comma-separated type list.
func ParseFilter(userID, types string) Filter {
	f := Filter{UserID: strings.TrimSpace(userID)}
	for _, t := range strings.Split(types, ",") {
		if t = strings.TrimSpace(t); t != "" {
			if f.Types == nil {
				f.Types = make(map[string]struct{})
			}
			f.Types[t] = struct{}{}
		}
	}
	return f
}

func (f Filter) Match(msg Message) bool {
	if f.UserID != "" && f.UserID != msg.UserID {
		return false
	}
	if len(f.Types) > 0 {
		if _, ok := f.Types[msg.Type]; !ok {
			return false
		}
	}
	return true
}

// Hub maintains the set of active WebSocket clients and broadcasts messages.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *slog.Logger

	// seqMu serializes broadcasts so clients receive messages in Seq order.
	seqMu sync.Mutex
	seq   uint64
	now   func() time.Time
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Broadcast stamps msg and queues it for every client whose filter matches.
// It never blocks: a client with a full buffer misses the message, and one
// that misses maxDrops in a row is disconnected. Clients receive messages in
// Seq order.
func (h *Hub) Broadcast(msg Message) {
	evict := h.enqueue(msg)
	for _, c := range evict {
		h.logger.Warn("disconnecting slow live-feed client", "user_filter", c.filter.UserID)
		h.Unregister(c)
	}
}

// enqueue stamps and queues msg under seqMu and returns the clients that
// exceeded maxDrops.
func (h *Hub) enqueue(msg Message) []*Client {
	h.seqMu.Lock()
	defer h.seqMu.Unlock()

	h.seq++
	msg.Seq = h.seq
	msg.At = h.now()
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return nil
	}

	var evict []*Client
	h.mu.RLock()
	for c := range h.clients {
		if !c.filter.Match(msg) {
			continue
		}
		select {
		case c.send <- data:
			c.drops.Store(0)
		default:
			if c.drops.Add(1) >= maxDrops {
				evict = append(evict, c)
			}
		}
	}
	h.mu.RUnlock()
	return evict
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
