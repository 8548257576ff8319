package roomws

import (
	"context"
	"encoding/json"
	"sync"

	ws "nhooyr.io/websocket"
)

// Hub tracks the websocket subscribers of each room. Delivery is
// best-effort: a failed write drops the connection and ordering is left to
// the version reconciliation rule on the receiving side.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]map[*ws.Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*ws.Conn]struct{})}
}

func (h *Hub) Add(roomKey string, c *ws.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := h.rooms[roomKey]
	if conns == nil {
		conns = make(map[*ws.Conn]struct{})
		h.rooms[roomKey] = conns
	}
	conns[c] = struct{}{}
}

func (h *Hub) Remove(roomKey string, c *ws.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns := h.rooms[roomKey]; conns != nil {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, roomKey)
		}
	}
}

// Count reports the number of subscribers in a room.
func (h *Hub) Count(roomKey string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[roomKey])
}

// Broadcast sends v to every subscriber of the room, dropping connections
// whose writes fail.
func (h *Hub) Broadcast(ctx context.Context, roomKey string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	h.mu.Lock()
	conns := make([]*ws.Conn, 0, len(h.rooms[roomKey]))
	for c := range h.rooms[roomKey] {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		if err := c.Write(ctx, ws.MessageText, b); err != nil {
			_ = c.Close(ws.StatusNormalClosure, "write failed")
			h.Remove(roomKey, c)
		}
	}
}

// SendJSON writes v to a single connection.
func SendJSON(ctx context.Context, c *ws.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Write(ctx, ws.MessageText, b)
}
