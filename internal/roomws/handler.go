package roomws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"mandy/control/internal/agent"
	"mandy/control/internal/auth"
	"mandy/control/internal/config"
	"mandy/control/internal/mandy"

	ws "nhooyr.io/websocket"
)

// Server accepts client subscriptions to a room's state broadcast channel.
// Clients receive mandy/state envelopes and may send mandy/state_request and
// mandy/control envelopes back.
type Server struct {
	Cfg      config.Config
	Hub      *Hub
	Registry *agent.Registry
}

func NewServer(cfg config.Config, hub *Hub, reg *agent.Registry) *Server {
	return &Server{Cfg: cfg, Hub: hub, Registry: reg}
}

func (s *Server) HandleRoomWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	domain := q.Get("domain")
	room := q.Get("room")
	if domain == "" || room == "" {
		http.Error(w, "missing domain or room", http.StatusBadRequest)
		return
	}
	roomKey := agent.RoomKey(domain, room)

	// Join tokens are enforced only when a secret is configured; the demo
	// deployment runs open like the Daily app-message channel it mirrors.
	if s.Cfg.Control.WSTokenSecret != "" {
		token := q.Get("token")
		if token == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}
		if _, _, err := auth.ValidateRoomToken(s.Cfg.Control.WSTokenSecret, token, roomKey, time.Now(), s.Cfg.Control.WSTokenSkewSecs); err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
	}

	c, err := ws.Accept(w, r, nil)
	if err != nil {
		log.Printf("ws accept: %v", err)
		return
	}
	s.Hub.Add(roomKey, c)
	defer func() {
		s.Hub.Remove(roomKey, c)
		_ = c.Close(ws.StatusNormalClosure, "done")
	}()

	ctx := r.Context()

	// Publish current state on join so late joiners do not wait for the
	// next mutation.
	_ = SendJSON(ctx, c, mandy.StateEnvelope(s.currentState(roomKey)))

	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		if typ != ws.MessageText && typ != ws.MessageBinary {
			continue
		}
		var env mandy.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			_ = SendJSON(ctx, c, mandy.ErrorEnvelope("malformed envelope"))
			continue
		}
		switch env.Type {
		case mandy.TypeStateRequest:
			_ = SendJSON(ctx, c, mandy.StateEnvelope(s.currentState(roomKey)))
		case mandy.TypeControl:
			s.handleControl(ctx, c, roomKey, env.Command)
		default:
			// Other traffic on the channel is not ours to police.
		}
	}
}

func (s *Server) currentState(roomKey string) mandy.State {
	if a := s.Registry.Get(roomKey); a != nil {
		return a.State()
	}
	return mandy.Initial()
}

func (s *Server) handleControl(ctx context.Context, c *ws.Conn, roomKey string, cmd *mandy.Command) {
	if cmd == nil {
		_ = SendJSON(ctx, c, mandy.ErrorEnvelope("control envelope missing command"))
		return
	}
	a := s.Registry.Get(roomKey)
	if a == nil {
		_ = SendJSON(ctx, c, mandy.ErrorEnvelope("Mandy is not active for this room."))
		return
	}
	if _, err := a.Apply(*cmd); err != nil {
		_ = SendJSON(ctx, c, mandy.ErrorEnvelope(err.Error()))
	}
	// Accepted commands answer themselves through the broadcast.
}
