package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"mandy/control/internal/agent"
	"mandy/control/internal/config"
	"mandy/control/internal/daily"
	"mandy/control/internal/mandy"
	"mandy/control/internal/store"
)

type Handlers struct {
	cfg      config.Config
	registry *agent.Registry
	events   *store.Store
}

func NewHandlers(cfg config.Config, reg *agent.Registry, events *store.Store) *Handlers {
	return &Handlers{cfg: cfg, registry: reg, events: events}
}

// StartRequest boots (or re-addresses) a room's Mandy agent.
type StartRequest struct {
	Domain    string `json:"domain,omitempty"`
	Room      string `json:"room"`
	RoomURL   string `json:"roomUrl,omitempty"`
	Token     string `json:"token,omitempty"`
	Directive string `json:"directive,omitempty"`
}

// ControlRequest addresses one control command to a room.
type ControlRequest struct {
	Domain string `json:"domain"`
	Room   string `json:"room"`
	mandy.Command
}

func (h *Handlers) HandleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Room == "" {
		writeError(w, http.StatusBadRequest, "room is required")
		return
	}
	roomURL := req.RoomURL
	if roomURL == "" {
		if req.Domain == "" {
			writeError(w, http.StatusBadRequest, "domain or roomUrl must be provided")
			return
		}
		roomURL = daily.RoomURL(req.Domain, req.Room)
	}
	domain := deriveDomain(req.Domain, roomURL)
	roomKey := agent.RoomKey(domain, req.Room)

	a := h.registry.Get(roomKey)
	if a == nil {
		a = h.registry.Ensure(roomKey, roomURL, req.Token, req.Directive)
	} else if req.Directive != "" {
		// Update directive if a new one is supplied on re-start.
		if _, err := a.Apply(mandy.Command{Action: mandy.ActionUpdateDirective, Directive: req.Directive, RequestedBy: "system"}); err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
	}

	st, err := a.Apply(mandy.Command{Action: mandy.ActionStart, RequestedBy: "system"})
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeState(w, st)
}

func (h *Handlers) HandleControl(w http.ResponseWriter, r *http.Request) {
	var req ControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Domain == "" || req.Room == "" {
		writeError(w, http.StatusBadRequest, "domain and room are required")
		return
	}
	if err := req.Command.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a := h.registry.Get(agent.RoomKey(req.Domain, req.Room))
	if a == nil {
		writeError(w, http.StatusNotFound, "Mandy is not active for this room.")
		return
	}
	st, err := a.Apply(req.Command)
	if err != nil {
		// Lock conflicts and stale versions leave state untouched; the
		// caller retries with a fresher view.
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeState(w, st)
}

func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	domain := r.URL.Query().Get("domain")
	room := r.URL.Query().Get("room")
	if domain == "" || room == "" {
		writeError(w, http.StatusBadRequest, "domain and room are required")
		return
	}
	a := h.registry.Get(agent.RoomKey(domain, room))
	if a == nil {
		writeError(w, http.StatusNotFound, "No Mandy state found for this room.")
		return
	}
	writeState(w, a.State())
}

func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	domain := r.URL.Query().Get("domain")
	room := r.URL.Query().Get("room")
	if domain == "" || room == "" {
		writeError(w, http.StatusBadRequest, "domain and room are required")
		return
	}
	roomKey := agent.RoomKey(domain, room)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"room":   roomKey,
		"events": h.events.List(roomKey),
	})
}

// deriveDomain recovers the Daily subdomain when only a room URL was given.
func deriveDomain(domain, roomURL string) string {
	if domain != "" {
		return domain
	}
	u, err := url.Parse(roomURL)
	if err != nil || u.Hostname() == "" {
		return roomURL
	}
	host := u.Hostname()
	if strings.HasSuffix(host, ".daily.co") {
		return strings.TrimSuffix(host, ".daily.co")
	}
	return host
}

func writeState(w http.ResponseWriter, st mandy.State) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"state": st})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
