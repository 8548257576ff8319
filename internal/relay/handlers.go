package relay

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"mandy/control/internal/agent"
	"mandy/control/internal/auth"
	"mandy/control/internal/config"
	"mandy/control/internal/daily"
)

// Handlers is the web-facing surface: room provisioning against the Daily
// REST API plus the pass-through control endpoints.
type Handlers struct {
	cfg    config.Config
	daily  daily.Client
	client *Client
}

func NewHandlers(cfg config.Config, d daily.Client, c *Client) *Handlers {
	return &Handlers{cfg: cfg, daily: d, client: c}
}

// HandleCreateRoom mints a Daily room plus an owner token for the caller.
func (h *Handlers) HandleCreateRoom(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Daily.APIKey == "" || h.cfg.Daily.Domain == "" {
		writeError(w, http.StatusBadRequest, "missing Daily configuration")
		return
	}
	var req struct {
		UserName string `json:"userName,omitempty"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.UserName == "" {
		req.UserName = "Host"
	}

	roomName := h.cfg.Daily.RoomPrefix + uuid.New().String()
	room, err := h.daily.CreateRoom(r.Context(), roomName, h.cfg.Daily.RoomPrivacy)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if room.URL == "" {
		room.URL = daily.RoomURL(h.cfg.Daily.Domain, room.Name)
	}

	exp := time.Now().Add(time.Duration(h.cfg.Daily.TokenExpMin) * time.Minute).Unix()
	token, err := h.daily.CreateMeetingToken(r.Context(), room.Name, req.UserName, exp, true)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	out := map[string]any{
		"url":   room.URL,
		"name":  room.Name,
		"token": token,
	}
	if h.cfg.Control.WSTokenSecret != "" {
		roomKey := agent.RoomKey(h.cfg.Daily.Domain, room.Name)
		wsExp := time.Now().Add(time.Duration(h.cfg.Control.WSTokenExpMin) * time.Minute).Unix()
		out["wsToken"] = auth.GenerateRoomToken(h.cfg.Control.WSTokenSecret, roomKey, wsExp)
	}
	metricRoomsCreated.Inc()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (h *Handlers) HandleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Domain == "" && req.RoomURL == "" {
		req.Domain = h.cfg.Daily.Domain
	}
	st, err := h.client.Start(r.Context(), req)
	if err != nil {
		writeRelayError(w, err)
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
	if req.Domain == "" {
		req.Domain = h.cfg.Daily.Domain
	}
	st, err := h.client.Control(r.Context(), req)
	if err != nil {
		writeRelayError(w, err)
		return
	}
	writeState(w, st)
}

func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	domain := r.URL.Query().Get("domain")
	if domain == "" {
		domain = h.cfg.Daily.Domain
	}
	st, err := h.client.State(r.Context(), domain, r.URL.Query().Get("room"))
	if err != nil {
		writeRelayError(w, err)
		return
	}
	writeState(w, st)
}

// writeRelayError maps the relay taxonomy onto HTTP statuses, passing the
// upstream message through verbatim.
func writeRelayError(w http.ResponseWriter, err error) {
	var re *Error
	if !errors.As(err, &re) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	switch re.Kind {
	case KindValidation:
		writeError(w, http.StatusBadRequest, re.Message)
	case KindUnavailable:
		writeError(w, http.StatusServiceUnavailable, re.Message)
	default:
		writeError(w, http.StatusBadGateway, re.Message)
	}
}

func writeState(w http.ResponseWriter, st any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"state": st})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
