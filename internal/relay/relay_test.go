package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mandy/control/internal/config"
	"mandy/control/internal/daily"
	"mandy/control/internal/mandy"
)

func upstreamStub(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestControlForwardsAndDecodesState(t *testing.T) {
	var gotBody map[string]any
	up := upstreamStub(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/control" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{"state": map[string]any{
			"version": 2, "mode": "active", "muted": true, "status": "online",
		}})
	})

	c := NewClient(up.URL, 5*time.Second)
	st, err := c.Control(context.Background(), ControlRequest{
		Domain:  "demo",
		Room:    "standup",
		Command: mandy.Command{Action: mandy.ActionSetMode, Mode: mandy.ModeActive, RequestedBy: "alice"},
	})
	if err != nil {
		t.Fatalf("control: %v", err)
	}
	if st.Version != 2 || st.Mode != mandy.ModeActive {
		t.Fatalf("unexpected state: %+v", st)
	}
	if gotBody["action"] != "mandy:set_mode" || gotBody["requestedBy"] != "alice" || gotBody["room"] != "standup" {
		t.Fatalf("command not forwarded verbatim: %v", gotBody)
	}
}

func TestMissingRoomIsValidationError(t *testing.T) {
	c := NewClient("http://localhost:0", time.Second)
	_, err := c.Control(context.Background(), ControlRequest{Domain: "demo"})
	var re *Error
	if !errors.As(err, &re) || re.Kind != KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUnconfiguredBaseIsUnavailable(t *testing.T) {
	c := NewClient("", time.Second)
	_, err := c.State(context.Background(), "demo", "standup")
	var re *Error
	if !errors.As(err, &re) || re.Kind != KindUnavailable {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

func TestUpstreamErrorMessagePropagatedVerbatim(t *testing.T) {
	up := upstreamStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "mode is locked by alice"})
	})

	c := NewClient(up.URL, 5*time.Second)
	_, err := c.Control(context.Background(), ControlRequest{
		Domain:  "demo",
		Room:    "standup",
		Command: mandy.Command{Action: mandy.ActionSetMode, Mode: mandy.ModeActive, RequestedBy: "bob"},
	})
	var re *Error
	if !errors.As(err, &re) || re.Kind != KindUpstream {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if re.Message != "mode is locked by alice" {
		t.Fatalf("upstream message not verbatim: %q", re.Message)
	}
}

func TestUnreachableUpstreamIsUnavailable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", 500*time.Millisecond)
	_, err := c.State(context.Background(), "demo", "standup")
	var re *Error
	if !errors.As(err, &re) || re.Kind != KindUnavailable {
		t.Fatalf("expected unavailable error, got %v", err)
	}
}

type mockDaily struct{}

func (m *mockDaily) CreateRoom(ctx context.Context, name, privacy string) (daily.Room, error) {
	return daily.Room{Name: name, URL: "https://demo.daily.co/" + name}, nil
}
func (m *mockDaily) CreateMeetingToken(ctx context.Context, roomName, userName string, exp int64, owner bool) (string, error) {
	return "tok", nil
}

func TestErrorStatusMapping(t *testing.T) {
	up := upstreamStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "Mandy is not active for this room."})
	})

	cfg := config.Config{}
	cfg.Daily.Domain = "demo"
	h := NewHandlers(cfg, &mockDaily{}, NewClient(up.URL, 5*time.Second))
	srv := httptest.NewServer(NewRouter(h))
	defer srv.Close()

	// Upstream rejection → 502 with the upstream message.
	body, _ := json.Marshal(map[string]any{"room": "standup", "action": "mandy:mute", "requestedBy": "alice"})
	resp, err := http.Post(srv.URL+"/api/mandy/control", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
	var out map[string]string
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if out["error"] != "Mandy is not active for this room." {
		t.Fatalf("upstream message not surfaced: %v", out)
	}

	// Missing room → 400.
	resp2, err := http.Post(srv.URL+"/api/mandy/control", "application/json", bytes.NewReader([]byte(`{"action":"mandy:mute"}`)))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp2.StatusCode)
	}
}

func TestCreateRoomEndpoint(t *testing.T) {
	cfg := config.Config{}
	cfg.Daily.APIKey = "key"
	cfg.Daily.Domain = "demo"
	cfg.Daily.RoomPrefix = "mandy-"
	cfg.Daily.RoomPrivacy = "private"
	cfg.Daily.TokenExpMin = 60

	h := NewHandlers(cfg, &mockDaily{}, NewClient("", time.Second))
	srv := httptest.NewServer(NewRouter(h))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/rooms", "application/json", bytes.NewReader([]byte(`{"userName":"Alice"}`)))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["token"] != "tok" || out["url"] == "" || out["name"] == "" {
		t.Fatalf("unexpected room payload: %v", out)
	}
}
