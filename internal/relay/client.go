package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"mandy/control/internal/mandy"
)

// StartRequest mirrors the control plane's start body.
type StartRequest struct {
	Domain    string `json:"domain,omitempty"`
	Room      string `json:"room"`
	RoomURL   string `json:"roomUrl,omitempty"`
	Token     string `json:"token,omitempty"`
	Directive string `json:"directive,omitempty"`
}

// ControlRequest mirrors the control plane's control body.
type ControlRequest struct {
	Domain string `json:"domain"`
	Room   string `json:"room"`
	mandy.Command
}

// Client is a stateless pass-through to the authoritative control plane. It
// holds no authority of its own: it forwards commands, relays the resulting
// state back, and translates failures into the relay error taxonomy.
type Client struct {
	base string
	http *http.Client
}

func NewClient(base string, timeout time.Duration) *Client {
	return &Client{
		base: base,
		http: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Start(ctx context.Context, req StartRequest) (mandy.State, error) {
	if req.Room == "" {
		return mandy.State{}, validationErr("room is required")
	}
	return c.post(ctx, "/api/start", req)
}

func (c *Client) Control(ctx context.Context, req ControlRequest) (mandy.State, error) {
	if req.Room == "" {
		return mandy.State{}, validationErr("room is required")
	}
	if req.Domain == "" {
		return mandy.State{}, validationErr("domain is required")
	}
	return c.post(ctx, "/api/control", req)
}

func (c *Client) State(ctx context.Context, domain, room string) (mandy.State, error) {
	if room == "" {
		return mandy.State{}, validationErr("room is required")
	}
	if domain == "" {
		return mandy.State{}, validationErr("domain is required")
	}
	if c.base == "" {
		return mandy.State{}, unavailableErr("control service address not configured")
	}
	q := url.Values{"domain": {domain}, "room": {room}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/state?"+q.Encode(), nil)
	if err != nil {
		return mandy.State{}, unavailableErr("build request: %v", err)
	}
	return c.do(req)
}

func (c *Client) post(ctx context.Context, path string, body any) (mandy.State, error) {
	if c.base == "" {
		return mandy.State{}, unavailableErr("control service address not configured")
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return mandy.State{}, validationErr("encode request: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, &buf)
	if err != nil {
		return mandy.State{}, unavailableErr("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) (mandy.State, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		metricUpstreamFailures.Inc()
		return mandy.State{}, unavailableErr("control service unreachable: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return mandy.State{}, unavailableErr("read response: %v", err)
	}

	if resp.StatusCode/100 != 2 {
		metricUpstreamFailures.Inc()
		var body struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
			return mandy.State{}, upstreamErr(body.Error)
		}
		return mandy.State{}, upstreamErr(resp.Status)
	}

	var body struct {
		State map[string]any `json:"state"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return mandy.State{}, upstreamErr("malformed control service response")
	}
	// Normalization is total, so a partially-malformed state still yields a
	// well-formed value rather than an error.
	return mandy.Normalize(body.State), nil
}
