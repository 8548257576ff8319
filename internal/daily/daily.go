package daily

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Room is the subset of Daily's room object this service cares about.
type Room struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type Client interface {
	CreateRoom(ctx context.Context, name, privacy string) (Room, error)
	CreateMeetingToken(ctx context.Context, roomName, userName string, exp int64, owner bool) (string, error)
}

type HTTPClient struct {
	http   *http.Client
	apiKey string
	base   string
}

func NewClient(apiKey string) *HTTPClient {
	return &HTTPClient{
		http:   &http.Client{Timeout: 15 * time.Second},
		apiKey: apiKey,
		base:   "https://api.daily.co/v1",
	}
}

func (c *HTTPClient) CreateRoom(ctx context.Context, name, privacy string) (Room, error) {
	body := map[string]any{
		"name":    name,
		"privacy": privacy,
	}
	var parsed Room
	if err := c.post(ctx, "/rooms", body, &parsed); err != nil {
		return Room{}, fmt.Errorf("daily CreateRoom: %w", err)
	}
	if parsed.Name == "" {
		parsed.Name = name
	}
	return parsed, nil
}

func (c *HTTPClient) CreateMeetingToken(ctx context.Context, roomName, userName string, exp int64, owner bool) (string, error) {
	body := map[string]any{
		"properties": map[string]any{
			"room_name": roomName,
			"user_name": userName,
			"exp":       exp,
			"is_owner":  owner,
		},
	}
	var parsed struct {
		Token string `json:"token"`
	}
	if err := c.post(ctx, "/meeting-tokens", body, &parsed); err != nil {
		return "", fmt.Errorf("daily CreateMeetingToken: %w", err)
	}
	if parsed.Token == "" {
		return "", fmt.Errorf("daily CreateMeetingToken: empty token")
	}
	return parsed.Token, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: %s", resp.Status, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// RoomURL builds the join URL for a room on a Daily subdomain.
func RoomURL(domain, roomName string) string {
	return "https://" + domain + ".daily.co/" + roomName
}
