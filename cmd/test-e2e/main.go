package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	ws "nhooyr.io/websocket"

	"mandy/control/internal/mandy"
)

// Manual end-to-end smoke test: starts Mandy through the relay, watches the
// broadcast channel with a client-side observer, and drives a couple of
// control commands. Requires a running relay and control plane.
func main() {
	relayAddr := flag.String("relay", "http://localhost:3001", "Relay base URL")
	controlAddr := flag.String("control", "http://localhost:8080", "Control plane base URL")
	domain := flag.String("domain", "", "Daily subdomain")
	room := flag.String("room", "test-e2e-"+time.Now().Format("150405"), "Room name")
	timeout := flag.Duration("timeout", 30*time.Second, "Overall timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	fmt.Printf("=== Mandy E2E Test ===\n")
	fmt.Printf("Room: %s/%s\n\n", *domain, *room)

	// Step 1: Start Mandy through the relay.
	fmt.Println("[1] Starting Mandy...")
	st := postState(ctx, *relayAddr+"/api/mandy/start", map[string]any{
		"domain": *domain, "room": *room, "directive": "Be a helpful teammate named Mandy.",
	})
	fmt.Printf("    state: version=%d status=%s\n", st.Version, st.Status)

	// Step 2: Subscribe to the broadcast channel.
	fmt.Println("[2] Subscribing to broadcast channel...")
	wsURL := *controlAddr + "/ws?" + url.Values{"domain": {*domain}, "room": {*room}}.Encode()
	conn, _, err := ws.Dial(ctx, wsURL, nil)
	if err != nil {
		log.Fatalf("dial broadcast channel: %v", err)
	}
	defer conn.Close(ws.StatusNormalClosure, "done")

	observer := mandy.NewObserver()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var env mandy.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				continue
			}
			switch env.Type {
			case mandy.TypeState:
				if env.State != nil && observer.Adopt(*env.State) {
					cur := observer.Current()
					fmt.Printf("    [broadcast] adopted version=%d mode=%s muted=%v status=%s\n",
						cur.Version, cur.Mode, cur.Muted, cur.Status)
				} else {
					fmt.Printf("    [broadcast] discarded stale candidate\n")
				}
			case mandy.TypeError:
				fmt.Printf("    [broadcast] error: %s\n", env.Error)
			}
		}
	}()

	// Step 3: Drive a few commands through the relay.
	fmt.Println("[3] Setting mode to active...")
	v := observerVersion(observer)
	st = postState(ctx, *relayAddr+"/api/mandy/control", map[string]any{
		"domain": *domain, "room": *room,
		"action": mandy.ActionSetMode, "mode": "active",
		"requestedBy": "e2e", "version": v,
	})
	observer.Adopt(st)
	fmt.Printf("    state: version=%d mode=%s\n", st.Version, st.Mode)

	fmt.Println("[4] Unmuting...")
	st = postState(ctx, *relayAddr+"/api/mandy/control", map[string]any{
		"domain": *domain, "room": *room,
		"action": mandy.ActionUnmute, "requestedBy": "e2e",
	})
	observer.Adopt(st)
	fmt.Printf("    state: version=%d muted=%v\n", st.Version, st.Muted)

	time.Sleep(500 * time.Millisecond)

	fmt.Println("[5] Stopping Mandy...")
	st = postState(ctx, *relayAddr+"/api/mandy/control", map[string]any{
		"domain": *domain, "room": *room,
		"action": mandy.ActionStop, "requestedBy": "e2e",
	})
	fmt.Printf("    state: version=%d status=%s\n", st.Version, st.Status)

	final := observer.Current()
	fmt.Printf("\nFinal observed state: version=%d mode=%s muted=%v status=%s\n",
		final.Version, final.Mode, final.Muted, final.Status)
}

func observerVersion(o *mandy.Observer) int64 {
	return o.Current().Version
}

func postState(ctx context.Context, endpoint string, body map[string]any) mandy.State {
	b, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		log.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("POST %s: %v", endpoint, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		log.Fatalf("POST %s: %s: %s", endpoint, resp.Status, string(raw))
	}
	var out struct {
		State map[string]any `json:"state"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		log.Fatalf("decode %s: %v", endpoint, err)
	}
	return mandy.Normalize(out.State)
}
