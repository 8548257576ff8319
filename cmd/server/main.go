package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mandy/control/internal/agent"
	"mandy/control/internal/api"
	"mandy/control/internal/config"
	"mandy/control/internal/mandy"
	"mandy/control/internal/roomws"
	"mandy/control/internal/store"
	"mandy/control/internal/worker"
)

func main() {
	// Load .env file if present (ignored if missing)
	_ = godotenv.Load()

	cfg := config.Load()

	events := store.New()
	hub := roomws.NewHub()

	publish := func(roomKey string, st mandy.State) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		hub.Broadcast(ctx, roomKey, mandy.StateEnvelope(st))
		events.Append(roomKey, "state_published", map[string]any{"version": st.Version, "status": string(st.Status)})
	}

	var registry *agent.Registry
	var runner worker.Runner
	if cfg.Worker.Cmd != "" {
		runner = worker.NewLocalRunner(cfg.Worker.Cmd, func(roomKey string, err error) {
			if a := registry.Get(roomKey); a != nil {
				a.OnWorkerExit(err)
			}
		}, func(roomKey, stream, line string) {
			events.Append(roomKey, "worker_log", map[string]any{"stream": stream, "line": line})
		})
	}
	registry = agent.NewRegistry(runner, publish, events)

	h := api.NewHandlers(cfg, registry, events)
	wss := roomws.NewServer(cfg, hub, registry)

	mux := http.NewServeMux()
	mux.Handle("/", api.NewRouter(h))
	mux.HandleFunc("/ws", wss.HandleRoomWS)
	mux.Handle("/metrics", promhttp.Handler())

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           logMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Graceful shutdown on SIGINT/SIGTERM
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigc
		log.Printf("shutdown signal received; stopping server...")
		// Stop running agents before draining HTTP
		for _, roomKey := range registry.RoomKeys() {
			if a := registry.Get(roomKey); a != nil {
				_, _ = a.Apply(mandy.Command{Action: mandy.ActionStop, RequestedBy: "system"})
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	log.Printf("control plane starting on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Println("server error:", err)
		os.Exit(1)
	}
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}
