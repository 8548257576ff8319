package agent

import (
	"sync"

	"mandy/control/internal/store"
	"mandy/control/internal/worker"
)

// RoomKey identifies one room's agent across the control plane.
func RoomKey(domain, room string) string {
	return domain + "/" + room
}

// Registry holds the per-room agents. An agent stays registered after
// disconnecting so its last state remains queryable; the room's lifetime
// bounds the entry (the registry is in-memory and dies with the process).
type Registry struct {
	mu     sync.Mutex
	agents map[string]*Agent

	runner  worker.Runner
	publish PublishFunc
	events  *store.Store
}

func NewRegistry(runner worker.Runner, publish PublishFunc, events *store.Store) *Registry {
	return &Registry{
		agents:  make(map[string]*Agent),
		runner:  runner,
		publish: publish,
		events:  events,
	}
}

// Ensure returns the room's agent, creating it with the given join
// credentials and initial directive when absent.
func (r *Registry) Ensure(roomKey, roomURL, token, directive string) *Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.agents[roomKey]; ok {
		return a
	}
	a := New(roomKey, roomURL, token, directive, r.runner, r.publish, r.events)
	r.agents[roomKey] = a
	return a
}

// Get returns the room's agent or nil.
func (r *Registry) Get(roomKey string) *Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.agents[roomKey]
}

// RoomKeys lists all known rooms, for shutdown sweeps.
func (r *Registry) RoomKeys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.agents))
	for k := range r.agents {
		out = append(out, k)
	}
	return out
}
