package store

import (
	"sync"
	"time"
)

// Event is one entry in a room's history: an accepted command, a state
// publish, a worker lifecycle change.
type Event struct {
	Type    string         `json:"type"`
	Ts      time.Time      `json:"timestamp"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Store keeps a capped per-room event log. Rooms are keyed by
// "domain/room" (see agent.RoomKey).
type Store struct {
	mu     sync.RWMutex
	events map[string][]Event
}

func New() *Store {
	return &Store{events: make(map[string][]Event)}
}

func (s *Store) Append(roomKey, typ string, payload map[string]any) Event {
	evt := Event{Type: typ, Ts: time.Now().UTC(), Payload: payload}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[roomKey] = append(s.events[roomKey], evt)
	// Cap total events per room to avoid unbounded growth
	const maxEvents = 200
	if l := len(s.events[roomKey]); l > maxEvents {
		// Keep space for a single truncation marker so the total stays at maxEvents
		keep := maxEvents - 1
		dropped := l - keep
		s.events[roomKey] = append([]Event(nil), s.events[roomKey][l-keep:]...)
		warn := Event{Type: "events_truncated", Ts: time.Now().UTC(), Payload: map[string]any{"room": roomKey, "dropped": dropped, "kept": keep}}
		s.events[roomKey] = append(s.events[roomKey], warn)
	}
	return evt
}

func (s *Store) List(roomKey string) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.events[roomKey]
	out := make([]Event, len(src))
	copy(out, src)
	return out
}
