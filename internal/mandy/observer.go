package mandy

import "sync"

// Observer holds one party's view of a room's state and applies the version
// reconciliation rule: a candidate is adopted only if its version is >= the
// current one. Ties are adopted so an authoritative copy can overwrite a
// locally-optimistic placeholder carrying the same version. The rule makes
// observation commutative and duplicate-tolerant, so candidates may arrive
// from any source (broadcast push, relay response) in any order.
type Observer struct {
	mu      sync.Mutex
	current State
}

func NewObserver() *Observer {
	return &Observer{current: Initial()}
}

// Adopt applies the reconciliation rule and reports whether the candidate
// was taken. Stale candidates leave the current state untouched.
func (o *Observer) Adopt(candidate State) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if candidate.Version < o.current.Version {
		return false
	}
	o.current = candidate.Normalized()
	return true
}

// AdoptPayload normalizes a raw decoded payload and adopts it.
func (o *Observer) AdoptPayload(payload map[string]any) bool {
	return o.Adopt(Normalize(payload))
}

// Current returns the observer's view.
func (o *Observer) Current() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}
