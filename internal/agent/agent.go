package agent

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"mandy/control/internal/mandy"
	"mandy/control/internal/store"
	"mandy/control/internal/worker"
)

var (
	// ErrModeLocked rejects mode changes and competing lock attempts while
	// someone else holds the lock.
	ErrModeLocked = errors.New("mode is locked")
	// ErrNotLockHolder rejects unlocks from anyone but the holder or an owner.
	ErrNotLockHolder = errors.New("only the lock holder may unlock")
	// ErrStaleVersion rejects commands carrying a version older than the
	// agent's current one.
	ErrStaleVersion = errors.New("stale version")
)

// PublishFunc fans an accepted state out to subscribers.
type PublishFunc func(roomKey string, st mandy.State)

// Agent is the single-writer authority for one room's Mandy state. All
// mutations go through the mutex, which is also the deterministic tie-break
// for concurrent commands: first arrival wins, the loser sees the bumped
// version.
type Agent struct {
	roomKey string
	roomURL string
	token   string

	mu    sync.Mutex
	state mandy.State
	// stopping marks a deliberate mandy:stop in flight, so the worker's
	// killed-by-stop exit is not mistaken for a crash.
	stopping bool

	runner  worker.Runner
	publish PublishFunc
	events  *store.Store
	now     func() time.Time
}

func New(roomKey, roomURL, token, directive string, runner worker.Runner, publish PublishFunc, events *store.Store) *Agent {
	st := mandy.Initial()
	st.Directive = directive
	return &Agent{
		roomKey: roomKey,
		roomURL: roomURL,
		token:   token,
		state:   st,
		runner:  runner,
		publish: publish,
		events:  events,
		now:     time.Now,
	}
}

// State returns a snapshot of the current state.
func (a *Agent) State() mandy.State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Apply executes one control command. Accepted state-changing commands bump
// the version, stamp attribution, and are published; commands that change
// nothing are accepted without a version bump so every action stays an
// absolute, idempotent assignment.
func (a *Agent) Apply(cmd mandy.Command) (mandy.State, error) {
	if err := cmd.Validate(); err != nil {
		metricCommands.WithLabelValues(cmd.Action, "invalid").Inc()
		return a.State(), err
	}

	switch cmd.Action {
	case mandy.ActionStart:
		return a.start(cmd)
	case mandy.ActionStop:
		return a.stop(cmd)
	}

	st, err := a.mutate(cmd, func(s *mandy.State) (bool, error) {
		switch cmd.Action {
		case mandy.ActionSetMode:
			if s.LockedBy != "" && s.LockedBy != cmd.Requester() {
				return false, fmt.Errorf("%w by %s", ErrModeLocked, s.LockedBy)
			}
			if s.Mode == cmd.Mode {
				return false, nil
			}
			s.Mode = cmd.Mode
		case mandy.ActionMute:
			if s.Muted {
				return false, nil
			}
			s.Muted = true
		case mandy.ActionUnmute:
			if !s.Muted {
				return false, nil
			}
			s.Muted = false
		case mandy.ActionUpdateDirective:
			if s.Directive == cmd.Directive {
				return false, nil
			}
			s.Directive = cmd.Directive
		case mandy.ActionLockMode:
			if s.LockedBy != "" && s.LockedBy != cmd.Requester() {
				return false, fmt.Errorf("%w by %s", ErrModeLocked, s.LockedBy)
			}
			if s.LockedBy == cmd.Requester() {
				return false, nil
			}
			s.LockedBy = cmd.Requester()
		case mandy.ActionUnlockMode:
			if s.LockedBy == "" {
				return false, nil
			}
			if s.LockedBy != cmd.Requester() && !cmd.Owner {
				return false, ErrNotLockHolder
			}
			s.LockedBy = ""
		}
		return true, nil
	})
	if err != nil {
		return st, err
	}
	log.Printf("mandy[%s] %s by %s (version=%d)", a.roomKey, cmd.Action, cmd.Requester(), st.Version)
	return st, nil
}

// mutate runs fn under the lock, applying the stale-version check, version
// bump and attribution stamping, then publishes if anything changed.
func (a *Agent) mutate(cmd mandy.Command, fn func(*mandy.State) (bool, error)) (mandy.State, error) {
	a.mu.Lock()
	if cmd.Version != nil && *cmd.Version < a.state.Version {
		st := a.state
		a.mu.Unlock()
		metricCommands.WithLabelValues(cmd.Action, "stale").Inc()
		return st, fmt.Errorf("%w: command carries version %d, current is %d", ErrStaleVersion, *cmd.Version, st.Version)
	}
	changed, err := fn(&a.state)
	if err != nil {
		st := a.state
		a.mu.Unlock()
		metricCommands.WithLabelValues(cmd.Action, "rejected").Inc()
		return st, err
	}
	if changed {
		a.state.Version++
		a.state.UpdatedBy = cmd.Requester()
		ts := a.now().UTC()
		a.state.UpdatedAt = &ts
	}
	st := a.state
	a.mu.Unlock()

	metricCommands.WithLabelValues(cmd.Action, "accepted").Inc()
	if changed {
		a.record("command_accepted", map[string]any{"action": cmd.Action, "requested_by": cmd.Requester(), "version": st.Version})
		a.publishState(st)
	}
	return st, nil
}

func (a *Agent) start(cmd mandy.Command) (mandy.State, error) {
	// The connecting transition happens under the same lock as the
	// already-connected check, so a duplicate concurrent start sees
	// connecting and no-ops instead of racing the runner.
	a.mu.Lock()
	if a.state.Status == mandy.StatusConnecting || a.state.Status == mandy.StatusOnline {
		st := a.state
		a.mu.Unlock()
		metricCommands.WithLabelValues(cmd.Action, "accepted").Inc()
		return st, nil
	}
	a.stopping = false
	st, _ := a.setStatusLocked(mandy.StatusConnecting, cmd.Requester())
	a.mu.Unlock()

	a.record("status_changed", map[string]any{"status": string(mandy.StatusConnecting), "version": st.Version})
	a.publishState(st)
	a.record("agent_starting", map[string]any{"requested_by": cmd.Requester()})

	if a.runner != nil {
		env := map[string]string{
			"MANDY_ROOM_URL":  a.roomURL,
			"MANDY_TOKEN":     a.token,
			"MANDY_DIRECTIVE": st.Directive,
		}
		if err := a.runner.Start(a.roomKey, env); err != nil {
			_, _ = a.setStatus(mandy.StatusError, "system")
			metricCommands.WithLabelValues(cmd.Action, "rejected").Inc()
			return a.State(), err
		}
	}
	metricCommands.WithLabelValues(cmd.Action, "accepted").Inc()
	return a.setStatus(mandy.StatusOnline, "system")
}

func (a *Agent) stop(cmd mandy.Command) (mandy.State, error) {
	a.mu.Lock()
	if a.state.Status == mandy.StatusDisconnected {
		st := a.state
		a.mu.Unlock()
		metricCommands.WithLabelValues(cmd.Action, "accepted").Inc()
		return st, nil
	}
	a.stopping = true
	a.mu.Unlock()

	if a.runner != nil && a.runner.IsRunning(a.roomKey) {
		_ = a.runner.Stop(a.roomKey)
	}
	a.record("agent_stopped", map[string]any{"requested_by": cmd.Requester()})
	metricCommands.WithLabelValues(cmd.Action, "accepted").Inc()
	return a.setStatus(mandy.StatusDisconnected, cmd.Requester())
}

// setStatusLocked transitions the connectivity status. A same-status
// transition is a no-op and does not bump the version. Caller holds a.mu and
// publishes afterwards if changed.
func (a *Agent) setStatusLocked(status mandy.Status, by string) (mandy.State, bool) {
	if a.state.Status == status {
		return a.state, false
	}
	a.state.Status = status
	a.state.Version++
	a.state.UpdatedBy = by
	ts := a.now().UTC()
	a.state.UpdatedAt = &ts
	return a.state, true
}

func (a *Agent) setStatus(status mandy.Status, by string) (mandy.State, error) {
	a.mu.Lock()
	st, changed := a.setStatusLocked(status, by)
	a.mu.Unlock()
	if changed {
		a.record("status_changed", map[string]any{"status": string(status), "version": st.Version})
		a.publishState(st)
	}
	return st, nil
}

// OnWorkerExit is wired to the runner's exit callback: a clean exit leaves
// the agent disconnected, a crash marks it errored. The exit of a worker
// killed by mandy:stop is deliberate, not a crash, so it also lands on
// disconnected regardless of the wait error.
func (a *Agent) OnWorkerExit(err error) {
	a.mu.Lock()
	deliberate := a.stopping
	a.stopping = false
	a.mu.Unlock()

	if err != nil && !deliberate {
		a.record("worker_exit", map[string]any{"error": err.Error()})
		_, _ = a.setStatus(mandy.StatusError, "system")
		return
	}
	a.record("worker_exit", nil)
	_, _ = a.setStatus(mandy.StatusDisconnected, "system")
}

func (a *Agent) publishState(st mandy.State) {
	metricPublishes.Inc()
	if a.publish != nil {
		a.publish(a.roomKey, st)
	}
}

func (a *Agent) record(typ string, payload map[string]any) {
	if a.events != nil {
		a.events.Append(a.roomKey, typ, payload)
	}
}
