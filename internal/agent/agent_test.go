package agent

import (
	"errors"
	"sync"
	"testing"

	"mandy/control/internal/mandy"
	"mandy/control/internal/store"
)

// fakeRunner mimics the wiring in cmd/server: Stop kills the worker, whose
// wait error is then delivered through the exit callback.
type fakeRunner struct {
	mu      sync.Mutex
	running map[string]bool
	starts  int
	onExit  func(roomKey string, err error)
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{running: make(map[string]bool)}
}

func (r *fakeRunner) Start(roomKey string, env map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running[roomKey] {
		return errors.New("worker already running for room")
	}
	r.running[roomKey] = true
	r.starts++
	return nil
}

func (r *fakeRunner) Stop(roomKey string) error {
	r.exit(roomKey, errors.New("signal: killed"))
	return nil
}

// exit clears the running slot and delivers the wait error, the way a real
// process exit does.
func (r *fakeRunner) exit(roomKey string, err error) {
	r.mu.Lock()
	delete(r.running, roomKey)
	onExit := r.onExit
	r.mu.Unlock()
	if onExit != nil {
		onExit(roomKey, err)
	}
}

func (r *fakeRunner) IsRunning(roomKey string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running[roomKey]
}

func (r *fakeRunner) startCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts
}

func newTestAgent(t *testing.T) (*Agent, *[]mandy.State) {
	t.Helper()
	var published []mandy.State
	a := New("demo/standup", "https://demo.daily.co/standup", "tok", "",
		nil,
		func(roomKey string, st mandy.State) { published = append(published, st) },
		store.New())
	return a, &published
}

func intp(v int64) *int64 { return &v }

func TestStartThenSetMode(t *testing.T) {
	a, _ := newTestAgent(t)

	st, err := a.Apply(mandy.Command{Action: mandy.ActionStart, RequestedBy: "alice"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if st.Status != mandy.StatusOnline || st.Mode != mandy.ModeSilent || !st.Muted {
		t.Fatalf("unexpected state after start: %+v", st)
	}
	if st.Version == 0 {
		t.Fatalf("start must bump version")
	}

	prev := st.Version
	st, err = a.Apply(mandy.Command{Action: mandy.ActionSetMode, Mode: mandy.ModeActive, RequestedBy: "alice", Version: intp(prev)})
	if err != nil {
		t.Fatalf("set_mode: %v", err)
	}
	if st.Mode != mandy.ModeActive || st.Version != prev+1 || st.UpdatedBy != "alice" {
		t.Fatalf("unexpected state after set_mode: %+v", st)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	a, _ := newTestAgent(t)
	st1, _ := a.Apply(mandy.Command{Action: mandy.ActionStart, RequestedBy: "alice"})
	st2, err := a.Apply(mandy.Command{Action: mandy.ActionStart, RequestedBy: "bob"})
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if st2.Version != st1.Version {
		t.Fatalf("start on a connected agent must be a no-op, versions %d vs %d", st1.Version, st2.Version)
	}
}

func TestStopDisconnects(t *testing.T) {
	a, _ := newTestAgent(t)
	a.Apply(mandy.Command{Action: mandy.ActionStart, RequestedBy: "alice"})
	st, err := a.Apply(mandy.Command{Action: mandy.ActionStop, RequestedBy: "alice"})
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if st.Status != mandy.StatusDisconnected {
		t.Fatalf("expected disconnected, got %+v", st)
	}
}

func TestMuteIsAbsoluteNotToggle(t *testing.T) {
	a, _ := newTestAgent(t)
	st1, err := a.Apply(mandy.Command{Action: mandy.ActionMute, RequestedBy: "alice"})
	if err != nil {
		t.Fatalf("mute: %v", err)
	}
	// Agent starts muted, so the first mute is already a no-op.
	if !st1.Muted || st1.Version != 0 {
		t.Fatalf("mute of a muted agent must not change anything: %+v", st1)
	}
	st2, _ := a.Apply(mandy.Command{Action: mandy.ActionUnmute, RequestedBy: "alice"})
	if st2.Muted || st2.Version != 1 {
		t.Fatalf("unmute should bump to version 1: %+v", st2)
	}
	st3, _ := a.Apply(mandy.Command{Action: mandy.ActionUnmute, RequestedBy: "bob"})
	if st3.Version != st2.Version {
		t.Fatalf("repeated unmute must not bump version: %+v", st3)
	}
}

func TestDirectiveNoOp(t *testing.T) {
	a, _ := newTestAgent(t)
	st, err := a.Apply(mandy.Command{Action: mandy.ActionUpdateDirective, Directive: "take notes", RequestedBy: "alice"})
	if err != nil {
		t.Fatalf("update_directive: %v", err)
	}
	if st.Directive != "take notes" || st.Version != 1 || st.UpdatedBy != "alice" {
		t.Fatalf("unexpected state: %+v", st)
	}
	st2, err := a.Apply(mandy.Command{Action: mandy.ActionUpdateDirective, Directive: "take notes", RequestedBy: "bob"})
	if err != nil {
		t.Fatalf("identical directive: %v", err)
	}
	if st2.Version != 1 || st2.UpdatedBy != "alice" {
		t.Fatalf("identical directive must not bump version or restamp: %+v", st2)
	}
}

func TestLockExclusivity(t *testing.T) {
	a, _ := newTestAgent(t)
	if _, err := a.Apply(mandy.Command{Action: mandy.ActionLockMode, RequestedBy: "alice"}); err != nil {
		t.Fatalf("lock: %v", err)
	}
	before := a.State()

	_, err := a.Apply(mandy.Command{Action: mandy.ActionSetMode, Mode: mandy.ModeActive, RequestedBy: "bob"})
	if !errors.Is(err, ErrModeLocked) {
		t.Fatalf("expected ErrModeLocked, got %v", err)
	}
	after := a.State()
	if after.Version != before.Version || after.Mode != before.Mode {
		t.Fatalf("rejected command must not change state: %+v vs %+v", before, after)
	}

	// The lock holder may still change the mode.
	st, err := a.Apply(mandy.Command{Action: mandy.ActionSetMode, Mode: mandy.ModeActive, RequestedBy: "alice"})
	if err != nil {
		t.Fatalf("holder set_mode: %v", err)
	}
	if st.Mode != mandy.ModeActive {
		t.Fatalf("holder set_mode not applied: %+v", st)
	}
}

func TestCompetingLockRejected(t *testing.T) {
	a, _ := newTestAgent(t)
	a.Apply(mandy.Command{Action: mandy.ActionLockMode, RequestedBy: "alice"})
	_, err := a.Apply(mandy.Command{Action: mandy.ActionLockMode, RequestedBy: "bob"})
	if !errors.Is(err, ErrModeLocked) {
		t.Fatalf("expected ErrModeLocked for competing lock, got %v", err)
	}
	if got := a.State().LockedBy; got != "alice" {
		t.Fatalf("lock holder changed to %q", got)
	}
}

func TestUnlockAuthorization(t *testing.T) {
	a, _ := newTestAgent(t)
	a.Apply(mandy.Command{Action: mandy.ActionLockMode, RequestedBy: "alice"})

	_, err := a.Apply(mandy.Command{Action: mandy.ActionUnlockMode, RequestedBy: "bob"})
	if !errors.Is(err, ErrNotLockHolder) {
		t.Fatalf("expected ErrNotLockHolder, got %v", err)
	}

	// An owner-equivalent requester may force the unlock.
	st, err := a.Apply(mandy.Command{Action: mandy.ActionUnlockMode, RequestedBy: "bob", Owner: true})
	if err != nil {
		t.Fatalf("owner unlock: %v", err)
	}
	if st.LockedBy != "" {
		t.Fatalf("lock not cleared: %+v", st)
	}
}

func TestStaleVersionRejected(t *testing.T) {
	a, _ := newTestAgent(t)
	a.Apply(mandy.Command{Action: mandy.ActionUnmute, RequestedBy: "alice"}) // version 1
	a.Apply(mandy.Command{Action: mandy.ActionMute, RequestedBy: "alice"})  // version 2

	_, err := a.Apply(mandy.Command{Action: mandy.ActionSetMode, Mode: mandy.ModeActive, RequestedBy: "bob", Version: intp(1)})
	if !errors.Is(err, ErrStaleVersion) {
		t.Fatalf("expected ErrStaleVersion, got %v", err)
	}
	if got := a.State(); got.Version != 2 || got.Mode != mandy.ModeSilent {
		t.Fatalf("stale command changed state: %+v", got)
	}
}

func TestAcceptedMutationsArePublished(t *testing.T) {
	a, published := newTestAgent(t)
	a.Apply(mandy.Command{Action: mandy.ActionStart, RequestedBy: "alice"})
	a.Apply(mandy.Command{Action: mandy.ActionUnmute, RequestedBy: "alice"})
	a.Apply(mandy.Command{Action: mandy.ActionUnmute, RequestedBy: "alice"}) // no-op

	if len(*published) == 0 {
		t.Fatalf("expected publishes for accepted mutations")
	}
	last := (*published)[len(*published)-1]
	if last.Muted || last.Status != mandy.StatusOnline {
		t.Fatalf("unexpected last publish: %+v", last)
	}
	// Versions in the publish stream must be strictly increasing.
	for i := 1; i < len(*published); i++ {
		if (*published)[i].Version <= (*published)[i-1].Version {
			t.Fatalf("publish stream not strictly increasing at %d: %+v", i, *published)
		}
	}
}

func TestStopWithWorkerLandsDisconnected(t *testing.T) {
	runner := newFakeRunner()
	a := New("demo/standup", "https://demo.daily.co/standup", "tok", "", runner, nil, store.New())
	runner.onExit = func(roomKey string, err error) { a.OnWorkerExit(err) }

	if _, err := a.Apply(mandy.Command{Action: mandy.ActionStart, RequestedBy: "alice"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	st, err := a.Apply(mandy.Command{Action: mandy.ActionStop, RequestedBy: "alice"})
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if st.Status != mandy.StatusDisconnected {
		t.Fatalf("stop must disconnect, got %+v", st)
	}
	// The killed worker's exit arrived through the callback during stop;
	// it must not count as a crash.
	if got := a.State().Status; got != mandy.StatusDisconnected {
		t.Fatalf("worker exit after stop flipped status to %q", got)
	}
}

func TestLateWorkerExitAfterStop(t *testing.T) {
	runner := newFakeRunner()
	a := New("demo/standup", "https://demo.daily.co/standup", "tok", "", runner, nil, store.New())

	a.Apply(mandy.Command{Action: mandy.ActionStart, RequestedBy: "alice"})
	a.Apply(mandy.Command{Action: mandy.ActionStop, RequestedBy: "alice"})

	// Exit callback lands after stop has already finished.
	a.OnWorkerExit(errors.New("signal: killed"))
	if got := a.State().Status; got != mandy.StatusDisconnected {
		t.Fatalf("deliberate stop ended at status %q, want disconnected", got)
	}
}

func TestWorkerCrashMarksError(t *testing.T) {
	runner := newFakeRunner()
	a := New("demo/standup", "https://demo.daily.co/standup", "tok", "", runner, nil, store.New())
	runner.onExit = func(roomKey string, err error) { a.OnWorkerExit(err) }

	a.Apply(mandy.Command{Action: mandy.ActionStart, RequestedBy: "alice"})
	runner.exit("demo/standup", errors.New("exit status 2"))
	if got := a.State().Status; got != mandy.StatusError {
		t.Fatalf("crash ended at status %q, want error", got)
	}

	// A restart clears the crash handling for the next exit.
	a.Apply(mandy.Command{Action: mandy.ActionStart, RequestedBy: "alice"})
	a.Apply(mandy.Command{Action: mandy.ActionStop, RequestedBy: "alice"})
	if got := a.State().Status; got != mandy.StatusDisconnected {
		t.Fatalf("stop after restart ended at status %q, want disconnected", got)
	}
}

func TestConcurrentStartStartsOneWorker(t *testing.T) {
	runner := newFakeRunner()
	a := New("demo/standup", "https://demo.daily.co/standup", "tok", "", runner, nil, store.New())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := a.Apply(mandy.Command{Action: mandy.ActionStart, RequestedBy: "alice"}); err != nil {
				t.Errorf("concurrent start: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := runner.startCount(); got != 1 {
		t.Fatalf("runner started %d times, want 1", got)
	}
	if got := a.State().Status; got != mandy.StatusOnline {
		t.Fatalf("agent ended at status %q, want online", got)
	}
}

func TestRegistryEnsureAndGet(t *testing.T) {
	reg := NewRegistry(nil, nil, store.New())
	key := RoomKey("demo", "standup")
	a := reg.Ensure(key, "https://demo.daily.co/standup", "", "greet newcomers")
	if reg.Ensure(key, "", "", "other directive") != a {
		t.Fatalf("Ensure must reuse the existing agent")
	}
	if reg.Get(key) != a {
		t.Fatalf("Get returned a different agent")
	}
	if reg.Get(RoomKey("demo", "missing")) != nil {
		t.Fatalf("unknown room should return nil")
	}
	if got := a.State().Directive; got != "greet newcomers" {
		t.Fatalf("initial directive lost: %q", got)
	}
	if a.State().Version != 0 {
		t.Fatalf("initial directive must not bump version")
	}
}
