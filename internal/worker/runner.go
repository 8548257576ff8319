package worker

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Runner launches and stops the external speech-worker process (the Pipecat
// pipeline) for a room. The control plane stays a pure state authority when
// no worker command is configured.
type Runner interface {
	Start(roomKey string, env map[string]string) error
	Stop(roomKey string) error
	IsRunning(roomKey string) bool
}

// ExitCallback is invoked when a room's worker process exits (naturally or killed).
type ExitCallback func(roomKey string, err error)
type LogCallback func(roomKey, stream, line string)

type LocalRunner struct {
	cmdline string
	onExit  ExitCallback
	onLog   LogCallback

	mu    sync.Mutex
	procs map[string]*proc
}

type proc struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	// done closes after the single Wait in the monitor goroutine has
	// returned and the exit callback has run. Stop waits on it rather than
	// calling Wait itself.
	done chan struct{}
}

func NewLocalRunner(cmdline string, onExit ExitCallback, onLog LogCallback) *LocalRunner {
	return &LocalRunner{
		cmdline: cmdline,
		onExit:  onExit,
		onLog:   onLog,
		procs:   make(map[string]*proc),
	}
}

func (r *LocalRunner) IsRunning(roomKey string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.procs[roomKey]
	return ok
}

func (r *LocalRunner) Start(roomKey string, env map[string]string) error {
	if strings.TrimSpace(r.cmdline) == "" {
		return errors.New("worker command not configured")
	}

	parts := strings.Fields(r.cmdline)
	name, args := parts[0], parts[1:]
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, name, args...)

	// Reserve slot to prevent TOCTOU duplicate starts
	p := &proc{cancel: cancel, done: make(chan struct{})}
	r.mu.Lock()
	if _, exists := r.procs[roomKey]; exists {
		r.mu.Unlock()
		cancel()
		return errors.New("worker already running for room")
	}
	r.procs[roomKey] = p
	r.mu.Unlock()

	cmd.Env = append(cmd.Env, os.Environ()...)
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		r.release(roomKey, p)
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		r.release(roomKey, p)
		return err
	}
	if err := cmd.Start(); err != nil {
		r.release(roomKey, p)
		return err
	}

	r.mu.Lock()
	p.cmd = cmd
	r.mu.Unlock()

	go r.stream(roomKey, "stdout", stdout)
	go r.stream(roomKey, "stderr", stderr)

	// Sole owner of Wait for this process. done closes only after the exit
	// callback has run, so a Stop that returns has observed full teardown.
	go func() {
		err := cmd.Wait()
		r.mu.Lock()
		delete(r.procs, roomKey)
		r.mu.Unlock()
		if r.onExit != nil {
			r.onExit(roomKey, err)
		}
		close(p.done)
	}()

	return nil
}

func (r *LocalRunner) release(roomKey string, p *proc) {
	r.mu.Lock()
	delete(r.procs, roomKey)
	r.mu.Unlock()
	p.cancel()
	close(p.done)
}

func (r *LocalRunner) Stop(roomKey string) error {
	r.mu.Lock()
	p, ok := r.procs[roomKey]
	var process *os.Process
	if ok && p.cmd != nil {
		process = p.cmd.Process
	}
	r.mu.Unlock()
	if !ok {
		return errors.New("worker not running for room")
	}
	// request context cancel, then force kill after grace
	p.cancel()
	select {
	case <-p.done:
	case <-time.After(3 * time.Second):
		if process != nil {
			_ = process.Kill()
		}
		<-p.done
	}
	return nil
}

func (r *LocalRunner) stream(roomKey, stream string, rdr io.Reader) {
	scanner := bufio.NewScanner(rdr)
	for scanner.Scan() {
		line := scanner.Text()
		log.Printf("worker[%s] %s: %s", roomKey, stream, line)
		if r.onLog != nil {
			r.onLog(roomKey, stream, line)
		}
	}
}
