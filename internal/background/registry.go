// Package background tracks long-running commands started on behalf of a
// session so their output can be polled later.
package background

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"warden/internal/boundary"
	"warden/internal/cmdguard"
	"warden/internal/logging"
	"warden/internal/proc"
	"warden/internal/security"
)

const (
	DefaultBufferSize = 1 << 20
	killWait          = 5 * time.Second
)

var ErrNotFound = errors.New("background command not found")

type Status string

const (
	Running   Status = "running"
	Completed Status = "completed"
	Failed    Status = "failed"
	Killed    Status = "killed"
)

// Snapshot is a point-in-time view of one background command.
type Snapshot struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Command   string    `json:"command"`
	Args      []string  `json:"args"`
	Status    Status    `json:"status"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	PID       int       `json:"pid,omitempty"`
	Output    string    `json:"output"`
	Truncated bool      `json:"truncated,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
}

type shell struct {
	id        string
	sessionID string
	command   string
	args      []string
	cmd       *exec.Cmd
	out       *ringBuffer
	startedAt time.Time
	done      chan struct{}

	mu       sync.Mutex
	status   Status
	exitCode *int
	endedAt  time.Time
	killed   bool
}

func (s *shell) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ID:        s.id,
		SessionID: s.sessionID,
		Command:   s.command,
		Args:      append([]string(nil), s.args...),
		Status:    s.status,
		ExitCode:  s.exitCode,
		StartedAt: s.startedAt,
		EndedAt:   s.endedAt,
		Output:    s.out.String(),
		Truncated: s.out.Truncated(),
	}
	if s.cmd.Process != nil {
		snap.PID = s.cmd.Process.Pid
	}
	return snap
}

func (s *shell) running() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Registry owns every background command started through it.
type Registry struct {
	mu         sync.Mutex
	shells     map[string]*shell
	bufferSize int
	log        *logging.StructuredLogger
}

func NewRegistry(bufferSize int) *Registry {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Registry{
		shells:     make(map[string]*shell),
		bufferSize: bufferSize,
		log:        logging.NewStructuredLogger("background"),
	}
}

// Start validates and launches command in root and returns its id.
func (r *Registry) Start(command string, args []string, sessionID string, root boundary.Root) (string, error) {
	if err := validate(command, args, root); err != nil {
		return "", err
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return "", fmt.Errorf("create output pipe: %w", err)
	}
	argv := args
	if command == "git" {
		argv = cmdguard.GitArgv(args[0], args[1:])
	}
	cmd := exec.Command(command, argv...)
	cmd.Dir = string(root)
	cmd.Env = proc.SafeEnv()
	cmd.Stdout = pw
	cmd.Stderr = pw
	proc.SetProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return "", fmt.Errorf("start command: %w", err)
	}
	pw.Close()

	s := &shell{
		id:        uuid.NewString(),
		sessionID: sessionID,
		command:   command,
		args:      append([]string(nil), args...),
		cmd:       cmd,
		out:       newRingBuffer(r.bufferSize),
		startedAt: time.Now(),
		done:      make(chan struct{}),
		status:    Running,
	}

	r.mu.Lock()
	r.shells[s.id] = s
	r.mu.Unlock()

	go r.monitor(s, pr)

	r.log.Info("background command started", map[string]interface{}{
		"id": s.id, "session_id": sessionID, "command": command, "pid": cmd.Process.Pid,
	})
	return s.id, nil
}

func validate(command string, args []string, root boundary.Root) error {
	if err := cmdguard.ValidateCommand(command); err != nil {
		return err
	}
	if command == "git" {
		if len(args) == 0 {
			return security.NewError(security.CommandNotAllowed, "git", "missing git subcommand")
		}
		if err := cmdguard.ValidateGitSubcommand(args[0]); err != nil {
			return err
		}
		if err := cmdguard.ValidateGitArgs(args[0], args[1:]); err != nil {
			return err
		}
		if cmdguard.IsDestructive(args[0], args[1:]) {
			return security.NewError(security.DestructiveBlocked, "git "+args[0], "destructive git operations cannot run in the background")
		}
	} else if err := cmdguard.ValidateCommandArgs(command, args); err != nil {
		return err
	}
	return cmdguard.ValidateArgs(args, root)
}

// monitor is the only reader of the output pipe.
func (r *Registry) monitor(s *shell, pr *os.File) {
	_, _ = io.Copy(s.out, pr)
	pr.Close()
	waitErr := s.cmd.Wait()

	s.mu.Lock()
	s.endedAt = time.Now()
	code := s.cmd.ProcessState.ExitCode()
	switch {
	case s.killed && code < 0:
		s.status = Killed
	case waitErr == nil:
		s.status = Completed
		s.exitCode = &code
	default:
		s.status = Failed
		if code >= 0 {
			s.exitCode = &code
		}
	}
	status := s.status
	s.mu.Unlock()
	close(s.done)

	r.log.Info("background command finished", map[string]interface{}{
		"id": s.id, "status": string(status), "duration_ms": time.Since(s.startedAt).Milliseconds(),
	})
}

func (r *Registry) get(id string) (*shell, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.shells[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// GetOutput returns the current state of id. With block set it first waits
// for the command to finish, the timeout to elapse or ctx to end.
func (r *Registry) GetOutput(ctx context.Context, id string, block bool, timeout time.Duration) (Snapshot, error) {
	s, err := r.get(id)
	if err != nil {
		return Snapshot{}, err
	}
	if block && s.running() {
		var expired <-chan time.Time
		if timeout > 0 {
			timer := time.NewTimer(timeout)
			defer timer.Stop()
			expired = timer.C
		}
		select {
		case <-s.done:
		case <-expired:
		case <-ctx.Done():
			return s.snapshot(), ctx.Err()
		}
	}
	return s.snapshot(), nil
}

// Kill stops a running command and its process group. Killing a finished
// command is a no-op.
func (r *Registry) Kill(id string) (Snapshot, error) {
	s, err := r.get(id)
	if err != nil {
		return Snapshot{}, err
	}
	r.kill(s)
	return s.snapshot(), nil
}

func (r *Registry) kill(s *shell) {
	s.mu.Lock()
	if s.status != Running || !s.running() {
		s.mu.Unlock()
		return
	}
	s.killed = true
	s.mu.Unlock()
	proc.KillGroup(s.cmd)
	select {
	case <-s.done:
	case <-time.After(killWait):
		r.log.Warn("background command did not exit after kill", map[string]interface{}{"id": s.id})
	}
}

// Remove kills id if needed and forgets it.
func (r *Registry) Remove(id string) error {
	s, err := r.get(id)
	if err != nil {
		return err
	}
	r.kill(s)
	r.mu.Lock()
	delete(r.shells, id)
	r.mu.Unlock()
	return nil
}

// List returns snapshots for sessionID, or for every session when it is
// empty, newest first.
func (r *Registry) List(sessionID string) []Snapshot {
	r.mu.Lock()
	shells := make([]*shell, 0, len(r.shells))
	for _, s := range r.shells {
		if sessionID == "" || s.sessionID == sessionID {
			shells = append(shells, s)
		}
	}
	r.mu.Unlock()

	out := make([]Snapshot, 0, len(shells))
	for _, s := range shells {
		out = append(out, s.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// Shutdown kills every running command.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	shells := make([]*shell, 0, len(r.shells))
	for _, s := range r.shells {
		shells = append(shells, s)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range shells {
		wg.Add(1)
		go func(s *shell) {
			defer wg.Done()
			r.kill(s)
		}(s)
	}
	wg.Wait()
}
