// Package isolation runs a tool handler in a child copy of the current
// binary with a memory ceiling and a deadline. Whatever happens to the
// child, the caller gets a typed error back.
package isolation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"warden/internal/logging"
	"warden/internal/proc"
)

// WorkerEnv marks a process started as an isolation worker.
const WorkerEnv = "WARDEN_ISOLATION_WORKER"

const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxHeap      = 256 << 20
	DefaultPollInterval = 25 * time.Millisecond

	maxResponseBytes = 32 << 20
	maxStderrBytes   = 8 << 10
)

// ErrTimeout means the worker outlived its deadline and was killed.
var ErrTimeout = errors.New("isolation: timeout")

// KilledError means the watchdog killed the worker.
type KilledError struct {
	Reason string // "max_heap"
	RSS    int64
	Limit  int64
}

func (e *KilledError) Error() string {
	return fmt.Sprintf("isolation: killed (%s): rss %d exceeded %d bytes", e.Reason, e.RSS, e.Limit)
}

// CrashedError means the worker exited without producing a response.
type CrashedError struct {
	Reason string
}

func (e *CrashedError) Error() string {
	return "isolation: crashed: " + e.Reason
}

// Request is sent to the worker on stdin.
type Request struct {
	Tool        string         `json:"tool"`
	Arguments   map[string]any `json:"arguments"`
	SessionID   string         `json:"session_id,omitempty"`
	ProjectRoot string         `json:"project_root,omitempty"`
	GrantedTier string         `json:"granted_tier,omitempty"`
	Consented   []string       `json:"consented,omitempty"`
}

type response struct {
	OK    bool            `json:"ok"`
	Value json.RawMessage `json:"value,omitempty"`
	Error string          `json:"error,omitempty"`
}

// Options configures an Executor.
type Options struct {
	MaxHeap      int64
	Timeout      time.Duration
	PollInterval time.Duration
	// Executable defaults to os.Executable(). Args are passed to it as is.
	Executable string
	Args       []string
}

// Executor starts one worker per call.
type Executor struct {
	opts Options
	log  *logging.StructuredLogger
}

func New(opts Options) (*Executor, error) {
	if opts.MaxHeap <= 0 {
		opts.MaxHeap = DefaultMaxHeap
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Executable == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate worker executable: %w", err)
		}
		opts.Executable = exe
	}
	return &Executor{opts: opts, log: logging.NewStructuredLogger("isolation")}, nil
}

// MaxHeap reports the configured ceiling in bytes.
func (e *Executor) MaxHeap() int64 { return e.opts.MaxHeap }

// Run executes req in a fresh worker. timeout <= 0 uses the default.
func (e *Executor) Run(ctx context.Context, req Request, timeout time.Duration) (any, error) {
	if timeout <= 0 {
		timeout = e.opts.Timeout
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode isolation request: %w", err)
	}

	cmd := exec.Command(e.opts.Executable, e.opts.Args...)
	cmd.Env = append(os.Environ(),
		WorkerEnv+"=1",
		fmt.Sprintf("GOMEMLIMIT=%d", e.opts.MaxHeap*9/10),
	)
	cmd.Stdin = bytes.NewReader(payload)
	stdout := proc.NewCappedBuffer(maxResponseBytes)
	stderr := proc.NewCappedBuffer(maxStderrBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = time.Second
	proc.SetProcessGroup(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start isolation worker: %w", err)
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()

	kill := func() {
		proc.KillGroup(cmd)
		<-done
	}

	var waitErr error
loop:
	for {
		select {
		case waitErr = <-done:
			break loop
		case <-timer.C:
			kill()
			e.log.Warn("worker timed out", map[string]interface{}{"tool": req.Tool, "timeout": timeout.String()})
			return nil, ErrTimeout
		case <-ctx.Done():
			kill()
			return nil, ctx.Err()
		case <-ticker.C:
			rss, err := residentBytes(cmd.Process.Pid)
			if err != nil || rss <= e.opts.MaxHeap {
				continue
			}
			kill()
			e.log.Warn("worker exceeded memory ceiling", map[string]interface{}{"tool": req.Tool, "rss": rss, "limit": e.opts.MaxHeap})
			return nil, &KilledError{Reason: "max_heap", RSS: rss, Limit: e.opts.MaxHeap}
		}
	}

	e.log.Debug("worker finished", map[string]interface{}{"tool": req.Tool, "duration_ms": time.Since(start).Milliseconds()})

	var resp response
	if out := stdout.String(); !stdout.Truncated() && strings.TrimSpace(out) != "" {
		if err := json.Unmarshal([]byte(out), &resp); err == nil {
			if !resp.OK {
				return nil, errors.New(resp.Error)
			}
			var value any
			if len(resp.Value) > 0 {
				if err := json.Unmarshal(resp.Value, &value); err != nil {
					return nil, fmt.Errorf("decode isolation result: %w", err)
				}
			}
			return value, nil
		}
	}
	if stdout.Truncated() {
		return nil, &CrashedError{Reason: "response exceeded size limit"}
	}
	return nil, &CrashedError{Reason: crashReason(waitErr, stderr.String())}
}

func crashReason(waitErr error, stderr string) string {
	stderr = strings.TrimSpace(stderr)
	if line, _, _ := strings.Cut(stderr, "\n"); line != "" {
		return line
	}
	if waitErr != nil {
		return waitErr.Error()
	}
	return "worker exited without a response"
}
