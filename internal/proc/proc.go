// Package proc runs allowlisted subprocesses under a deadline with a
// bounded output capture and a scrubbed environment.
package proc

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"
)

const (
	DefaultTimeout   = 60 * time.Second
	DefaultMaxOutput = 1 << 20

	// waitDelay bounds how long Wait lingers on pipes held open by
	// grandchildren after the process group was killed.
	waitDelay = 2 * time.Second
)

// Spec describes one subprocess invocation.
type Spec struct {
	Name      string
	Args      []string
	Dir       string
	Env       []string
	Timeout   time.Duration
	MaxOutput int
}

// Result is the outcome of a process that started.
type Result struct {
	ExitCode  int           `json:"exit_code"`
	Output    string        `json:"output"`
	Truncated bool          `json:"truncated,omitempty"`
	TimedOut  bool          `json:"timed_out,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
}

// Run starts spec and waits for it. stdout and stderr share one capped
// buffer. On deadline the whole process group is killed before Run
// returns. An error means the process never started or the caller's
// context was cancelled.
func Run(ctx context.Context, spec Spec) (Result, error) {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxOutput := spec.MaxOutput
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutput
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.Command(spec.Name, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	if cmd.Env == nil {
		cmd.Env = []string{}
	}
	cmd.Stdin = nil
	buf := NewCappedBuffer(maxOutput)
	cmd.Stdout = buf
	cmd.Stderr = buf
	cmd.WaitDelay = waitDelay
	SetProcessGroup(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, err
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var (
		waitErr  error
		timedOut bool
	)
	select {
	case waitErr = <-done:
	case <-runCtx.Done():
		KillGroup(cmd)
		waitErr = <-done
		timedOut = errors.Is(runCtx.Err(), context.DeadlineExceeded)
	}

	res := Result{
		ExitCode:  -1,
		Output:    buf.String(),
		Truncated: buf.Truncated(),
		TimedOut:  timedOut,
		Duration:  time.Since(start),
	}
	if ps := cmd.ProcessState; ps != nil {
		res.ExitCode = ps.ExitCode()
	}
	if !timedOut && ctx.Err() != nil {
		return res, ctx.Err()
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) && !timedOut && !errors.Is(waitErr, exec.ErrWaitDelay) {
		return res, waitErr
	}
	return res, nil
}

// emptyHome is a private HOME shared by every subprocess, so no dotfile
// in the project or the user's home is read as configuration.
var emptyHome = sync.OnceValue(func() string {
	dir, err := os.MkdirTemp("", "warden-home-")
	if err != nil {
		return os.DevNull
	}
	return dir
})

// SafeEnv builds the complete environment for a subprocess. Nothing from
// the host environment is inherited apart from PATH and LANG, and git is
// cut off from system and global config.
func SafeEnv() []string {
	path := os.Getenv("PATH")
	if path == "" {
		path = defaultPath()
	}
	lang := os.Getenv("LANG")
	if lang == "" {
		lang = "C.UTF-8"
	}
	home := emptyHome()
	env := []string{
		"PATH=" + path,
		"HOME=" + home,
		"XDG_CONFIG_HOME=" + home,
		"LANG=" + lang,
		"TERM=dumb",
		"GIT_TERMINAL_PROMPT=0",
		"GIT_PAGER=cat",
		"GIT_CONFIG_NOSYSTEM=1",
		"GIT_CONFIG_GLOBAL=" + os.DevNull,
		"PAGER=cat",
		"NO_COLOR=1",
	}
	if runtime.GOOS == "windows" {
		if sysRoot := os.Getenv("SystemRoot"); sysRoot != "" {
			env = append(env, "SystemRoot="+sysRoot)
		}
	}
	return env
}

func defaultPath() string {
	if runtime.GOOS == "windows" {
		return `C:\Windows\System32`
	}
	return "/usr/local/bin:/usr/bin:/bin"
}
