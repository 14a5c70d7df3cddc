package background

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"

	"warden/internal/boundary"
	"warden/internal/security"
)

func newTestRoot(t *testing.T) boundary.Root {
	t.Helper()
	root, err := boundary.NewRoot(t.TempDir())
	if err != nil {
		t.Fatalf("NewRoot: %v", err)
	}
	return root
}

func requireCommand(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available", name)
	}
}

func TestRingBufferKeepsNewestBytes(t *testing.T) {
	r := newRingBuffer(8)
	r.Write([]byte("abcd"))
	if got := r.String(); got != "abcd" {
		t.Fatalf("unexpected content %q", got)
	}
	r.Write([]byte("efghij"))
	if got := r.String(); got != TruncationMarker+"cdefghij" {
		t.Fatalf("unexpected content %q", got)
	}
	r.Write([]byte("0123456789"))
	if got := r.String(); got != TruncationMarker+"23456789" {
		t.Fatalf("unexpected content %q", got)
	}
}

func TestStartAndCollectOutput(t *testing.T) {
	requireCommand(t, "echo")
	reg := NewRegistry(0)
	defer reg.Shutdown()

	id, err := reg.Start("echo", []string{"hello"}, "s1", newTestRoot(t))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	snap, err := reg.GetOutput(context.Background(), id, true, 10*time.Second)
	if err != nil {
		t.Fatalf("GetOutput: %v", err)
	}
	if snap.Status != Completed {
		t.Fatalf("expected completed, got %s", snap.Status)
	}
	if snap.ExitCode == nil || *snap.ExitCode != 0 {
		t.Fatalf("unexpected exit code %v", snap.ExitCode)
	}
	if strings.TrimSpace(snap.Output) != "hello" {
		t.Fatalf("unexpected output %q", snap.Output)
	}
}

func TestFailedCommand(t *testing.T) {
	requireCommand(t, "false")
	reg := NewRegistry(0)
	defer reg.Shutdown()

	id, err := reg.Start("false", nil, "s1", newTestRoot(t))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	snap, err := reg.GetOutput(context.Background(), id, true, 10*time.Second)
	if err != nil {
		t.Fatalf("GetOutput: %v", err)
	}
	if snap.Status != Failed || snap.ExitCode == nil || *snap.ExitCode != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestKillRunningCommand(t *testing.T) {
	requireCommand(t, "sleep")
	reg := NewRegistry(0)
	defer reg.Shutdown()

	id, err := reg.Start("sleep", []string{"30"}, "s1", newTestRoot(t))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	snap, err := reg.GetOutput(context.Background(), id, true, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("GetOutput: %v", err)
	}
	if snap.Status != Running {
		t.Fatalf("expected running after short wait, got %s", snap.Status)
	}

	snap, err = reg.Kill(id)
	if err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if snap.Status != Killed {
		t.Fatalf("expected killed, got %s", snap.Status)
	}
}

func TestKillAfterNormalExitKeepsExitCode(t *testing.T) {
	requireCommand(t, "true")
	reg := NewRegistry(0)
	defer reg.Shutdown()

	id, err := reg.Start("true", nil, "s1", newTestRoot(t))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	s, err := reg.get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	// A kill that lands after the process already exited on its own.
	s.mu.Lock()
	s.killed = true
	s.mu.Unlock()

	snap, err := reg.GetOutput(context.Background(), id, true, 5*time.Second)
	if err != nil {
		t.Fatalf("GetOutput: %v", err)
	}
	if snap.Status != Completed {
		t.Fatalf("expected completed, got %s", snap.Status)
	}
	if snap.ExitCode == nil || *snap.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %v", snap.ExitCode)
	}

	snap, err = reg.Kill(id)
	if err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if snap.Status != Completed {
		t.Fatalf("kill after exit changed status to %s", snap.Status)
	}
}

func TestListAndRemove(t *testing.T) {
	requireCommand(t, "sleep")
	reg := NewRegistry(0)
	defer reg.Shutdown()
	root := newTestRoot(t)

	a, err := reg.Start("sleep", []string{"30"}, "s1", root)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := reg.Start("sleep", []string{"30"}, "s2", root); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if got := len(reg.List("s1")); got != 1 {
		t.Fatalf("expected 1 command for s1, got %d", got)
	}
	if got := len(reg.List("")); got != 2 {
		t.Fatalf("expected 2 commands overall, got %d", got)
	}

	if err := reg.Remove(a); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := reg.GetOutput(context.Background(), a, false, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after remove, got %v", err)
	}

	reg.Shutdown()
	for _, snap := range reg.List("") {
		if snap.Status != Killed {
			t.Fatalf("expected killed after shutdown, got %s", snap.Status)
		}
	}
}

func TestStartRejectsUnsafeCommands(t *testing.T) {
	reg := NewRegistry(0)
	root := newTestRoot(t)

	tests := []struct {
		command string
		args    []string
		want    security.Kind
	}{
		{"bash", []string{"-c", "sleep 1"}, security.ShellInterpreterBlocked},
		{"curl", nil, security.CommandNotAllowed},
		{"cat", []string{"/etc/shadow"}, security.PathOutsideBoundary},
		{"git", []string{"push", "--force"}, security.DestructiveBlocked},
		{"find", []string{".", "-exec", "rm", "{}", ";"}, security.CommandNotAllowed},
	}
	for _, tt := range tests {
		if _, err := reg.Start(tt.command, tt.args, "s1", root); !security.IsKind(err, tt.want) {
			t.Fatalf("Start(%s %v): expected %s, got %v", tt.command, tt.args, tt.want, err)
		}
	}
	if got := len(reg.List("")); got != 0 {
		t.Fatalf("rejected commands must not be registered, got %d", got)
	}
}
