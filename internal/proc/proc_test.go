package proc

import (
	"context"
	"os"
	"os/exec"
	"slices"
	"strings"
	"testing"
	"time"
)

func requireBinary(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available: %v", name, err)
	}
}

func TestRunCapturesOutput(t *testing.T) {
	requireBinary(t, "echo")
	dir := t.TempDir()

	res, err := Run(context.Background(), Spec{
		Name: "echo",
		Args: []string{"hello", "world"},
		Dir:  dir,
		Env:  SafeEnv(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("unexpected exit code %d", res.ExitCode)
	}
	if strings.TrimSpace(res.Output) != "hello world" {
		t.Fatalf("unexpected output %q", res.Output)
	}
}

func TestRunTimeoutKills(t *testing.T) {
	requireBinary(t, "sleep")
	dir := t.TempDir()

	start := time.Now()
	res, err := Run(context.Background(), Spec{
		Name:    "sleep",
		Args:    []string{"30"},
		Dir:     dir,
		Env:     SafeEnv(),
		Timeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.TimedOut {
		t.Fatal("expected timeout")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("timeout not enforced, took %s", elapsed)
	}
}

func TestRunNonZeroExit(t *testing.T) {
	requireBinary(t, "ls")
	dir := t.TempDir()

	res, err := Run(context.Background(), Spec{
		Name: "ls",
		Args: []string{"definitely-missing"},
		Dir:  dir,
		Env:  SafeEnv(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode == 0 {
		t.Fatal("expected non-zero exit")
	}
}

func TestRunMissingBinary(t *testing.T) {
	if _, err := Run(context.Background(), Spec{Name: "warden-no-such-binary"}); err == nil {
		t.Fatal("expected start error")
	}
}

func TestCappedBuffer(t *testing.T) {
	b := NewCappedBuffer(5)
	n, err := b.Write([]byte("hello world"))
	if err != nil || n != 11 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if !b.Truncated() {
		t.Fatal("expected truncation")
	}
	if got := b.String(); got != "hello"+TruncationMarker {
		t.Fatalf("unexpected content %q", got)
	}
}

func TestSafeEnvDoesNotInherit(t *testing.T) {
	t.Setenv("WARDEN_TEST_SECRET", "leak")
	t.Setenv("HOME", t.TempDir())
	env := SafeEnv()
	for _, kv := range env {
		if strings.HasPrefix(kv, "WARDEN_TEST_SECRET=") {
			t.Fatal("host environment leaked into subprocess env")
		}
		if kv == "HOME="+os.Getenv("HOME") {
			t.Fatal("host HOME leaked into subprocess env")
		}
	}
	for _, want := range []string{"GIT_CONFIG_NOSYSTEM=1", "GIT_CONFIG_GLOBAL=" + os.DevNull} {
		if !slices.Contains(env, want) {
			t.Fatalf("missing %s in %v", want, env)
		}
	}
}
