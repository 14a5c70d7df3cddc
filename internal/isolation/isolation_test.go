package isolation

import (
	"bytes"
	"context"
	"errors"
	"os"
	"runtime"
	"strings"
	"testing"
	"time"
)

var retained [][]byte

func testLookup(tool string) (HandlerFunc, bool) {
	switch tool {
	case "echo":
		return func(ctx context.Context, req Request) (any, error) {
			return map[string]any{"tool": req.Tool, "args": req.Arguments, "session": req.SessionID}, nil
		}, true
	case "fail":
		return func(ctx context.Context, req Request) (any, error) {
			return nil, errors.New("handler failed")
		}, true
	case "hang":
		return func(ctx context.Context, req Request) (any, error) {
			time.Sleep(time.Hour)
			return nil, nil
		}, true
	case "panic":
		return func(ctx context.Context, req Request) (any, error) {
			panic("worker exploded")
		}, true
	case "hog":
		return func(ctx context.Context, req Request) (any, error) {
			for i := 0; i < 256; i++ {
				chunk := make([]byte, 8<<20)
				for j := range chunk {
					chunk[j] = byte(j)
				}
				retained = append(retained, chunk)
				time.Sleep(5 * time.Millisecond)
			}
			return len(retained), nil
		}, true
	}
	return nil, false
}

func TestMain(m *testing.M) {
	if IsWorker() {
		os.Exit(Serve(testLookup))
	}
	os.Exit(m.Run())
}

func newTestExecutor(t *testing.T, maxHeap int64) *Executor {
	t.Helper()
	e, err := New(Options{MaxHeap: maxHeap, PollInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestRunReturnsValue(t *testing.T) {
	e := newTestExecutor(t, 0)
	got, err := e.Run(context.Background(), Request{
		Tool:      "echo",
		Arguments: map[string]any{"path": "a.txt"},
		SessionID: "s1",
	}, 10*time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	m, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("unexpected result type %T", got)
	}
	if m["tool"] != "echo" || m["session"] != "s1" {
		t.Fatalf("unexpected result %v", m)
	}
	args, _ := m["args"].(map[string]any)
	if args["path"] != "a.txt" {
		t.Fatalf("arguments not forwarded: %v", m["args"])
	}
}

func TestRunHandlerError(t *testing.T) {
	e := newTestExecutor(t, 0)
	_, err := e.Run(context.Background(), Request{Tool: "fail"}, 10*time.Second)
	if err == nil || err.Error() != "handler failed" {
		t.Fatalf("expected handler error, got %v", err)
	}

	_, err = e.Run(context.Background(), Request{Tool: "missing"}, 10*time.Second)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestRunTimeout(t *testing.T) {
	e := newTestExecutor(t, 0)
	start := time.Now()
	_, err := e.Run(context.Background(), Request{Tool: "hang"}, 300*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("timeout took too long: %s", elapsed)
	}
}

func TestRunCrash(t *testing.T) {
	e := newTestExecutor(t, 0)
	_, err := e.Run(context.Background(), Request{Tool: "panic"}, 10*time.Second)
	var crashed *CrashedError
	if !errors.As(err, &crashed) {
		t.Fatalf("expected CrashedError, got %v", err)
	}
	if !strings.Contains(crashed.Reason, "worker exploded") {
		t.Fatalf("crash reason should carry the panic, got %q", crashed.Reason)
	}
}

func TestRunMaxHeap(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("resident set watchdog needs /proc")
	}
	e := newTestExecutor(t, 64<<20)
	_, err := e.Run(context.Background(), Request{Tool: "hog"}, 30*time.Second)
	var killed *KilledError
	if !errors.As(err, &killed) {
		t.Fatalf("expected KilledError, got %v", err)
	}
	if killed.Reason != "max_heap" {
		t.Fatalf("unexpected reason %q", killed.Reason)
	}
}

func TestRunContextCancel(t *testing.T) {
	e := newTestExecutor(t, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := e.Run(ctx, Request{Tool: "hang"}, time.Minute)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context error, got %v", err)
	}
}

func TestServeIOBadRequest(t *testing.T) {
	var out bytes.Buffer
	if code := ServeIO(context.Background(), testLookup, strings.NewReader("not json"), &out); code != 2 {
		t.Fatalf("expected exit code 2, got %d", code)
	}
}
