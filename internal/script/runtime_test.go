package script

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"warden/internal/boundary"
	"warden/internal/bridge"
)

func newTestRuntime(t *testing.T, opts Options) (*Runtime, boundary.Root) {
	t.Helper()
	root, err := boundary.NewRoot(t.TempDir())
	if err != nil {
		t.Fatalf("NewRoot: %v", err)
	}
	rt := New(bridge.New(root, bridge.Options{ShellTimeout: 5 * time.Second}), opts)
	t.Cleanup(rt.Close)
	return rt, root
}

func TestDangerousBuiltinsRemoved(t *testing.T) {
	rt, _ := newTestRuntime(t, Options{})

	code := `
local names = {}
local checks = {
  dofile = dofile, loadfile = loadfile, load = load, loadstring = loadstring,
  require = require, module = module,
  io = io, package = package, debug = debug, coroutine = coroutine, channel = channel,
  os_execute = os.execute, os_exit = os.exit, os_remove = os.remove,
  os_rename = os.rename, os_getenv = os.getenv, os_tmpname = os.tmpname,
}
for _, name in ipairs({"dofile","loadfile","load","loadstring","require","module","io","package","debug","coroutine","channel","os_execute","os_exit","os_remove","os_rename","os_getenv","os_tmpname"}) do
  if checks[name] ~= nil then table.insert(names, name) end
end
return names
`
	res, err := rt.Run(context.Background(), code)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if m, isMap := res.Value.(map[string]any); isMap && len(m) == 0 {
		return
	}
	t.Fatalf("builtins still reachable: %v", res.Value)
}

func TestSafeLibrariesAvailable(t *testing.T) {
	rt, _ := newTestRuntime(t, Options{})
	res, err := rt.Run(context.Background(), `return string.upper("ok") .. math.floor(2.7) .. #table.concat({"a","b"})`)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Value != "OK22" {
		t.Fatalf("unexpected value %v", res.Value)
	}
}

func TestBridgeReadWrite(t *testing.T) {
	rt, root := newTestRuntime(t, Options{})

	code := `
local w, err = sandbox.write("notes/a.txt", "alpha\nbeta\n")
if not w then return err end
local r, err2 = sandbox.read("notes/a.txt", 2, 1)
if not r then return err2 end
return {bytes = w.bytes, content = r.content, total = r.total_lines, exists = sandbox.exists("notes/a.txt")}
`
	res, err := rt.Run(context.Background(), code)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := map[string]any{
		"bytes":   int64(11),
		"content": "     2\tbeta\n",
		"total":   int64(2),
		"exists":  true,
	}
	if diff := cmp.Diff(want, res.Value); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(filepath.Join(string(root), "notes", "a.txt")); err != nil {
		t.Fatalf("file not written: %v", err)
	}
}

func TestBridgeErrorsReturnNilAndMessage(t *testing.T) {
	rt, _ := newTestRuntime(t, Options{})
	res, err := rt.Run(context.Background(), `
local v, msg = sandbox.read("../../etc/passwd")
return {v == nil, msg}
`)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	list, isList := res.Value.([]any)
	if !isList || len(list) != 2 || list[0] != true {
		t.Fatalf("unexpected result %v", res.Value)
	}
	if msg, _ := list[1].(string); !strings.Contains(msg, "path_escapes_boundary") {
		t.Fatalf("unexpected message %v", list[1])
	}
}

func TestShellAndGitGuards(t *testing.T) {
	rt, _ := newTestRuntime(t, Options{})
	res, err := rt.Run(context.Background(), `
local _, a = sandbox.shell("bash", {"-c", "id"})
local _, b = sandbox.git("push", {"--force", "origin", "main"}, true)
return {a, b}
`)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	list, _ := res.Value.([]any)
	if len(list) != 2 {
		t.Fatalf("unexpected result %v", res.Value)
	}
	if msg, _ := list[0].(string); !strings.Contains(msg, "shell_interpreter_blocked") {
		t.Fatalf("shell not blocked: %v", list[0])
	}
	if msg, _ := list[1].(string); !strings.Contains(msg, "destructive_blocked") {
		t.Fatalf("destructive git not blocked without permission: %v", list[1])
	}
}

func TestDeleteGatedByOption(t *testing.T) {
	for _, allow := range []bool{false, true} {
		rt, root := newTestRuntime(t, Options{AllowDelete: allow})
		if err := os.WriteFile(filepath.Join(string(root), "gone.txt"), []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		res, err := rt.Run(context.Background(), `
local ok, msg = sandbox.delete("gone.txt")
return {ok == true, msg or ""}
`)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		list, _ := res.Value.([]any)
		if len(list) != 2 || list[0] != allow {
			t.Fatalf("AllowDelete=%v: unexpected result %v", allow, res.Value)
		}
		_, statErr := os.Stat(filepath.Join(string(root), "gone.txt"))
		if os.IsNotExist(statErr) != allow {
			t.Fatalf("AllowDelete=%v: file removal mismatch (%v)", allow, statErr)
		}
		if !allow {
			if msg, _ := list[1].(string); !strings.Contains(msg, "permission denied") {
				t.Fatalf("unexpected message %v", list[1])
			}
		}
	}
}

func TestPrintCaptured(t *testing.T) {
	rt, _ := newTestRuntime(t, Options{})
	res, err := rt.Run(context.Background(), `print("hello", 42) return nil`)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Output != "hello\t42\n" {
		t.Fatalf("unexpected output %q", res.Output)
	}
}

func TestContextCancelStopsScript(t *testing.T) {
	rt, _ := newTestRuntime(t, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := rt.Run(ctx, `while true do end`)
	if err == nil {
		t.Fatal("expected error from cancelled script")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("script was not interrupted")
	}

	// The state is still usable afterwards.
	res, err := rt.Run(context.Background(), `return 1 + 1`)
	if err != nil || res.Value != int64(2) {
		t.Fatalf("runtime unusable after cancel: %v, %v", res.Value, err)
	}
}

func TestStringRepCapped(t *testing.T) {
	rt, _ := newTestRuntime(t, Options{})
	if _, err := rt.Run(context.Background(), `return string.rep("x", 1e9)`); err == nil {
		t.Fatal("expected string.rep cap to trigger")
	}
	res, err := rt.Run(context.Background(), `return string.rep("ab", 3, "-")`)
	if err != nil || res.Value != "ab-ab-ab" {
		t.Fatalf("string.rep = %v, %v", res.Value, err)
	}
}

func TestCompileError(t *testing.T) {
	rt, _ := newTestRuntime(t, Options{})
	if _, err := rt.Run(context.Background(), `return (`); err == nil || !strings.Contains(err.Error(), "compile") {
		t.Fatalf("expected compile error, got %v", err)
	}
}

func TestEditAndGrep(t *testing.T) {
	rt, root := newTestRuntime(t, Options{})
	if err := os.WriteFile(filepath.Join(string(root), "cfg.txt"), []byte("mode = debug\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	res, err := rt.Run(context.Background(), `
local e, err = sandbox.edit("cfg.txt", "debug", "release")
if not e then return err end
local g = sandbox.grep("release")
return g.matches[1].path .. ":" .. g.matches[1].line
`)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Value != "cfg.txt:1" {
		t.Fatalf("unexpected result %v", res.Value)
	}
}
