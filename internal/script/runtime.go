// Package script hosts agent-authored Lua with every escape hatch removed.
// The only way out of the interpreter is the global sandbox table, whose
// functions all go through the bridge.
package script

import (
	"context"
	"fmt"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"warden/internal/bridge"
)

const (
	maxOutputBytes = 64 * 1024
	maxRepeatBytes = 1 << 20
)

// removedGlobals are base functions that load code or touch the host.
var removedGlobals = []string{
	"dofile", "loadfile", "load", "loadstring", "require", "module", "newproxy",
}

// removedOS are os functions that spawn, exit or touch files and env.
var removedOS = []string{
	"execute", "exit", "remove", "rename", "tmpname", "getenv", "setenv", "setlocale",
}

// Options tune a Runtime.
type Options struct {
	// AllowDestructiveGit honors sandbox.git(..., true). Without it the
	// flag is ignored and destructive git calls fail.
	AllowDestructiveGit bool
	// AllowDelete enables sandbox.delete. It mirrors what delete_file
	// needs: the destructive tier plus consent.
	AllowDelete bool
}

// Result is what a script returned plus anything it printed.
type Result struct {
	Value  any    `json:"value"`
	Output string `json:"output,omitempty"`
}

// Runtime owns one Lua state bound to one bridge. It is safe for
// sequential use from multiple goroutines.
type Runtime struct {
	mu     sync.Mutex
	L      *lua.LState
	bridge *bridge.Bridge
	opts   Options
	out    strings.Builder
}

// New builds a restricted interpreter. Only base, table, string, math and
// a trimmed os are opened; io, package, debug, coroutine and channel never are.
func New(b *bridge.Bridge, opts Options) *Runtime {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:    true,
		CallStackSize:   200,
		RegistryMaxSize: 256 * 1024,
	})
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
		{lua.OsLibName, lua.OpenOs},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}

	r := &Runtime{L: L, bridge: b, opts: opts}
	r.restrict()
	r.registerBridge()
	return r
}

func (r *Runtime) restrict() {
	L := r.L
	for _, name := range removedGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	if osTable, ok := L.GetGlobal(lua.OsLibName).(*lua.LTable); ok {
		for _, name := range removedOS {
			osTable.RawSetString(name, lua.LNil)
		}
	}
	if strTable, ok := L.GetGlobal(lua.StringLibName).(*lua.LTable); ok {
		strTable.RawSetString("rep", L.NewFunction(safeRep))
	}
	L.SetGlobal("print", L.NewFunction(r.print))
}

// safeRep is string.rep with a cap on the result size.
func safeRep(L *lua.LState) int {
	s := L.CheckString(1)
	n := L.CheckInt(2)
	sep := L.OptString(3, "")
	if n <= 0 {
		L.Push(lua.LString(""))
		return 1
	}
	if int64(len(s)+len(sep))*int64(n) > maxRepeatBytes {
		L.RaiseError("string.rep result exceeds %d bytes", maxRepeatBytes)
		return 0
	}
	parts := make([]string, n)
	for i := range parts {
		parts[i] = s
	}
	L.Push(lua.LString(strings.Join(parts, sep)))
	return 1
}

func (r *Runtime) print(L *lua.LState) int {
	top := L.GetTop()
	parts := make([]string, 0, top)
	for i := 1; i <= top; i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	if r.out.Len() < maxOutputBytes {
		line := strings.Join(parts, "\t") + "\n"
		if room := maxOutputBytes - r.out.Len(); len(line) > room {
			line = line[:room]
		}
		r.out.WriteString(line)
	}
	return 0
}

// Run executes code and converts its first return value to Go. ctx
// cancellation stops the script.
func (r *Runtime) Run(ctx context.Context, code string) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.out.Reset()
	r.L.SetContext(ctx)
	defer r.L.RemoveContext()

	fn, err := r.L.LoadString(code)
	if err != nil {
		return Result{}, fmt.Errorf("compile script: %w", err)
	}
	top := r.L.GetTop()
	r.L.Push(fn)
	if err := r.L.PCall(0, 1, nil); err != nil {
		r.L.SetTop(top)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{Output: r.out.String()}, ctxErr
		}
		return Result{Output: r.out.String()}, fmt.Errorf("run script: %w", err)
	}
	ret := r.L.Get(-1)
	r.L.SetTop(top)
	return Result{Value: fromLua(ret, 0), Output: r.out.String()}, nil
}

// Close releases the interpreter.
func (r *Runtime) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.L.Close()
}
