package script

import (
	"context"

	lua "github.com/yuin/gopher-lua"

	"warden/internal/bridge"
)

// registerBridge installs the global sandbox table. Each function returns
// its result, or nil and an error message.
func (r *Runtime) registerBridge() {
	tbl := r.L.NewTable()
	r.L.SetFuncs(tbl, map[string]lua.LGFunction{
		"read":    r.read,
		"write":   r.write,
		"edit":    r.edit,
		"grep":    r.grep,
		"list":    r.list,
		"glob":    r.glob,
		"exists":  r.exists,
		"stat":    r.stat,
		"is_file": r.isFile,
		"is_dir":  r.isDir,
		"delete":  r.delete,
		"mkdir_p": r.mkdirP,
		"shell":   r.shell,
		"git":     r.git,
	})
	r.L.SetGlobal("sandbox", tbl)
}

func fail(L *lua.LState, err error) int {
	L.Push(lua.LNil)
	L.Push(lua.LString(err.Error()))
	return 2
}

func ok(L *lua.LState, v any) int {
	L.Push(toLua(L, v))
	return 1
}

func (r *Runtime) ctx() context.Context {
	if ctx := r.L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func (r *Runtime) read(L *lua.LState) int {
	res, err := r.bridge.Read(L.CheckString(1), L.OptInt(2, 0), L.OptInt(3, 0))
	if err != nil {
		return fail(L, err)
	}
	return ok(L, res)
}

func (r *Runtime) write(L *lua.LState) int {
	res, err := r.bridge.Write(L.CheckString(1), L.CheckString(2))
	if err != nil {
		return fail(L, err)
	}
	return ok(L, res)
}

// edit(path, old, new, replace_all?)
func (r *Runtime) edit(L *lua.LState) int {
	res, err := r.bridge.Edit(L.CheckString(1), L.CheckString(2), L.CheckString(3), L.OptBool(4, false))
	if err != nil {
		return fail(L, err)
	}
	return ok(L, res)
}

// grep(pattern, dir?, glob?)
func (r *Runtime) grep(L *lua.LState) int {
	res, err := r.bridge.Grep(r.ctx(), L.CheckString(1), L.OptString(2, ""), bridge.GrepOptions{Glob: L.OptString(3, "")})
	if err != nil {
		return fail(L, err)
	}
	return ok(L, res)
}

func (r *Runtime) list(L *lua.LState) int {
	entries, err := r.bridge.List(L.OptString(1, ""))
	if err != nil {
		return fail(L, err)
	}
	return ok(L, entries)
}

func (r *Runtime) glob(L *lua.LState) int {
	matches, err := r.bridge.Glob(L.CheckString(1), L.OptString(2, ""), L.OptInt(3, 0))
	if err != nil {
		return fail(L, err)
	}
	return ok(L, matches)
}

func (r *Runtime) exists(L *lua.LState) int {
	found, err := r.bridge.Exists(L.CheckString(1))
	if err != nil {
		return fail(L, err)
	}
	return ok(L, found)
}

func (r *Runtime) stat(L *lua.LState) int {
	info, err := r.bridge.Stat(L.CheckString(1))
	if err != nil {
		return fail(L, err)
	}
	return ok(L, info)
}

func (r *Runtime) isFile(L *lua.LState) int {
	res, err := r.bridge.IsFile(L.CheckString(1))
	if err != nil {
		return fail(L, err)
	}
	return ok(L, res)
}

func (r *Runtime) isDir(L *lua.LState) int {
	res, err := r.bridge.IsDir(L.CheckString(1))
	if err != nil {
		return fail(L, err)
	}
	return ok(L, res)
}

func (r *Runtime) delete(L *lua.LState) int {
	if !r.opts.AllowDelete {
		L.Push(lua.LNil)
		L.Push(lua.LString("permission denied: delete needs the destructive tier and consent for delete_file"))
		return 2
	}
	if err := r.bridge.Delete(L.CheckString(1), L.OptBool(2, false)); err != nil {
		return fail(L, err)
	}
	return ok(L, true)
}

func (r *Runtime) mkdirP(L *lua.LState) int {
	rel, err := r.bridge.MkdirP(L.CheckString(1))
	if err != nil {
		return fail(L, err)
	}
	return ok(L, rel)
}

// shell accepts sandbox.shell("ls", {"-la"}) or sandbox.shell("ls -la").
func (r *Runtime) shell(L *lua.LState) int {
	command := L.CheckString(1)
	var (
		res any
		err error
	)
	if argTable, isTable := L.Get(2).(*lua.LTable); isTable {
		args, convErr := stringList(argTable)
		if convErr != nil {
			return fail(L, convErr)
		}
		res, err = r.bridge.Shell(r.ctx(), command, args)
	} else {
		res, err = r.bridge.ShellLine(r.ctx(), command)
	}
	if err != nil {
		return fail(L, err)
	}
	return ok(L, res)
}

func (r *Runtime) git(L *lua.LState) int {
	sub := L.CheckString(1)
	var args []string
	if argTable, isTable := L.Get(2).(*lua.LTable); isTable {
		var err error
		if args, err = stringList(argTable); err != nil {
			return fail(L, err)
		}
	}
	opts := bridge.GitOptions{AllowDestructive: r.opts.AllowDestructiveGit && L.OptBool(3, false)}
	res, err := r.bridge.Git(r.ctx(), sub, args, opts)
	if err != nil {
		return fail(L, err)
	}
	return ok(L, res)
}
