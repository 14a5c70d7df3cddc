package tooling

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"warden/internal/background"
	"warden/internal/boundary"
	"warden/internal/bridge"
	"warden/internal/script"
	"warden/internal/security"
)

// BuiltinOptions configures the built-in tools.
type BuiltinOptions struct {
	ShellTimeout time.Duration
	MaxOutput    int
	// Background enables the shell_background family when set.
	Background        *background.Registry
	OutputWaitTimeout time.Duration
}

type builtins struct {
	opts BuiltinOptions
}

// Builtins returns the built-in catalogue.
func Builtins(opts BuiltinOptions) []Tool {
	if opts.OutputWaitTimeout <= 0 {
		opts.OutputWaitTimeout = 30 * time.Second
	}
	b := builtins{opts: opts}
	tools := []Tool{
		{
			Name:        "read_file",
			Description: "Read a text file inside the project. Lines are numbered; use offset/limit to page.",
			Params: []Param{
				{Name: "path", Type: TypeString, Required: true, Description: "File path relative to the project root."},
				{Name: "offset", Type: TypeInteger, Description: "1-based first line."},
				{Name: "limit", Type: TypeInteger, Description: "Maximum number of lines."},
			},
			Tier:    security.TierReadOnly,
			Handler: HandlerFunc(b.readFile),
		},
		{
			Name:        "write_file",
			Description: "Create or replace a file inside the project.",
			Params: []Param{
				{Name: "path", Type: TypeString, Required: true},
				{Name: "content", Type: TypeString, Required: true},
			},
			Tier:    security.TierMutating,
			Handler: HandlerFunc(b.writeFile),
		},
		{
			Name: "edit_file",
			Description: "Replace an exact string in a file. old_string must match exactly, including whitespace, " +
				"and be unique unless replace_all is set. Read the file first.",
			Params: []Param{
				{Name: "path", Type: TypeString, Required: true},
				{Name: "old_string", Type: TypeString, Required: true},
				{Name: "new_string", Type: TypeString, Required: true},
				{Name: "replace_all", Type: TypeBoolean, Default: false},
			},
			Tier:    security.TierMutating,
			Handler: HandlerFunc(b.editFile),
		},
		{
			Name:        "list_directory",
			Description: "List a directory inside the project.",
			Params: []Param{
				{Name: "path", Type: TypeString, Default: "."},
			},
			Tier:    security.TierReadOnly,
			Handler: HandlerFunc(b.listDirectory),
		},
		{
			Name:        "glob",
			Description: "Find files matching a pattern such as **/*.go, newest first.",
			Params: []Param{
				{Name: "pattern", Type: TypeString, Required: true},
				{Name: "path", Type: TypeString, Description: "Directory to search from."},
				{Name: "max_results", Type: TypeInteger},
			},
			Tier:    security.TierReadOnly,
			Handler: HandlerFunc(b.glob),
		},
		{
			Name:        "search_files",
			Description: "Search text files for a regular expression and return matching lines with line numbers.",
			Params: []Param{
				{Name: "pattern", Type: TypeString, Required: true},
				{Name: "path", Type: TypeString, Description: "Directory to search from."},
				{Name: "glob", Type: TypeString, Description: "Only search files matching this pattern, e.g. **/*.go."},
				{Name: "case_insensitive", Type: TypeBoolean, Default: false},
				{Name: "max_results", Type: TypeInteger},
			},
			Tier:    security.TierReadOnly,
			Handler: HandlerFunc(b.searchFiles),
		},
		{
			Name:        "file_info",
			Description: "Report type, size, mode and modification time of a path.",
			Params: []Param{
				{Name: "path", Type: TypeString, Required: true},
			},
			Tier:    security.TierReadOnly,
			Handler: HandlerFunc(b.fileInfo),
		},
		{
			Name:        "delete_file",
			Description: "Delete a file, or a directory tree with recursive=true.",
			Params: []Param{
				{Name: "path", Type: TypeString, Required: true},
				{Name: "recursive", Type: TypeBoolean, Default: false},
			},
			Tier:            security.TierDestructive,
			RequiresConsent: true,
			Handler:         HandlerFunc(b.deleteFile),
		},
		{
			Name:        "make_directory",
			Description: "Create a directory and any missing parents.",
			Params: []Param{
				{Name: "path", Type: TypeString, Required: true},
			},
			Tier:    security.TierMutating,
			Handler: HandlerFunc(b.makeDirectory),
		},
		{
			Name: "run_command",
			Description: "Run an allowlisted command in the project root without a shell. " +
				"Either pass args or a single command line; pipes, redirects and substitutions are rejected.",
			Params: []Param{
				{Name: "command", Type: TypeString, Required: true},
				{Name: "args", Type: TypeArray, Items: &Param{Type: TypeString}},
			},
			Tier:    security.TierMutating,
			Handler: HandlerFunc(b.runCommand),
		},
		{
			Name:        "git_command",
			Description: "Run an allowlisted git subcommand. Destructive forms need allow_destructive and a destructive grant.",
			Params: []Param{
				{Name: "subcommand", Type: TypeString, Required: true},
				{Name: "args", Type: TypeArray, Items: &Param{Type: TypeString}},
				{Name: "allow_destructive", Type: TypeBoolean, Default: false},
			},
			Tier:    security.TierMutating,
			Handler: HandlerFunc(b.gitCommand),
		},
		{
			Name:        "run_script",
			Description: "Run a Lua script with the sandbox table (read, write, list, glob, shell, git, ...).",
			Params: []Param{
				{Name: "code", Type: TypeString, Required: true},
			},
			Tier:     security.TierMutating,
			Isolated: true,
			Handler:  HandlerFunc(b.runScript),
		},
	}
	if opts.Background != nil {
		tools = append(tools, b.backgroundTools()...)
	}
	return tools
}

func (b builtins) bridge(ec ExecContext) (*bridge.Bridge, error) {
	if ec.ProjectRoot == "" {
		return nil, errors.New("project root is not set")
	}
	return bridge.New(boundary.Root(ec.ProjectRoot), bridge.Options{
		ShellTimeout: b.opts.ShellTimeout,
		MaxOutput:    b.opts.MaxOutput,
	}), nil
}

func (b builtins) readFile(_ context.Context, args map[string]any, ec ExecContext) (any, error) {
	br, err := b.bridge(ec)
	if err != nil {
		return nil, err
	}
	path, _ := stringArg(args, "path")
	return br.Read(path, intArg(args, "offset", 0), intArg(args, "limit", 0))
}

func (b builtins) writeFile(_ context.Context, args map[string]any, ec ExecContext) (any, error) {
	br, err := b.bridge(ec)
	if err != nil {
		return nil, err
	}
	path, _ := stringArg(args, "path")
	content, _ := stringArg(args, "content")
	return br.Write(path, content)
}

func (b builtins) editFile(_ context.Context, args map[string]any, ec ExecContext) (any, error) {
	br, err := b.bridge(ec)
	if err != nil {
		return nil, err
	}
	path, _ := stringArg(args, "path")
	oldString, _ := stringArg(args, "old_string")
	newString, _ := stringArg(args, "new_string")
	return br.Edit(path, oldString, newString, boolArg(args, "replace_all", false))
}

func (b builtins) searchFiles(ctx context.Context, args map[string]any, ec ExecContext) (any, error) {
	br, err := b.bridge(ec)
	if err != nil {
		return nil, err
	}
	pattern, _ := stringArg(args, "pattern")
	dir, _ := stringArg(args, "path")
	glob, _ := stringArg(args, "glob")
	return br.Grep(ctx, pattern, dir, bridge.GrepOptions{
		Glob:            glob,
		CaseInsensitive: boolArg(args, "case_insensitive", false),
		MaxResults:      intArg(args, "max_results", 0),
	})
}

func (b builtins) listDirectory(_ context.Context, args map[string]any, ec ExecContext) (any, error) {
	br, err := b.bridge(ec)
	if err != nil {
		return nil, err
	}
	path, _ := stringArg(args, "path")
	return br.List(path)
}

func (b builtins) glob(_ context.Context, args map[string]any, ec ExecContext) (any, error) {
	br, err := b.bridge(ec)
	if err != nil {
		return nil, err
	}
	pattern, _ := stringArg(args, "pattern")
	dir, _ := stringArg(args, "path")
	return br.Glob(pattern, dir, intArg(args, "max_results", 0))
}

func (b builtins) fileInfo(_ context.Context, args map[string]any, ec ExecContext) (any, error) {
	br, err := b.bridge(ec)
	if err != nil {
		return nil, err
	}
	path, _ := stringArg(args, "path")
	return br.Stat(path)
}

func (b builtins) deleteFile(_ context.Context, args map[string]any, ec ExecContext) (any, error) {
	br, err := b.bridge(ec)
	if err != nil {
		return nil, err
	}
	path, _ := stringArg(args, "path")
	if err := br.Delete(path, boolArg(args, "recursive", false)); err != nil {
		return nil, err
	}
	return map[string]any{"deleted": path}, nil
}

func (b builtins) makeDirectory(_ context.Context, args map[string]any, ec ExecContext) (any, error) {
	br, err := b.bridge(ec)
	if err != nil {
		return nil, err
	}
	path, _ := stringArg(args, "path")
	rel, err := br.MkdirP(path)
	if err != nil {
		return nil, err
	}
	return map[string]any{"created": rel}, nil
}

func (b builtins) runCommand(ctx context.Context, args map[string]any, ec ExecContext) (any, error) {
	br, err := b.bridge(ec)
	if err != nil {
		return nil, err
	}
	command, _ := stringArg(args, "command")
	cmdArgs, err := stringSliceArg(args, "args")
	if err != nil {
		return nil, err
	}
	if _, given := args["args"]; given {
		return br.Shell(ctx, command, cmdArgs)
	}
	return br.ShellLine(ctx, command)
}

func (b builtins) gitCommand(ctx context.Context, args map[string]any, ec ExecContext) (any, error) {
	br, err := b.bridge(ec)
	if err != nil {
		return nil, err
	}
	sub, _ := stringArg(args, "subcommand")
	gitArgs, err := stringSliceArg(args, "args")
	if err != nil {
		return nil, err
	}
	allow := boolArg(args, "allow_destructive", false)
	if allow && !ec.GrantedTier.Allows(security.TierDestructive) {
		return nil, fmt.Errorf("allow_destructive requires the %s tier, session has %s", security.TierDestructive, ec.GrantedTier)
	}
	return br.Git(ctx, sub, gitArgs, bridge.GitOptions{AllowDestructive: allow})
}

func (b builtins) runScript(ctx context.Context, args map[string]any, ec ExecContext) (any, error) {
	br, err := b.bridge(ec)
	if err != nil {
		return nil, err
	}
	code, _ := stringArg(args, "code")
	destructive := ec.GrantedTier.Allows(security.TierDestructive)
	rt := script.New(br, script.Options{
		AllowDestructiveGit: destructive,
		AllowDelete:         destructive && slices.Contains(ec.Consented, "delete_file"),
	})
	defer rt.Close()
	return rt.Run(ctx, code)
}
