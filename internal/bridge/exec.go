package bridge

import (
	"context"

	"warden/internal/cmdguard"
	"warden/internal/logging"
	"warden/internal/proc"
	"warden/internal/security"
)

// GitOptions carries per-call permissions for Git.
type GitOptions struct {
	// AllowDestructive lets force pushes, hard resets and similar through.
	AllowDestructive bool
}

// Shell runs an allowlisted command with the project root as working
// directory. git is routed through Git so destructive checks apply.
func (b *Bridge) Shell(ctx context.Context, command string, args []string) (proc.Result, error) {
	if err := cmdguard.ValidateCommand(command); err != nil {
		return proc.Result{}, err
	}
	if command == "git" {
		if len(args) == 0 {
			return proc.Result{}, security.NewError(security.CommandNotAllowed, "git", "missing git subcommand")
		}
		return b.Git(ctx, args[0], args[1:], GitOptions{})
	}
	if err := cmdguard.ValidateCommandArgs(command, args); err != nil {
		return proc.Result{}, err
	}
	if err := cmdguard.ValidateArgs(args, b.root); err != nil {
		return proc.Result{}, err
	}
	return b.run(ctx, command, args)
}

// ShellLine parses a command string without a shell and runs it via Shell.
func (b *Bridge) ShellLine(ctx context.Context, line string) (proc.Result, error) {
	argv, err := cmdguard.ParseCommandLine(line)
	if err != nil {
		return proc.Result{}, err
	}
	return b.Shell(ctx, argv[0], argv[1:])
}

// Git runs an allowlisted git subcommand.
func (b *Bridge) Git(ctx context.Context, sub string, args []string, opts GitOptions) (proc.Result, error) {
	if err := cmdguard.ValidateGitSubcommand(sub); err != nil {
		return proc.Result{}, err
	}
	if err := cmdguard.ValidateGitArgs(sub, args); err != nil {
		return proc.Result{}, err
	}
	if err := cmdguard.ValidateArgs(args, b.root); err != nil {
		return proc.Result{}, err
	}
	if cmdguard.IsDestructive(sub, args) && !opts.AllowDestructive {
		return proc.Result{}, security.NewError(security.DestructiveBlocked, "git "+sub, "destructive git operation requires explicit permission")
	}
	return b.run(ctx, "git", cmdguard.GitArgv(sub, args))
}

func (b *Bridge) run(ctx context.Context, name string, args []string) (proc.Result, error) {
	logging.DevLog("bridge: executing %s %v in %s", name, args, b.root)
	res, err := proc.Run(ctx, proc.Spec{
		Name:      name,
		Args:      args,
		Dir:       string(b.root),
		Env:       proc.SafeEnv(),
		Timeout:   b.opts.ShellTimeout,
		MaxOutput: b.opts.MaxOutput,
	})
	if err != nil {
		logging.ErrorLog("bridge: %s failed to run: %v", name, err)
		return res, err
	}
	if res.TimedOut {
		logging.ErrorLog("bridge: %s timed out after %s", name, b.opts.ShellTimeout)
	}
	logging.DevLog("bridge: %s exited %d in %dms", name, res.ExitCode, res.Duration.Milliseconds())
	return res, nil
}
