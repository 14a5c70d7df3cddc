// Package cmdguard decides which executables, git subcommands and
// arguments may reach a subprocess.
package cmdguard

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"warden/internal/boundary"
	"warden/internal/security"
)

var interpreters = map[string]struct{}{
	"sh": {}, "bash": {}, "zsh": {}, "fish": {}, "dash": {}, "ksh": {}, "csh": {}, "tcsh": {},
	"ash": {}, "busybox": {}, "pwsh": {}, "powershell": {}, "cmd": {}, "cmd.exe": {},
	"env": {}, "xargs": {}, "nohup": {}, "sudo": {}, "su": {}, "doas": {},
	"python": {}, "python2": {}, "python3": {}, "perl": {}, "ruby": {}, "node": {}, "deno": {},
	"bun": {}, "php": {}, "lua": {}, "tclsh": {}, "awk": {}, "gawk": {}, "mawk": {}, "nawk": {},
	"osascript": {}, "expect": {},
}

// allowedCommands never include build drivers that run project-defined
// code (make, npm, cargo, mix) or rm, whose job delete_file does behind
// consent.
var allowedCommands = map[string]struct{}{
	"go": {}, "gofmt": {},
	"ls": {}, "cat": {}, "head": {}, "tail": {}, "grep": {}, "rg": {}, "find": {}, "wc": {},
	"sort": {}, "uniq": {}, "diff": {}, "mkdir": {}, "touch": {}, "cp": {}, "mv": {},
	"pwd": {}, "echo": {}, "date": {}, "which": {}, "tree": {}, "file": {}, "stat": {}, "du": {},
	"git": {}, "true": {}, "false": {}, "sleep": {},
}

var gitSubcommands = map[string]struct{}{
	"status": {}, "diff": {}, "log": {}, "show": {}, "branch": {}, "checkout": {}, "switch": {},
	"add": {}, "commit": {}, "stash": {}, "restore": {}, "reset": {}, "rev-parse": {},
	"ls-files": {}, "blame": {}, "tag": {}, "fetch": {}, "pull": {}, "push": {}, "merge": {},
	"rebase": {}, "remote": {}, "clean": {}, "cherry-pick": {}, "grep": {}, "describe": {},
	"shortlog": {}, "mv": {}, "rm": {}, "init": {},
}

// commandSubcommands limits commands whose first argument selects an
// action. go may compile and inspect code but never run it.
var commandSubcommands = map[string]map[string]struct{}{
	"go": {
		"build": {}, "vet": {}, "fmt": {}, "list": {}, "version": {}, "doc": {}, "mod": {},
	},
}

var safeDevicePaths = map[string]struct{}{
	"/dev/null": {}, "/dev/stdin": {}, "/dev/stdout": {}, "/dev/stderr": {},
	"/dev/zero": {}, "/dev/random": {}, "/dev/urandom": {},
}

// destructivePatterns maps a subcommand to flag sets. A call is destructive
// when every flag of any one set is present.
var destructivePatterns = map[string][][]string{
	"push":     {{"--force"}, {"-f"}, {"--force-with-lease"}, {"--mirror"}, {"--delete"}},
	"reset":    {{"--hard"}},
	"clean":    {{"-f"}, {"--force"}},
	"branch":   {{"-D"}, {"--delete", "--force"}, {"-d", "-f"}, {"-d", "--force"}, {"--delete", "-f"}},
	"checkout": {{"--force"}, {"-f"}},
	"stash":    {{"drop"}, {"clear"}},
	"tag":      {{"-d"}, {"--delete"}},
	"rm":       {{"-f"}, {"--force"}},
}

// ValidateCommand accepts a bare executable name from the allowlist.
// Interpreters are rejected before the allowlist is consulted.
func ValidateCommand(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return security.NewError(security.CommandNotAllowed, name, "empty command")
	}
	base := strings.ToLower(filepath.Base(trimmed))
	if _, ok := interpreters[base]; ok {
		return security.NewError(security.ShellInterpreterBlocked, name, "shell and script interpreters are never allowed")
	}
	if strings.ContainsAny(trimmed, `/\`) {
		return security.NewError(security.CommandNotAllowed, name, "command must be a bare name")
	}
	if _, ok := allowedCommands[trimmed]; !ok {
		return security.NewError(security.CommandNotAllowed, name, "command is not in the allowlist")
	}
	return nil
}

// ValidateGitSubcommand accepts only allowlisted git subcommands.
func ValidateGitSubcommand(sub string) error {
	if _, ok := gitSubcommands[sub]; !ok {
		return security.NewError(security.CommandNotAllowed, "git "+sub, "git subcommand is not in the allowlist")
	}
	return nil
}

// IsDestructive reports whether sub with args matches a destructive pattern.
func IsDestructive(sub string, args []string) bool {
	for _, required := range destructivePatterns[sub] {
		if hasAllFlags(args, required) {
			return true
		}
	}
	return false
}

func hasAllFlags(args, flags []string) bool {
	for _, flag := range flags {
		if !hasFlag(args, flag) {
			return false
		}
	}
	return true
}

func hasFlag(args []string, flag string) bool {
	short := len(flag) == 2 && flag[0] == '-' && flag[1] != '-'
	for _, arg := range args {
		if arg == "--" {
			return false
		}
		if arg == flag {
			return true
		}
		if strings.HasPrefix(flag, "--") && strings.HasPrefix(arg, flag+"=") {
			return true
		}
		// -df carries -d and -f.
		if short && len(arg) > 2 && arg[0] == '-' && arg[1] != '-' && strings.ContainsRune(arg[1:], rune(flag[1])) {
			return true
		}
	}
	return false
}

// ValidateArgs rejects arguments that climb out of root, either through a
// ".." segment or an absolute path elsewhere on the host, and arguments
// that name a protected path or a directory holding one.
func ValidateArgs(args []string, root boundary.Root) error {
	for _, arg := range args {
		for _, candidate := range argPaths(arg) {
			if hasParentSegment(candidate) {
				return security.NewError(security.PathEscapesBoundary, arg, "argument contains a parent directory segment")
			}
			rel := candidate
			if filepath.IsAbs(candidate) {
				if _, ok := safeDevicePaths[candidate]; ok {
					continue
				}
				cleaned := filepath.Clean(candidate)
				if !boundary.Within(cleaned, string(root)) {
					return security.NewError(security.PathOutsideBoundary, arg, "absolute path is outside the project root")
				}
				if rel, _ = filepath.Rel(string(root), cleaned); rel == "" {
					rel = "."
				}
			}
			if boundary.HoldsProtected(rel) {
				return security.NewError(security.ProtectedFile, arg, "argument names a write-protected path")
			}
		}
	}
	return nil
}

// argPaths returns the path-like parts of an argument: the argument itself
// and, for --flag=value forms, the value.
func argPaths(arg string) []string {
	out := []string{arg}
	if strings.HasPrefix(arg, "-") {
		if _, value, ok := strings.Cut(arg, "="); ok {
			out = append(out, value)
		}
	}
	return out
}

func hasParentSegment(s string) bool {
	for _, seg := range strings.FieldsFunc(s, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return true
		}
	}
	return false
}

// deniedFlags lists per-command options that hand control to another
// program. Names match with one or two leading dashes.
var deniedFlags = map[string][]string{
	"find": {"-exec", "-execdir", "-ok", "-okdir", "-delete"},
	"rg":   {"--pre"},
	"sort": {"--compress-program"},
	"go":   {"-toolexec", "-exec", "-vettool", "-ldflags", "-gcflags", "-asmflags", "-overlay"},
	"git":  {"--exec", "--upload-pack", "--receive-pack", "--open-files-in-pager", "-O"},
}

// ValidateCommandArgs rejects subcommands outside a command's allowlist
// and flags of an allowed command that would run another program.
func ValidateCommandArgs(name string, args []string) error {
	if subs, ok := commandSubcommands[name]; ok {
		if len(args) == 0 {
			return security.NewError(security.CommandNotAllowed, name, "missing subcommand")
		}
		if _, ok := subs[args[0]]; !ok {
			return security.NewError(security.CommandNotAllowed, name+" "+args[0], "subcommand is not in the allowlist")
		}
	}
	for _, arg := range args {
		for _, flag := range deniedFlags[name] {
			if matchesFlag(arg, flag) {
				return security.NewError(security.CommandNotAllowed, arg, fmt.Sprintf("%s option %s is not allowed", name, flag))
			}
		}
	}
	return nil
}

func matchesFlag(arg, flag string) bool {
	if !strings.HasPrefix(arg, "-") {
		return false
	}
	want := strings.TrimLeft(flag, "-")
	if len(want) == 1 {
		// -Oless carries its value inline.
		return !strings.HasPrefix(arg, "--") && strings.HasPrefix(arg[1:], want)
	}
	got, _, _ := strings.Cut(strings.TrimLeft(arg, "-"), "=")
	return got == want
}

// ValidateGitArgs is ValidateCommandArgs for git plus the rebase -x
// shorthand.
func ValidateGitArgs(sub string, args []string) error {
	if err := ValidateCommandArgs("git", args); err != nil {
		return err
	}
	if sub != "rebase" {
		return nil
	}
	for _, arg := range args {
		if strings.HasPrefix(arg, "-x") {
			return security.NewError(security.CommandNotAllowed, arg, "rebase --exec is not allowed")
		}
	}
	return nil
}

// gitOverrides switch off every repository setting that makes git run
// another program. Command-line config outranks .git/config.
var gitOverrides = []string{
	"-c", "core.fsmonitor=false",
	"-c", "core.hooksPath=" + os.DevNull,
	"-c", "core.pager=cat",
	"-c", "core.sshCommand=ssh",
	"-c", "core.askPass=",
	"-c", "credential.helper=",
	"-c", "protocol.ext.allow=never",
}

// GitArgv is the full git argument list for a validated subcommand.
func GitArgv(sub string, args []string) []string {
	argv := make([]string, 0, len(gitOverrides)+1+len(args))
	argv = append(argv, gitOverrides...)
	argv = append(argv, sub)
	return append(argv, args...)
}
