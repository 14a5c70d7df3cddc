// Package security holds the vocabulary shared by the boundary validator,
// the command guard and the middleware: validation error kinds and
// permission tiers.
package security

import (
	"errors"
	"fmt"
)

// Kind tags a ValidationError.
type Kind int

const (
	PathEscapesBoundary Kind = iota + 1
	PathOutsideBoundary
	SymlinkEscapesBoundary
	ProtectedFile
	InvalidPath
	CommandNotAllowed
	ShellInterpreterBlocked
	DestructiveBlocked
)

func (k Kind) String() string {
	switch k {
	case PathEscapesBoundary:
		return "path_escapes_boundary"
	case PathOutsideBoundary:
		return "path_outside_boundary"
	case SymlinkEscapesBoundary:
		return "symlink_escapes_boundary"
	case ProtectedFile:
		return "protected_file"
	case InvalidPath:
		return "invalid_path"
	case CommandNotAllowed:
		return "command_not_allowed"
	case ShellInterpreterBlocked:
		return "shell_interpreter_blocked"
	case DestructiveBlocked:
		return "destructive_blocked"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ValidationError is returned whenever a path or command fails a security check.
type ValidationError struct {
	Kind   Kind
	Path   string // offending path, command or argument
	Detail string
}

func (e *ValidationError) Error() string {
	msg := e.Kind.String()
	if e.Path != "" {
		msg += fmt.Sprintf(" (%s)", e.Path)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// NewError builds a ValidationError.
func NewError(kind Kind, path, detail string) *ValidationError {
	return &ValidationError{Kind: kind, Path: path, Detail: detail}
}

// KindOf extracts the kind of a wrapped ValidationError.
func KindOf(err error) (Kind, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Kind, true
	}
	return 0, false
}

// IsKind reports whether err wraps a ValidationError of the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
