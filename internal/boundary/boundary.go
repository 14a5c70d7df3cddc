// Package boundary keeps every path an agent touches inside a single
// project root.
package boundary

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"warden/internal/security"
)

// ProtectedPath is always write-protected, wherever it appears under the root.
const ProtectedPath = ".warden/settings.json"

// protectedFiles are settings files no agent may write. The second is the
// location older installs use.
var protectedFiles = []string{ProtectedPath, ".jido-settings/settings.json"}

// protectedDirs hold files that git executes or loads config from, so
// nothing below them is writable either.
var protectedDirs = []string{".git"}

// Root is an absolute, symlink-free project directory.
type Root string

// NewRoot canonicalizes dir. The directory must exist.
func NewRoot(dir string) (Root, error) {
	if strings.TrimSpace(dir) == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve project root: %w", err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("resolve project root: %w", err)
	}
	info, err := os.Stat(real)
	if err != nil {
		return "", fmt.Errorf("stat project root: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("project root %s is not a directory", real)
	}
	return Root(real), nil
}

func (r Root) String() string { return string(r) }

// Options tune a single validation.
type Options struct {
	// Mutating marks writes, deletes and directory creation.
	Mutating bool
}

// encodedTraversal lists lowercase fragments of percent-encoded "../" and "..\".
var encodedTraversal = []string{
	"%2e%2e%2f",
	"%2e%2e/",
	"..%2f",
	"%2e%2e%5c",
	"%2e%2e\\",
	"..%5c",
	"%252e%252e%252f",
	"%252e%252e/",
	"..%252f",
	"%252e%252e%255c",
	"%c0%ae%c0%ae",
	"%c0%af",
}

func hasEncodedTraversal(path string) bool {
	lower := strings.ToLower(path)
	for _, frag := range encodedTraversal {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

// Validate returns the canonical absolute form of path, or a
// *security.ValidationError if it leaves root.
func Validate(path string, root Root, opts Options) (string, error) {
	if strings.ContainsRune(path, 0) {
		return "", security.NewError(security.InvalidPath, path, "path contains a null byte")
	}
	if hasEncodedTraversal(path) {
		return "", security.NewError(security.PathEscapesBoundary, path, "encoded traversal sequence")
	}
	if opts.Mutating && isProtectedFile(path) {
		return "", security.NewError(security.ProtectedFile, path, "settings file is write-protected")
	}

	absolute := filepath.IsAbs(path)
	canonical := normalize(path, root)
	if !Within(canonical, string(root)) {
		if absolute {
			return "", security.NewError(security.PathOutsideBoundary, path, "path is outside the project root")
		}
		return "", security.NewError(security.PathEscapesBoundary, path, "path escapes the project root")
	}
	if opts.Mutating && protectedUnder(canonical, root) {
		return "", security.NewError(security.ProtectedFile, path, "path is write-protected")
	}
	resolved, err := resolveSymlinks(canonical, string(root))
	if err != nil {
		return "", err
	}
	if opts.Mutating && resolved != canonical && protectedUnder(resolved, root) {
		return "", security.NewError(security.ProtectedFile, path, "path resolves to write-protected "+resolved)
	}
	return canonical, nil
}

func normalize(path string, root Root) string {
	switch {
	case path == "":
		return string(root)
	case filepath.IsAbs(path):
		return filepath.Clean(path)
	default:
		return filepath.Join(string(root), path)
	}
}

// Within reports whether path equals root or sits below it. The separator
// is part of the prefix so that "/project2" is not inside "/project".
func Within(path, root string) bool {
	if path == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(path, prefix)
}

// IsProtected reports whether a root-relative path names a protected
// settings file or anything inside a protected directory. Leading
// separators are ignored.
func IsProtected(path string) bool {
	if isProtectedFile(path) {
		return true
	}
	for _, seg := range segments(path) {
		if slices.Contains(protectedDirs, seg) {
			return true
		}
	}
	return false
}

// HoldsProtected reports whether a root-relative path is protected or is a
// directory that a protected settings file lives in.
func HoldsProtected(path string) bool {
	if IsProtected(path) {
		return true
	}
	for _, seg := range segments(path) {
		for _, file := range protectedFiles {
			if seg == strings.ToLower(filepath.Dir(file)) {
				return true
			}
		}
	}
	return false
}

// ProtectedBelow walks the tree at dir without following links and returns
// the first protected path inside it.
func ProtectedBelow(dir string, root Root) (string, bool) {
	var found string
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if protectedUnder(p, root) {
			found = p
			return fs.SkipAll
		}
		return nil
	})
	return found, found != ""
}

func isProtectedFile(path string) bool {
	if path == "" {
		return false
	}
	slashed := strings.ToLower(filepath.ToSlash(filepath.Clean(path)))
	trimmed := strings.TrimLeft(slashed, "/")
	for _, file := range protectedFiles {
		if trimmed == file || strings.HasSuffix(slashed, "/"+file) {
			return true
		}
	}
	return false
}

func segments(path string) []string {
	slashed := strings.ToLower(filepath.ToSlash(filepath.Clean(path)))
	return strings.FieldsFunc(slashed, func(r rune) bool { return r == '/' })
}

// protectedUnder applies IsProtected to the part of p below root.
func protectedUnder(p string, root Root) bool {
	rel, err := filepath.Rel(string(root), p)
	if err != nil || rel == "." {
		return false
	}
	return IsProtected(rel)
}

// MakeRelative is the inverse of Validate for paths inside root.
func MakeRelative(path string, root Root) (string, error) {
	if !Within(path, string(root)) {
		return "", security.NewError(security.PathOutsideBoundary, path, "path is outside the project root")
	}
	rel, err := filepath.Rel(string(root), path)
	if err != nil {
		return "", security.NewError(security.InvalidPath, path, err.Error())
	}
	return rel, nil
}

// Realpath resolves every symlink in path and requires the result to stay
// inside root. Missing paths resolve through their deepest existing parent.
func Realpath(path string, root Root) (string, error) {
	real, err := filepath.EvalSymlinks(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return "", security.NewError(security.InvalidPath, path, err.Error())
		}
		parent := filepath.Dir(path)
		if parent == path {
			return "", security.NewError(security.InvalidPath, path, err.Error())
		}
		realParent, perr := Realpath(parent, root)
		if perr != nil {
			return "", perr
		}
		real = filepath.Join(realParent, filepath.Base(path))
	}
	if !Within(real, string(root)) {
		return "", security.NewError(security.SymlinkEscapesBoundary, path, "resolves to "+real)
	}
	return real, nil
}
