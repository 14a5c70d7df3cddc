// Package bridge is the only path from scripts and tool handlers to the
// host filesystem and subprocesses. Every function validates its input
// with the boundary or command guard before touching anything.
package bridge

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"

	"warden/internal/boundary"
	"warden/internal/logging"
	"warden/internal/proc"
	"warden/internal/security"
)

const (
	DefaultReadLimit   = 2000
	MaxLineLength      = 2000
	LineTruncateMarker = " [truncated]"
	DefaultGlobResults = 100
	binarySniffBytes   = 8 * 1024
)

// Options configures subprocess limits for Shell and Git.
type Options struct {
	ShellTimeout time.Duration
	MaxOutput    int
}

// Bridge is bound to one project root for its lifetime.
type Bridge struct {
	root boundary.Root
	opts Options
}

func New(root boundary.Root, opts Options) *Bridge {
	if opts.ShellTimeout <= 0 {
		opts.ShellTimeout = proc.DefaultTimeout
	}
	if opts.MaxOutput <= 0 {
		opts.MaxOutput = proc.DefaultMaxOutput
	}
	return &Bridge{root: root, opts: opts}
}

func (b *Bridge) Root() boundary.Root { return b.root }

func (b *Bridge) rel(abs string) string {
	rel, err := boundary.MakeRelative(abs, b.root)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}

// ReadResult is a window of a text file rendered cat -n style.
type ReadResult struct {
	Path       string `json:"path"`
	Content    string `json:"content"`
	StartLine  int    `json:"start_line"`
	EndLine    int    `json:"end_line"`
	TotalLines int    `json:"total_lines"`
	Truncated  bool   `json:"truncated,omitempty"`
}

// Read returns lines [offset, offset+limit) of a text file. offset is
// 1-based; zero values mean the start of the file and DefaultReadLimit.
func (b *Bridge) Read(path string, offset, limit int) (ReadResult, error) {
	data, canonical, err := boundary.AtomicRead(path, b.root)
	if err != nil {
		return ReadResult{}, err
	}
	if isBinary(data) {
		return ReadResult{}, fmt.Errorf("%s appears to be a binary file", path)
	}
	if offset <= 0 {
		offset = 1
	}
	if limit <= 0 {
		limit = DefaultReadLimit
	}

	text := strings.TrimSuffix(string(data), "\n")
	var lines []string
	if text != "" {
		lines = strings.Split(text, "\n")
	}

	res := ReadResult{Path: b.rel(canonical), TotalLines: len(lines), StartLine: offset}
	if offset > len(lines) {
		res.EndLine = offset - 1
		return res, nil
	}
	end := min(offset-1+limit, len(lines))

	var sb strings.Builder
	for i := offset - 1; i < end; i++ {
		line, cut := truncateLine(strings.TrimSuffix(lines[i], "\r"))
		if cut {
			res.Truncated = true
		}
		fmt.Fprintf(&sb, "%6d\t%s\n", i+1, line)
	}
	res.Content = sb.String()
	res.EndLine = end
	if end < len(lines) {
		res.Truncated = true
	}
	return res, nil
}

func truncateLine(line string) (string, bool) {
	if len(line) <= MaxLineLength {
		return line, false
	}
	cut := MaxLineLength
	for cut > 0 && !utf8.RuneStart(line[cut]) {
		cut--
	}
	return line[:cut] + LineTruncateMarker, true
}

func isBinary(data []byte) bool {
	sniff := data
	if len(sniff) > binarySniffBytes {
		sniff = sniff[:binarySniffBytes]
	}
	return bytes.IndexByte(sniff, 0) >= 0
}

// WriteResult reports a completed write.
type WriteResult struct {
	Path  string `json:"path"`
	Bytes int    `json:"bytes"`
}

// Write replaces the file at path with content, creating parents.
func (b *Bridge) Write(path, content string) (WriteResult, error) {
	canonical, err := boundary.AtomicWrite(path, b.root, []byte(content))
	if err != nil {
		if canonical != "" && security.IsKind(err, security.SymlinkEscapesBoundary) {
			logging.Audit("post-write validation failed", map[string]any{"path": canonical, "error": err.Error()})
		}
		return WriteResult{}, err
	}
	return WriteResult{Path: b.rel(canonical), Bytes: len(content)}, nil
}

// Entry is one item of a directory listing.
type Entry struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// List returns the entries of a directory sorted by name.
func (b *Bridge) List(path string) ([]Entry, error) {
	canonical, err := boundary.Validate(path, b.root, boundary.Options{})
	if err != nil {
		return nil, err
	}
	dirEntries, err := os.ReadDir(canonical)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		entry := Entry{Name: de.Name(), Type: typeOf(de.Type())}
		if info, err := de.Info(); err == nil && !de.IsDir() {
			entry.Size = info.Size()
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func typeOf(mode fs.FileMode) string {
	switch {
	case mode&fs.ModeSymlink != 0:
		return "symlink"
	case mode.IsDir():
		return "directory"
	default:
		return "file"
	}
}

// Glob matches a doublestar pattern below dir and returns root-relative
// file paths, most recently modified first.
func (b *Bridge) Glob(pattern, dir string, maxResults int) ([]string, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, errors.New("pattern is required")
	}
	pattern = filepath.ToSlash(pattern)
	if strings.HasPrefix(pattern, "/") || hasDotDot(pattern) {
		return nil, security.NewError(security.PathEscapesBoundary, pattern, "glob pattern must stay relative to the search directory")
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid glob pattern %q", pattern)
	}
	base, err := boundary.Validate(dir, b.root, boundary.Options{})
	if err != nil {
		return nil, err
	}
	if maxResults <= 0 {
		maxResults = DefaultGlobResults
	}

	matches, err := doublestar.Glob(os.DirFS(base), pattern, doublestar.WithFilesOnly(), doublestar.WithNoFollow())
	if err != nil {
		return nil, fmt.Errorf("glob pattern error: %w", err)
	}

	type match struct {
		path    string
		modTime time.Time
	}
	files := make([]match, 0, len(matches))
	for _, m := range matches {
		abs := filepath.Join(base, filepath.FromSlash(m))
		if _, err := boundary.Validate(abs, b.root, boundary.Options{}); err != nil {
			continue
		}
		info, err := os.Stat(abs)
		if err != nil || info.IsDir() {
			continue
		}
		files = append(files, match{path: b.rel(abs), modTime: info.ModTime()})
	}
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].modTime.Equal(files[j].modTime) {
			return files[i].path < files[j].path
		}
		return files[i].modTime.After(files[j].modTime)
	})
	if len(files) > maxResults {
		files = files[:maxResults]
	}
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.path
	}
	return out, nil
}

func hasDotDot(pattern string) bool {
	for _, seg := range strings.Split(pattern, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

// Exists reports whether path names anything inside root.
func (b *Bridge) Exists(path string) (bool, error) {
	canonical, err := boundary.Validate(path, b.root, boundary.Options{})
	if err != nil {
		return false, err
	}
	if _, err := os.Lstat(canonical); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// FileInfo is the bridge's view of os.FileInfo.
type FileInfo struct {
	Path    string    `json:"path"`
	Type    string    `json:"type"`
	Size    int64     `json:"size"`
	Mode    string    `json:"mode"`
	ModTime time.Time `json:"mod_time"`
}

func (b *Bridge) Stat(path string) (FileInfo, error) {
	canonical, err := boundary.Validate(path, b.root, boundary.Options{})
	if err != nil {
		return FileInfo{}, err
	}
	info, err := os.Lstat(canonical)
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{
		Path:    b.rel(canonical),
		Type:    typeOf(info.Mode()),
		Size:    info.Size(),
		Mode:    info.Mode().Perm().String(),
		ModTime: info.ModTime(),
	}, nil
}

func (b *Bridge) IsFile(path string) (bool, error) {
	canonical, err := boundary.Validate(path, b.root, boundary.Options{})
	if err != nil {
		return false, err
	}
	info, err := os.Stat(canonical)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

func (b *Bridge) IsDir(path string) (bool, error) {
	canonical, err := boundary.Validate(path, b.root, boundary.Options{})
	if err != nil {
		return false, err
	}
	info, err := os.Stat(canonical)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

// Delete removes a file or, with recursive, a directory tree. The root
// itself can never be deleted, nor can a tree holding a protected path.
func (b *Bridge) Delete(path string, recursive bool) error {
	canonical, err := boundary.Validate(path, b.root, boundary.Options{Mutating: true})
	if err != nil {
		return err
	}
	if canonical == string(b.root) {
		return security.NewError(security.InvalidPath, path, "refusing to delete the project root")
	}
	info, err := os.Lstat(canonical)
	if err != nil {
		return err
	}
	if info.IsDir() && recursive {
		if found, ok := boundary.ProtectedBelow(canonical, b.root); ok {
			return security.NewError(security.ProtectedFile, path, "directory contains write-protected "+b.rel(found))
		}
		return os.RemoveAll(canonical)
	}
	return os.Remove(canonical)
}

// MkdirP creates path and any missing parents.
func (b *Bridge) MkdirP(path string) (string, error) {
	canonical, err := boundary.Validate(path, b.root, boundary.Options{Mutating: true})
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(canonical, 0o755); err != nil {
		return "", err
	}
	if _, err := boundary.Realpath(canonical, b.root); err != nil {
		return "", err
	}
	return b.rel(canonical), nil
}
