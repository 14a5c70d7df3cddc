package boundary

import (
	"os"
	"path/filepath"
	"testing"

	"warden/internal/security"
)

func newTestRoot(t *testing.T) Root {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "project")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	root, err := NewRoot(dir)
	if err != nil {
		t.Fatalf("NewRoot: %v", err)
	}
	return root
}

func TestValidateKinds(t *testing.T) {
	root := newTestRoot(t)
	sibling := string(root) + "2"

	tests := []struct {
		name     string
		path     string
		mutating bool
		want     security.Kind
	}{
		{name: "dotdot", path: "../etc/passwd", want: security.PathEscapesBoundary},
		{name: "nested dotdot", path: "src/../../x", want: security.PathEscapesBoundary},
		{name: "absolute outside", path: "/etc/passwd", want: security.PathOutsideBoundary},
		{name: "sibling prefix", path: filepath.Join(sibling, "file"), want: security.PathOutsideBoundary},
		{name: "encoded slash", path: "%2e%2e%2fetc/passwd", want: security.PathEscapesBoundary},
		{name: "encoded mixed case", path: "..%2Fsecret", want: security.PathEscapesBoundary},
		{name: "double encoded", path: "%252e%252e%252fx", want: security.PathEscapesBoundary},
		{name: "encoded backslash", path: "..%5cwin", want: security.PathEscapesBoundary},
		{name: "null byte", path: "a\x00b", want: security.InvalidPath},
		{name: "protected", path: ".warden/settings.json", mutating: true, want: security.ProtectedFile},
		{name: "protected leading slash", path: "/.warden/settings.json", mutating: true, want: security.ProtectedFile},
		{name: "protected nested", path: "sub/.warden/settings.json", mutating: true, want: security.ProtectedFile},
		{name: "protected dotted", path: "./sub/../.warden/settings.json", mutating: true, want: security.ProtectedFile},
		{name: "legacy settings", path: ".jido-settings/settings.json", mutating: true, want: security.ProtectedFile},
		{name: "legacy settings leading slash", path: "/.jido-settings/settings.json", mutating: true, want: security.ProtectedFile},
		{name: "git config", path: ".git/config", mutating: true, want: security.ProtectedFile},
		{name: "git hook", path: "vendor/lib/.git/hooks/pre-commit", mutating: true, want: security.ProtectedFile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(tt.path, root, Options{Mutating: tt.mutating})
			if err == nil {
				t.Fatalf("expected %s error", tt.want)
			}
			if !security.IsKind(err, tt.want) {
				t.Fatalf("expected %s, got %v", tt.want, err)
			}
		})
	}
}

func TestValidateAccepts(t *testing.T) {
	root := newTestRoot(t)

	tests := []struct {
		path string
		want string
	}{
		{path: "", want: string(root)},
		{path: ".", want: string(root)},
		{path: "src/main.go", want: filepath.Join(string(root), "src", "main.go")},
		{path: "src/../README.md", want: filepath.Join(string(root), "README.md")},
		{path: filepath.Join(string(root), "a", "b"), want: filepath.Join(string(root), "a", "b")},
		{path: "does/not/exist/yet.txt", want: filepath.Join(string(root), "does", "not", "exist", "yet.txt")},
	}

	for _, tt := range tests {
		got, err := Validate(tt.path, root, Options{})
		if err != nil {
			t.Fatalf("Validate(%q): %v", tt.path, err)
		}
		if got != tt.want {
			t.Fatalf("Validate(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestProtectedFileReadable(t *testing.T) {
	root := newTestRoot(t)
	if _, err := Validate(".warden/settings.json", root, Options{}); err != nil {
		t.Fatalf("reading settings should be allowed: %v", err)
	}
}

func TestValidateRoundTrip(t *testing.T) {
	root := newTestRoot(t)
	for _, p := range []string{"a.txt", "dir/sub/file.go", "x/./y/../z"} {
		canonical, err := Validate(p, root, Options{})
		if err != nil {
			t.Fatalf("Validate(%q): %v", p, err)
		}
		rel, err := MakeRelative(canonical, root)
		if err != nil {
			t.Fatalf("MakeRelative: %v", err)
		}
		again, err := Validate(rel, root, Options{})
		if err != nil {
			t.Fatalf("Validate(%q): %v", rel, err)
		}
		if again != canonical {
			t.Fatalf("round trip changed path: %q -> %q", canonical, again)
		}
	}
}

func TestWithinSeparator(t *testing.T) {
	if Within("/project2/file", "/project") {
		t.Fatal("sibling with shared prefix must not be within root")
	}
	if !Within("/project/file", "/project") {
		t.Fatal("child must be within root")
	}
	if !Within("/project", "/project") {
		t.Fatal("root is within itself")
	}
	if !Within("/anything", "/") {
		t.Fatal("everything is within /")
	}
}

func TestSymlinkInsideRoot(t *testing.T) {
	root := newTestRoot(t)
	if err := os.MkdirAll(filepath.Join(string(root), "real"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(string(root), "real", "f.txt"), []byte("ok"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	// link1 -> link2 -> real
	if err := os.Symlink("real", filepath.Join(string(root), "link2")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	if err := os.Symlink("link2", filepath.Join(string(root), "link1")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	if _, err := Validate("link1/f.txt", root, Options{}); err != nil {
		t.Fatalf("chain inside root should validate: %v", err)
	}
}

func TestSymlinkEscape(t *testing.T) {
	root := newTestRoot(t)
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(string(root), "out")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	// hop1 stays inside but its target escapes.
	if err := os.Symlink("out", filepath.Join(string(root), "hop1")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	for _, p := range []string{"out/secret", "hop1/secret", "out"} {
		_, err := Validate(p, root, Options{})
		if !security.IsKind(err, security.SymlinkEscapesBoundary) {
			t.Fatalf("Validate(%q): expected symlink escape, got %v", p, err)
		}
	}
}

func TestSymlinkCycle(t *testing.T) {
	root := newTestRoot(t)
	if err := os.Symlink("b", filepath.Join(string(root), "a")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	if err := os.Symlink("a", filepath.Join(string(root), "b")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	if err := os.Symlink("self", filepath.Join(string(root), "self")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	for _, p := range []string{"a", "b/x", "self"} {
		_, err := Validate(p, root, Options{})
		if !security.IsKind(err, security.InvalidPath) {
			t.Fatalf("Validate(%q): expected invalid path for cycle, got %v", p, err)
		}
	}
}

func TestAtomicReadWrite(t *testing.T) {
	root := newTestRoot(t)

	canonical, err := AtomicWrite("notes/todo.txt", root, []byte("first"))
	if err != nil {
		t.Fatalf("AtomicWrite: %v", err)
	}
	if canonical != filepath.Join(string(root), "notes", "todo.txt") {
		t.Fatalf("unexpected canonical path %q", canonical)
	}

	data, _, err := AtomicRead("notes/todo.txt", root)
	if err != nil {
		t.Fatalf("AtomicRead: %v", err)
	}
	if string(data) != "first" {
		t.Fatalf("unexpected content: %q", data)
	}

	if _, err := AtomicWrite("notes/todo.txt", root, []byte("second")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	data, _, err = AtomicRead("notes/todo.txt", root)
	if err != nil {
		t.Fatalf("AtomicRead: %v", err)
	}
	if string(data) != "second" {
		t.Fatalf("unexpected content after overwrite: %q", data)
	}

	entries, err := os.ReadDir(filepath.Join(string(root), "notes"))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestAtomicWriteThroughSymlink(t *testing.T) {
	root := newTestRoot(t)
	target := filepath.Join(string(root), "target.txt")
	if err := os.WriteFile(target, []byte("old"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Symlink("target.txt", filepath.Join(string(root), "alias.txt")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	if _, err := AtomicWrite("alias.txt", root, []byte("new")); err != nil {
		t.Fatalf("AtomicWrite: %v", err)
	}
	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "new" {
		t.Fatalf("symlink target not updated: %q", got)
	}
	info, err := os.Lstat(filepath.Join(string(root), "alias.txt"))
	if err != nil {
		t.Fatalf("lstat: %v", err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		t.Fatal("alias should still be a symlink")
	}
	st, err := os.Stat(target)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if st.Mode().Perm() != 0o600 {
		t.Fatalf("mode not preserved: %v", st.Mode().Perm())
	}
}

func TestAtomicWriteRejects(t *testing.T) {
	root := newTestRoot(t)
	if _, err := AtomicWrite(".warden/settings.json", root, []byte("{}")); !security.IsKind(err, security.ProtectedFile) {
		t.Fatalf("expected protected file error, got %v", err)
	}
	if _, err := AtomicWrite("../escape.txt", root, []byte("x")); !security.IsKind(err, security.PathEscapesBoundary) {
		t.Fatalf("expected escape error, got %v", err)
	}
}

func writeSettings(t *testing.T, root Root) string {
	t.Helper()
	settings := filepath.Join(string(root), ProtectedPath)
	if err := os.MkdirAll(filepath.Dir(settings), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(settings, []byte(`{"orig":true}`), 0o600); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	return settings
}

func TestProtectedThroughSymlinks(t *testing.T) {
	root := newTestRoot(t)
	settings := writeSettings(t, root)
	if err := os.Symlink(ProtectedPath, filepath.Join(string(root), "alias.json")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	if err := os.Symlink(".warden", filepath.Join(string(root), "cfg")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	if err := os.Symlink(".git", filepath.Join(string(root), "meta")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	for _, path := range []string{"alias.json", "cfg/settings.json", "meta/config"} {
		if _, err := Validate(path, root, Options{Mutating: true}); !security.IsKind(err, security.ProtectedFile) {
			t.Fatalf("Validate(%q): expected protected file error, got %v", path, err)
		}
		if _, err := AtomicWrite(path, root, []byte(`{"pwned":true}`)); !security.IsKind(err, security.ProtectedFile) {
			t.Fatalf("AtomicWrite(%q): expected protected file error, got %v", path, err)
		}
	}
	got, err := os.ReadFile(settings)
	if err != nil {
		t.Fatalf("read settings: %v", err)
	}
	if string(got) != `{"orig":true}` {
		t.Fatalf("settings overwritten: %s", got)
	}

	// Reads through the same links stay allowed.
	if _, err := Validate("alias.json", root, Options{}); err != nil {
		t.Fatalf("read through alias: %v", err)
	}
}

func TestProtectedHelpers(t *testing.T) {
	tests := []struct {
		path      string
		protected bool
		holds     bool
	}{
		{path: ".warden/settings.json", protected: true, holds: true},
		{path: "/.warden/settings.json", protected: true, holds: true},
		{path: ".warden", holds: true},
		{path: "sub/.warden/", holds: true},
		{path: ".jido-settings", holds: true},
		{path: ".warden/other.json", holds: true},
		{path: ".git", protected: true, holds: true},
		{path: ".git/config", protected: true, holds: true},
		{path: ".gitignore"},
		{path: ".warden.bak"},
		{path: "."},
		{path: "src/main.go"},
	}
	for _, tt := range tests {
		if got := IsProtected(tt.path); got != tt.protected {
			t.Errorf("IsProtected(%q) = %v, want %v", tt.path, got, tt.protected)
		}
		if got := HoldsProtected(tt.path); got != tt.holds {
			t.Errorf("HoldsProtected(%q) = %v, want %v", tt.path, got, tt.holds)
		}
	}
}

func TestProtectedBelow(t *testing.T) {
	root := newTestRoot(t)
	settings := writeSettings(t, root)
	if err := os.MkdirAll(filepath.Join(string(root), "src", "pkg"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	found, ok := ProtectedBelow(string(root), root)
	if !ok || found != settings {
		t.Fatalf("ProtectedBelow(root) = %q, %v", found, ok)
	}
	if found, ok := ProtectedBelow(filepath.Join(string(root), ".warden"), root); !ok || found != settings {
		t.Fatalf("ProtectedBelow(.warden) = %q, %v", found, ok)
	}
	if found, ok := ProtectedBelow(filepath.Join(string(root), "src"), root); ok {
		t.Fatalf("unexpected protected path %q under src", found)
	}
}

func TestAtomicReadMissing(t *testing.T) {
	root := newTestRoot(t)
	if _, _, err := AtomicRead("missing.txt", root); err == nil {
		t.Fatal("expected error for missing file")
	}
}
