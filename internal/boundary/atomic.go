package boundary

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"warden/internal/security"
)

// AtomicRead validates path, opens it without following links out of root
// and checks the realpath again once the contents are in memory.
func AtomicRead(path string, root Root) ([]byte, string, error) {
	canonical, err := Validate(path, root, Options{})
	if err != nil {
		return nil, "", err
	}

	f, err := openInRoot(string(root), canonical)
	if err != nil {
		return nil, canonical, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, canonical, err
	}
	if info.IsDir() {
		return nil, canonical, fmt.Errorf("%s is a directory", path)
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, canonical, err
	}
	if _, err := Realpath(canonical, root); err != nil {
		return nil, canonical, err
	}
	return data, canonical, nil
}

// AtomicWrite writes data through a temp file and a rename in the target
// directory. Writes to a symlink inside root land on the link's target,
// which must not be protected.
func AtomicWrite(path string, root Root, data []byte) (string, error) {
	canonical, err := Validate(path, root, Options{Mutating: true})
	if err != nil {
		return "", err
	}

	target, err := Realpath(canonical, root)
	if err != nil {
		return canonical, err
	}
	mode := fs.FileMode(0o644)
	if info, err := os.Lstat(canonical); err == nil {
		if info.IsDir() {
			return canonical, fmt.Errorf("%s is a directory", path)
		}
		if st, err := os.Stat(target); err == nil {
			mode = st.Mode().Perm()
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return canonical, err
	}
	if protectedUnder(target, root) {
		return canonical, security.NewError(security.ProtectedFile, path, "path resolves to write-protected "+target)
	}

	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return canonical, fmt.Errorf("create parent directory: %w", err)
	}
	if _, err := Realpath(dir, root); err != nil {
		return canonical, err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".tmp-*")
	if err != nil {
		return canonical, err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return canonical, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return canonical, err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return canonical, err
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		cleanup()
		return canonical, err
	}
	if err := os.Rename(tmpName, target); err != nil {
		cleanup()
		return canonical, err
	}

	if _, err := Realpath(target, root); err != nil {
		return canonical, security.NewError(security.SymlinkEscapesBoundary, path, "target moved outside the project root during write")
	}
	return canonical, nil
}
