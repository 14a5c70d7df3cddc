//go:build linux

package boundary

import (
	"os"
	"path/filepath"

	securejoin "github.com/cyphar/filepath-securejoin"
	"golang.org/x/sys/unix"
)

// openInRoot resolves canonical relative to root in the kernel, so a
// symlink swapped in after validation cannot redirect the open.
func openInRoot(root, canonical string) (*os.File, error) {
	rel, err := filepath.Rel(root, canonical)
	if err != nil {
		return nil, err
	}
	handle, err := securejoin.OpenInRoot(root, rel)
	if err != nil {
		return nil, err
	}
	defer handle.Close()
	return securejoin.Reopen(handle, unix.O_RDONLY|unix.O_CLOEXEC)
}
