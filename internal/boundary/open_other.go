//go:build !linux

package boundary

import (
	"os"
	"path/filepath"

	securejoin "github.com/cyphar/filepath-securejoin"
)

func openInRoot(root, canonical string) (*os.File, error) {
	rel, err := filepath.Rel(root, canonical)
	if err != nil {
		return nil, err
	}
	joined, err := securejoin.SecureJoin(root, rel)
	if err != nil {
		return nil, err
	}
	return os.Open(joined)
}
