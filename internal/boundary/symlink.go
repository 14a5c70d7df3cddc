package boundary

import (
	"os"
	"path/filepath"
	"strings"

	"warden/internal/security"
)

// maxSymlinkHops mirrors the kernel's ELOOP limit for chains that grow
// instead of repeating.
const maxSymlinkHops = 40

// resolveSymlinks follows every symlink along path, one hop at a time.
// Each hop target must stay inside root. A resolution state seen twice is
// a cycle. Missing tails are accepted so creation targets validate.
func resolveSymlinks(path, root string) (string, error) {
	visited := map[string]struct{}{path: {}}
	current := path
	for hops := 0; ; hops++ {
		if hops > maxSymlinkHops {
			return "", security.NewError(security.InvalidPath, path, "too many levels of symbolic links")
		}
		next, dest, hopped := followFirstLink(current, root)
		if !hopped {
			return current, nil
		}
		if !Within(dest, root) || !Within(next, root) {
			return "", security.NewError(security.SymlinkEscapesBoundary, path, "symlink points to "+dest)
		}
		if _, seen := visited[next]; seen {
			return "", security.NewError(security.InvalidPath, path, "symlink cycle detected")
		}
		visited[next] = struct{}{}
		current = next
	}
}

// followFirstLink walks path below root and rewrites it at the first
// symlink component. dest is the link target itself.
func followFirstLink(path, root string) (next, dest string, hopped bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return path, "", false
	}
	parts := strings.Split(rel, string(filepath.Separator))
	cur := root
	for i, part := range parts {
		cur = filepath.Join(cur, part)
		info, err := os.Lstat(cur)
		if err != nil {
			// Nothing below a missing component can be a link.
			return path, "", false
		}
		if info.Mode()&os.ModeSymlink == 0 {
			continue
		}
		target, err := os.Readlink(cur)
		if err != nil {
			return path, "", false
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(cur), target)
		}
		target = filepath.Clean(target)
		rest := append([]string{target}, parts[i+1:]...)
		return filepath.Join(rest...), target, true
	}
	return path, "", false
}
