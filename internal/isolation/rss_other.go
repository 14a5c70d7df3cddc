//go:build !linux

package isolation

import "errors"

// Without /proc the ceiling is enforced only through GOMEMLIMIT in the worker.
func residentBytes(pid int) (int64, error) {
	return 0, errors.New("resident set size not available on this platform")
}
