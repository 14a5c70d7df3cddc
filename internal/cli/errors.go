package cli

import "fmt"

// ExitCodeError carries a process exit code out of a command without
// printing anything further. Results have already been written.
type ExitCodeError struct {
	Code int
}

func NewExitCodeError(code int) *ExitCodeError {
	return &ExitCodeError{Code: code}
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}
