package isolation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// HandlerFunc runs one isolated tool call inside the worker.
type HandlerFunc func(ctx context.Context, req Request) (any, error)

// Lookup resolves a tool name inside the worker.
type Lookup func(tool string) (HandlerFunc, bool)

// IsWorker reports whether this process was started by an Executor.
func IsWorker() bool {
	return os.Getenv(WorkerEnv) == "1"
}

// Serve handles the single request on stdin and returns the exit code.
// Handler panics are not recovered: they crash the worker, which the
// parent reports as CrashedError.
func Serve(lookup Lookup) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return ServeIO(ctx, lookup, os.Stdin, os.Stdout)
}

// ServeIO is Serve over explicit streams.
func ServeIO(ctx context.Context, lookup Lookup, in io.Reader, out io.Writer) int {
	var req Request
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		fmt.Fprintf(os.Stderr, "isolation worker: decode request: %v\n", err)
		return 2
	}

	var resp response
	handler, ok := lookup(req.Tool)
	if !ok {
		resp.Error = fmt.Sprintf("Tool '%s' not found", req.Tool)
		return writeResponse(out, resp)
	}

	value, err := handler(ctx, req)
	if err != nil {
		resp.Error = err.Error()
		return writeResponse(out, resp)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		resp.Error = fmt.Sprintf("encode result: %v", err)
		return writeResponse(out, resp)
	}
	resp.OK = true
	resp.Value = raw
	return writeResponse(out, resp)
}

func writeResponse(out io.Writer, resp response) int {
	if err := json.NewEncoder(out).Encode(resp); err != nil {
		fmt.Fprintf(os.Stderr, "isolation worker: write response: %v\n", err)
		return 2
	}
	return 0
}
