package tooling

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"warden/internal/boundary"
	"warden/internal/events"
	"warden/internal/isolation"
	"warden/internal/logging"
	"warden/internal/middleware"
	"warden/internal/sanitize"
	"warden/internal/security"
	"warden/internal/session"
)

const (
	DefaultTimeout          = 30 * time.Second
	DefaultBatchConcurrency = 4
)

// Dispatcher replaces the default dispatch step. It receives validated
// arguments and a resolved context.
type Dispatcher func(ctx context.Context, tool Tool, args map[string]any, ec ExecContext) (any, error)

// Options wires the executor's collaborators. Only Registry is required.
type Options struct {
	Registry         *Registry
	Middleware       *middleware.Chain
	Sessions         session.Directory
	Isolation        *isolation.Executor
	Events           *events.Bus
	Dispatcher       Dispatcher
	DefaultTimeout   time.Duration
	BatchConcurrency int
}

type Executor struct {
	opts Options
	log  *logging.StructuredLogger
}

func NewExecutor(opts Options) (*Executor, error) {
	if opts.Registry == nil {
		return nil, errors.New("executor requires a tool registry")
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	if opts.BatchConcurrency <= 0 {
		opts.BatchConcurrency = DefaultBatchConcurrency
	}
	return &Executor{opts: opts, log: logging.NewStructuredLogger("executor")}, nil
}

func (e *Executor) Registry() *Registry { return e.opts.Registry }

// Execute runs one call. It never panics and always returns a Result.
func (e *Executor) Execute(ctx context.Context, raw any, ec ExecContext) Result {
	start := time.Now()

	call, err := ParseCall(raw)
	if err != nil {
		return e.fail(Result{ToolName: nameHint(raw)}, start, fmt.Sprintf("invalid tool call: %v", err))
	}
	res := Result{ToolCallID: call.ID, ToolName: call.Name}

	tool, ok := e.opts.Registry.Lookup(call.Name)
	if !ok {
		return e.fail(res, start, fmt.Sprintf("Tool '%s' not found", call.Name))
	}
	args, err := e.opts.Registry.ValidateArgs(call.Name, call.Arguments)
	if err != nil {
		return e.fail(res, start, fmt.Sprintf("invalid arguments for %s: %v", call.Name, err))
	}

	ec, err = e.resolveContext(ctx, ec)
	if err != nil {
		return e.fail(res, start, err.Error())
	}

	if e.opts.Middleware != nil {
		err := e.opts.Middleware.Check(ctx, middleware.Request{
			SessionID:       ec.SessionID,
			Tool:            tool.Name,
			Tier:            tool.Tier,
			RequiresConsent: tool.RequiresConsent,
			Granted:         ec.GrantedTier,
			Consented:       ec.Consented,
		})
		if err != nil {
			return e.fail(res, start, err.Error())
		}
	}

	timeout := e.timeoutFor(tool, ec)
	e.opts.Events.Publish(events.Event{
		Type:      events.ToolCallStarted,
		CallID:    call.ID,
		SessionID: ec.SessionID,
		ToolName:  tool.Name,
		Arguments: sanitizeArgs(args),
	})

	value, status, err := e.dispatch(ctx, tool, args, ec, timeout)
	res.Duration = time.Since(start)
	res.Status = status
	switch {
	case status == StatusTimeout:
		res.Content = fmt.Sprintf("Tool '%s' timed out after %s", tool.Name, timeout)
	case err != nil:
		res.Content = sanitize.String(err.Error())
	default:
		res.Content = sanitize.Value(value)
	}

	e.opts.Events.Publish(events.Event{
		Type:       events.ToolCallFinished,
		CallID:     call.ID,
		SessionID:  ec.SessionID,
		ToolName:   tool.Name,
		Arguments:  sanitizeArgs(args),
		Status:     string(res.Status),
		Result:     res.Content,
		DurationMs: res.Duration.Milliseconds(),
	})
	e.log.Debug("tool call finished", map[string]interface{}{
		"call_id":     call.ID,
		"tool":        tool.Name,
		"session":     ec.SessionID,
		"status":      string(res.Status),
		"duration_ms": res.Duration.Milliseconds(),
	})
	return res
}

func (e *Executor) fail(res Result, start time.Time, msg string) Result {
	res.Status = StatusError
	res.Content = sanitize.String(msg)
	res.Duration = time.Since(start)
	e.log.Info("tool call rejected", map[string]interface{}{
		"call_id": res.ToolCallID,
		"tool":    res.ToolName,
		"reason":  res.Content,
	})
	return res
}

func nameHint(raw any) string {
	if m, ok := raw.(map[string]any); ok {
		if name, ok := m["name"].(string); ok {
			return name
		}
	}
	return ""
}

func sanitizeArgs(args map[string]any) map[string]any {
	if clean, ok := sanitize.Value(args).(map[string]any); ok {
		return clean
	}
	return nil
}

// resolveContext fills ProjectRoot from the session directory when it is
// missing and canonicalizes it.
func (e *Executor) resolveContext(ctx context.Context, ec ExecContext) (ExecContext, error) {
	if ec.ProjectRoot == "" && ec.SessionID != "" && e.opts.Sessions != nil {
		s, err := e.opts.Sessions.Lookup(ctx, ec.SessionID)
		if err != nil {
			return ec, fmt.Errorf("resolve session %s: %w", ec.SessionID, err)
		}
		ec.ProjectRoot = s.ProjectRoot
	}
	if ec.ProjectRoot == "" {
		return ec, errors.New("no project root: pass one or a session id known to the session directory")
	}
	root, err := boundary.NewRoot(ec.ProjectRoot)
	if err != nil {
		return ec, err
	}
	ec.ProjectRoot = string(root)
	return ec, nil
}

func (e *Executor) timeoutFor(tool Tool, ec ExecContext) time.Duration {
	switch {
	case ec.Timeout > 0:
		return ec.Timeout
	case tool.Timeout > 0:
		return tool.Timeout
	default:
		return e.opts.DefaultTimeout
	}
}

type outcome struct {
	value any
	err   error
}

// dispatch runs the handler in its own goroutine and stops waiting when
// the timeout fires. Handlers that ignore ctx are abandoned.
func (e *Executor) dispatch(ctx context.Context, tool Tool, args map[string]any, ec ExecContext, timeout time.Duration) (any, Status, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.log.Error("tool handler panicked", map[string]interface{}{
					"tool":  tool.Name,
					"panic": fmt.Sprint(r),
					"stack": string(debug.Stack()),
				})
				done <- outcome{err: fmt.Errorf("tool %s panicked: %v", tool.Name, r)}
			}
		}()
		v, err := e.invoke(runCtx, tool, args, ec, timeout)
		done <- outcome{value: v, err: err}
	}()

	select {
	case o := <-done:
		if errors.Is(o.err, isolation.ErrTimeout) {
			return nil, StatusTimeout, o.err
		}
		if o.err != nil {
			return nil, StatusError, o.err
		}
		return o.value, StatusOK, nil
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return nil, StatusError, fmt.Errorf("tool call cancelled: %w", ctx.Err())
		}
		e.log.Warn("tool call timed out", map[string]interface{}{"tool": tool.Name, "timeout": timeout.String()})
		return nil, StatusTimeout, context.DeadlineExceeded
	}
}

func (e *Executor) invoke(ctx context.Context, tool Tool, args map[string]any, ec ExecContext, timeout time.Duration) (any, error) {
	if e.opts.Dispatcher != nil {
		return e.opts.Dispatcher(ctx, tool, args, ec)
	}
	if tool.Isolated && e.opts.Isolation != nil {
		return e.opts.Isolation.Run(ctx, isolation.Request{
			Tool:        tool.Name,
			Arguments:   args,
			SessionID:   ec.SessionID,
			ProjectRoot: ec.ProjectRoot,
			GrantedTier: ec.GrantedTier.String(),
			Consented:   ec.Consented,
		}, timeout)
	}
	return tool.Handler.Execute(ctx, args, ec)
}

// BatchMode selects how ExecuteBatch schedules calls.
type BatchMode int

const (
	Sequential BatchMode = iota
	Concurrent
)

// ExecuteBatch runs calls and returns one Result per call in input order.
func (e *Executor) ExecuteBatch(ctx context.Context, calls []any, ec ExecContext, mode BatchMode) []Result {
	results := make([]Result, len(calls))
	if mode == Sequential {
		for i, call := range calls {
			results[i] = e.Execute(ctx, call, ec)
		}
		return results
	}

	var g errgroup.Group
	g.SetLimit(e.opts.BatchConcurrency)
	for i, call := range calls {
		i, call := i, call // per-iteration copy; go.mod targets go 1.21
		g.Go(func() error {
			results[i] = e.Execute(ctx, call, ec)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// WorkerLookup resolves tools inside an isolation worker, where calls
// arrive already validated by the parent.
func (r *Registry) WorkerLookup() isolation.Lookup {
	return func(name string) (isolation.HandlerFunc, bool) {
		tool, ok := r.Lookup(name)
		if !ok {
			return nil, false
		}
		return func(ctx context.Context, req isolation.Request) (any, error) {
			root, err := boundary.NewRoot(req.ProjectRoot)
			if err != nil {
				return nil, err
			}
			ec := ExecContext{SessionID: req.SessionID, ProjectRoot: string(root), Consented: req.Consented}
			if req.GrantedTier != "" {
				if tier, err := security.ParseTier(req.GrantedTier); err == nil {
					ec.GrantedTier = tier
				}
			}
			return tool.Handler.Execute(ctx, req.Arguments, ec)
		}, true
	}
}
