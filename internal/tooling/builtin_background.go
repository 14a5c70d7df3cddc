package tooling

import (
	"context"
	"fmt"
	"time"

	"warden/internal/background"
	"warden/internal/boundary"
	"warden/internal/security"
)

func (b builtins) backgroundTools() []Tool {
	return []Tool{
		{
			Name:        "shell_background",
			Description: "Start an allowlisted command in the background and return its shell_id.",
			Params: []Param{
				{Name: "command", Type: TypeString, Required: true},
				{Name: "args", Type: TypeArray, Items: &Param{Type: TypeString}},
			},
			Tier:    security.TierMutating,
			Handler: HandlerFunc(b.shellBackground),
		},
		{
			Name:        "shell_output",
			Description: "Get buffered output and status of a background command, optionally waiting for it to finish.",
			Params: []Param{
				{Name: "shell_id", Type: TypeString, Required: true},
				{Name: "block", Type: TypeBoolean, Default: false},
				{Name: "timeout_seconds", Type: TypeInteger},
			},
			Tier:    security.TierReadOnly,
			Handler: HandlerFunc(b.shellOutput),
		},
		{
			Name:        "shell_kill",
			Description: "Kill a running background command.",
			Params: []Param{
				{Name: "shell_id", Type: TypeString, Required: true},
			},
			Tier:    security.TierMutating,
			Handler: HandlerFunc(b.shellKill),
		},
	}
}

func (b builtins) shellBackground(_ context.Context, args map[string]any, ec ExecContext) (any, error) {
	command, _ := stringArg(args, "command")
	cmdArgs, err := stringSliceArg(args, "args")
	if err != nil {
		return nil, err
	}
	id, err := b.opts.Background.Start(command, cmdArgs, ec.SessionID, boundary.Root(ec.ProjectRoot))
	if err != nil {
		return nil, err
	}
	return map[string]any{"shell_id": id, "status": string(background.Running)}, nil
}

// ownedSnapshot hides other sessions' commands behind ErrNotFound.
func (b builtins) ownedSnapshot(ctx context.Context, id string, ec ExecContext, block bool, timeout time.Duration) (background.Snapshot, error) {
	snap, err := b.opts.Background.GetOutput(ctx, id, false, 0)
	if err != nil {
		return snap, err
	}
	if snap.SessionID != ec.SessionID {
		return background.Snapshot{}, fmt.Errorf("%w: %s", background.ErrNotFound, id)
	}
	if !block {
		return snap, nil
	}
	return b.opts.Background.GetOutput(ctx, id, true, timeout)
}

func (b builtins) shellOutput(ctx context.Context, args map[string]any, ec ExecContext) (any, error) {
	id, _ := stringArg(args, "shell_id")
	timeout := b.opts.OutputWaitTimeout
	if secs := intArg(args, "timeout_seconds", 0); secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}
	return b.ownedSnapshot(ctx, id, ec, boolArg(args, "block", false), timeout)
}

func (b builtins) shellKill(ctx context.Context, args map[string]any, ec ExecContext) (any, error) {
	id, _ := stringArg(args, "shell_id")
	if _, err := b.ownedSnapshot(ctx, id, ec, false, 0); err != nil {
		return nil, err
	}
	return b.opts.Background.Kill(id)
}
