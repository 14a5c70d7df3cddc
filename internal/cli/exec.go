package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"warden/internal/tooling"
)

func newExecCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "exec [call-json | tool [args-json]]",
		Short: "Execute one tool call",
		Long: `Execute one tool call and print its result.

The call is either a JSON object such as {"name":"read_file","arguments":{"path":"go.mod"}},
or a tool name followed by an optional JSON arguments object. With no arguments the
call is read from stdin.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := callFromArgs(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.Close()

			res := a.executor.Execute(cmd.Context(), raw, a.ec)
			if err := newPrinter(cmd.OutOrStdout(), flags.json).Result(res); err != nil {
				return err
			}
			if res.Status != tooling.StatusOK {
				return NewExitCodeError(1)
			}
			return nil
		},
	}
}

// callFromArgs builds the raw call handed to the executor. Parsing is left
// to the executor so malformed calls still produce a Result.
func callFromArgs(args []string, stdin io.Reader) (any, error) {
	switch len(args) {
	case 0:
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read call from stdin: %w", err)
		}
		return json.RawMessage(data), nil
	case 1:
		if strings.HasPrefix(strings.TrimSpace(args[0]), "{") {
			return args[0], nil
		}
		return map[string]any{"name": args[0], "arguments": map[string]any{}}, nil
	default:
		var callArgs map[string]any
		if err := json.Unmarshal([]byte(args[1]), &callArgs); err != nil {
			return nil, fmt.Errorf("arguments for %s must be a JSON object: %w", args[0], err)
		}
		return map[string]any{"name": args[0], "arguments": callArgs}, nil
	}
}

func newBatchCommand(flags *rootFlags) *cobra.Command {
	var concurrent bool
	cmd := &cobra.Command{
		Use:   "batch <file|->",
		Short: "Execute a JSON array of tool calls",
		Long: `Execute every call in a JSON array and print one result per call, in input order.
Calls run one after another unless --concurrent is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			calls, err := readBatch(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.Close()

			mode := tooling.Sequential
			if concurrent {
				mode = tooling.Concurrent
			}
			results := a.executor.ExecuteBatch(cmd.Context(), calls, a.ec, mode)
			if err := newPrinter(cmd.OutOrStdout(), flags.json).Results(results); err != nil {
				return err
			}
			for _, res := range results {
				if res.Status != tooling.StatusOK {
					return NewExitCodeError(1)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&concurrent, "concurrent", false, "Run calls concurrently (bounded by batch_concurrency)")
	return cmd
}

func readBatch(path string, stdin io.Reader) ([]any, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read batch: %w", err)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("batch must be a JSON array of calls: %w", err)
	}
	if len(items) == 0 {
		return nil, errors.New("batch is empty")
	}
	calls := make([]any, len(items))
	for i, item := range items {
		calls[i] = item
	}
	return calls, nil
}

func newScriptCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "script <file.lua|->",
		Short: "Run a Lua script through run_script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				code []byte
				err  error
			)
			if args[0] == "-" {
				code, err = io.ReadAll(cmd.InOrStdin())
			} else {
				code, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("read script: %w", err)
			}
			a, err := newApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			defer a.Close()

			res := a.executor.Execute(cmd.Context(), map[string]any{
				"name":      "run_script",
				"arguments": map[string]any{"code": string(code)},
			}, a.ec)
			if err := newPrinter(cmd.OutOrStdout(), flags.json).Result(res); err != nil {
				return err
			}
			if res.Status != tooling.StatusOK {
				return NewExitCodeError(1)
			}
			return nil
		},
	}
}
