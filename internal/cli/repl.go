package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"text/tabwriter"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"warden/internal/config"
	"warden/internal/tooling"
)

var commandSuggestions = []prompt.Suggest{
	{Text: ":help", Description: "show this text"},
	{Text: ":tools", Description: "list registered tools"},
	{Text: ":jobs", Description: "list background commands in this session"},
	{Text: ":quit", Description: "exit the program"},
	{Text: ":exit", Description: "exit the program"},
}

const replHelp = `Enter a tool call as JSON, or a tool name followed by a JSON arguments object:

  read_file {"path": "go.mod"}
  {"name": "list_directory", "arguments": {}}

Commands: :help :tools :jobs :quit
`

// promptExit unwinds go-prompt's Run loop, which has no exit API.
type promptExit struct{}

type repl struct {
	app     *app
	printer *printer
	out     io.Writer
}

func newReplCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Interactive tool-call shell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			a, err := newApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			r := &repl{app: a, printer: newPrinter(out, flags.json), out: out}
			if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
				return r.runInteractive(ctx, cancel)
			}
			return r.runNonInteractive(ctx, cmd.InOrStdin())
		},
	}
}

func (r *repl) runInteractive(ctx context.Context, cancel context.CancelFunc) (err error) {
	history := loadInputHistory(filepath.Join(config.GetConfigDir(), "history"))

	var restore func()
	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		if state, terr := term.GetState(fd); terr == nil {
			restore = func() { _ = term.Restore(fd, state) }
		}
	}
	if restore != nil {
		defer restore()
	}

	var exitRequested atomic.Bool
	defer func() {
		if rec := recover(); rec != nil {
			if _, ok := rec.(promptExit); ok {
				err = nil
				return
			}
			panic(rec)
		}
	}()

	fmt.Fprintf(r.out, "warden %s · project %s · %s\n", Version, r.app.cfg.ProjectRoot, r.app.ec.GrantedTier)
	fmt.Fprintln(r.out, "Type :help for usage.")

	executor := func(in string) {
		if exitRequested.Load() || ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(in)
		if line == "" {
			return
		}
		history.Add(line)
		if exit := r.handleLine(ctx, line); exit {
			exitRequested.Store(true)
			cancel()
			panic(promptExit{})
		}
	}

	p := prompt.New(
		executor,
		r.completer(),
		prompt.OptionHistory(history.Entries()),
		prompt.OptionTitle("Warden"),
		prompt.OptionPrefix("warden> "),
		prompt.OptionAddKeyBind(
			prompt.KeyBind{
				Key: prompt.ControlD,
				Fn: func(buf *prompt.Buffer) {
					if buf.Text() == "" {
						exitRequested.Store(true)
						cancel()
						panic(promptExit{})
					}
				},
			},
		),
		prompt.OptionSetExitCheckerOnInput(func(string, bool) bool {
			if exitRequested.Load() {
				return true
			}
			select {
			case <-ctx.Done():
				return true
			default:
				return false
			}
		}),
	)

	p.Run()
	return nil
}

// runNonInteractive reads one call per line until EOF.
func (r *repl) runNonInteractive(ctx context.Context, in io.Reader) error {
	data, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if r.handleLine(ctx, line) {
			return nil
		}
	}
	return nil
}

// handleLine runs one REPL line and reports whether to exit.
func (r *repl) handleLine(ctx context.Context, line string) bool {
	switch fields := strings.Fields(line); fields[0] {
	case ":quit", ":exit":
		return true
	case ":help":
		fmt.Fprint(r.out, replHelp)
		return false
	case ":tools":
		fmt.Fprintln(r.out, strings.Join(r.app.registry.Names(), "\n"))
		return false
	case ":jobs":
		r.printJobs()
		return false
	}

	raw, err := callFromLine(line)
	if err != nil {
		fmt.Fprintf(r.out, "error: %v\n", err)
		return false
	}
	res := r.app.executor.Execute(ctx, raw, r.app.ec)
	if err := r.printer.Result(res); err != nil {
		fmt.Fprintf(r.out, "error: %v\n", err)
	}
	return false
}

// callFromLine splits "tool {args}" into the argument form callFromArgs
// expects. A line starting with '{' is a whole call.
func callFromLine(line string) (any, error) {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "{") {
		return callFromArgs([]string{line}, nil)
	}
	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return callFromArgs([]string{name}, nil)
	}
	return callFromArgs([]string{name, rest}, nil)
}

func (r *repl) printJobs() {
	jobs := r.app.background.List(r.app.ec.SessionID)
	if len(jobs) == 0 {
		fmt.Fprintln(r.out, "No background commands.")
		return
	}
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tSTARTED\tCOMMAND")
	for _, j := range jobs {
		cmdline := strings.TrimSpace(j.Command + " " + strings.Join(j.Args, " "))
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", j.ID, j.Status, j.StartedAt.Local().Format(time.TimeOnly), cmdline)
	}
	w.Flush()
}

func (r *repl) completer() func(prompt.Document) []prompt.Suggest {
	tools := toolSuggestions(r.app.registry)
	return func(doc prompt.Document) []prompt.Suggest {
		return suggestFor(doc.TextBeforeCursor(), tools)
	}
}

func toolSuggestions(registry *tooling.Registry) []prompt.Suggest {
	names := registry.Names()
	out := make([]prompt.Suggest, 0, len(names))
	for _, name := range names {
		tool, _ := registry.Lookup(name)
		desc, _, _ := strings.Cut(tool.Description, ".")
		out = append(out, prompt.Suggest{Text: name, Description: desc})
	}
	return out
}

// suggestFor completes the first word only: commands after ':', tool
// names otherwise.
func suggestFor(before string, tools []prompt.Suggest) []prompt.Suggest {
	trimmed := strings.TrimLeft(before, " \t")
	if trimmed == "" || strings.ContainsAny(trimmed, " \t{") {
		return nil
	}
	if strings.HasPrefix(trimmed, ":") {
		return prompt.FilterHasPrefix(commandSuggestions, trimmed, true)
	}
	return prompt.FilterHasPrefix(tools, trimmed, true)
}
