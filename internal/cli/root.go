// Package cli implements the warden command line.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"warden/internal/config"
	"warden/internal/isolation"
	"warden/internal/logging"
	"warden/internal/tooling"
)

// Version is set via -ldflags during build
var Version = "dev"

type rootFlags struct {
	configPath string
	root       string
	session    string
	grant      string
	consent    []string
	json       bool
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:   "warden",
		Short: "Sandboxed tool execution for LLM agents",
		Long: `Warden executes tool calls emitted by a language model inside a project
boundary: paths cannot escape the project root, only allowlisted commands run,
every call passes rate, permission and consent checks, and output is scrubbed
of secrets before it is returned.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "Path to config.yaml (default ~/.warden/config.yaml)")
	pf.StringVar(&flags.root, "root", "", "Project root; overrides project_root from the config")
	pf.StringVar(&flags.session, "session", "", "Session id resolved through the session directory")
	pf.StringVar(&flags.grant, "grant", "", "Granted tier: read_only, mutating or destructive")
	pf.StringSliceVar(&flags.consent, "consent", nil, "Tools approved for consent-gated execution")
	pf.BoolVar(&flags.json, "json", false, "Always print JSON, even on a terminal")

	root.AddCommand(
		newExecCommand(flags),
		newBatchCommand(flags),
		newScriptCommand(flags),
		newToolsCommand(flags),
		newReplCommand(flags),
		newSessionsCommand(flags),
		newInitCommand(flags),
	)
	return root
}

// Execute runs the root command and returns any error.
func Execute() error {
	defer logging.Sync()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCommand().ExecuteContext(ctx)
}

// ServeWorker runs this process as an isolation worker and returns its
// exit code. The parent passes config through WARDEN_CONFIG_PATH.
func ServeWorker() int {
	cfg, err := config.LoadUserConfig()
	if err != nil {
		cfg = config.Default()
	}
	logging.Init(logging.Options{Level: "error"})
	registry, err := tooling.NewRegistry(tooling.Builtins(builtinOptions(cfg, nil))...)
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		return 2
	}
	return isolation.Serve(registry.WorkerLookup())
}
