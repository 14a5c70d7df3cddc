package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"warden/internal/background"
	"warden/internal/tooling"
)

func newToolsCommand(flags *rootFlags) *cobra.Command {
	var definitions bool
	cmd := &cobra.Command{
		Use:     "tools",
		Short:   "List the tool catalogue",
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			// Only the catalogue is needed; nothing is started.
			registry, err := tooling.NewRegistry(tooling.Builtins(builtinOptions(cfg, background.NewRegistry(0)))...)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if definitions {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(registry.Definitions())
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTIER\tCONSENT\tISOLATED")
			for _, name := range registry.Names() {
				tool, _ := registry.Lookup(name)
				tier := tool.Tier
				if override, ok := cfg.ToolTier(name); ok {
					tier = override
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, tier, yesNo(tool.RequiresConsent), yesNo(tool.Isolated))
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&definitions, "definitions", false, "Print the JSON function definitions handed to a model")
	return cmd
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
