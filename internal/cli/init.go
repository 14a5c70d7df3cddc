package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"warden/internal/config"
)

func newInitCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config.yaml if none exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if path := strings.TrimSpace(flags.configPath); path != "" {
				os.Setenv("WARDEN_CONFIG_PATH", path)
			}
			path, err := config.EnsureDefaultConfig()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config: %s\n", path)
			return nil
		},
	}
}
