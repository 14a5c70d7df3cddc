package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"warden/internal/boundary"
)

func newSessionsCommand(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage the session directory",
		Long: `Manage the session directory that maps session ids to project roots.
Calls made with --session resolve their project root here.`,
	}
	cmd.AddCommand(newSessionsAddCommand(flags), newSessionsRemoveCommand(flags), newSessionsListCommand(flags))
	return cmd
}

func newSessionsAddCommand(flags *rootFlags) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "add <project-root>",
		Short: "Register a session for a project root",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := boundary.NewRoot(args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			dir, err := openSessions(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer dir.Close()

			if id == "" {
				id = uuid.NewString()
			}
			if err := dir.Register(cmd.Context(), id, string(root)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Session id (default: a new UUID)")
	return cmd
}

func newSessionsRemoveCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <session-id>",
		Short:   "Remove a session",
		Aliases: []string{"remove"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			dir, err := openSessions(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer dir.Close()
			return dir.Remove(cmd.Context(), args[0])
		},
	}
}

func newSessionsListCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Short:   "List sessions",
		Aliases: []string{"list"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			dir, err := openSessions(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer dir.Close()

			sessions, err := dir.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sessions registered.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tPROJECT ROOT\tCREATED")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\n", s.ID, s.ProjectRoot, s.CreatedAt.Local().Format(time.DateTime))
			}
			return w.Flush()
		},
	}
}
