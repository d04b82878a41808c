package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newWipeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wipe <entityType>",
		Short: "Drop every cached result of an entity type and forget its schemes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close(cmd.Context())

			if err := s.inv.InvalidateEntityType(cmd.Context(), args[0]); err != nil {
				return wrapError(fmt.Sprintf("wipe %s", args[0]), err, "", 1)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wiped %s\n", args[0])
			return nil
		},
	}
}

func newFlushCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Empty the whole cache store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return CommandError{
					Message:    "flush: refusing to empty the store",
					Suggestion: "Re-run with --yes; this deletes every key in the configured database.",
					ExitCode:   2,
				}
			}
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close(cmd.Context())

			if err := s.inv.InvalidateAll(cmd.Context()); err != nil {
				return wrapError("flush", err, "", 1)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "flushed")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm emptying the store")
	return cmd
}
