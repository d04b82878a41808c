package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSchemesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schemes <entityType>",
		Short: "List the schemes registered for an entity type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close(cmd.Context())

			schemes, err := s.inv.Schemes(cmd.Context(), args[0])
			if err != nil {
				return wrapError(fmt.Sprintf("schemes: load %s", args[0]), err, "", 1)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "version %d\n", s.inv.Version(args[0]))
			for _, sc := range schemes {
				if sc.IsEmpty() {
					fmt.Fprintln(out, "(all)")
					continue
				}
				fmt.Fprintln(out, sc.String())
			}
			return nil
		},
	}
}
