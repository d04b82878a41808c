package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newInvalidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate <entityType> field=value...",
		Short: "Invalidate cached results depending on one object",
		Long:  "Drops every cached result tagged with a conjunction the given field values satisfy. Pass the object's current field values.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseAssignments(args[1:])
			if err != nil {
				return err
			}
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.close(cmd.Context())

			if err := s.inv.Invalidate(cmd.Context(), args[0], values); err != nil {
				return wrapError(fmt.Sprintf("invalidate %s", args[0]), err, "Caches of this type may be stale; retry or run wipe.", 1)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "invalidated %s\n", args[0])
			return nil
		},
	}
}

// parseAssignments turns "field=value" args into a value map. Values stay
// strings: they are formatted into keys verbatim.
func parseAssignments(args []string) (map[string]any, error) {
	values := make(map[string]any, len(args))
	for _, a := range args {
		field, value, ok := strings.Cut(a, "=")
		if !ok || field == "" {
			return nil, CommandError{
				Message:    fmt.Sprintf("invalid assignment %q", a),
				Suggestion: "Use field=value, for example status=paid.",
				ExitCode:   2,
			}
		}
		if _, dup := values[field]; dup {
			return nil, CommandError{Message: fmt.Sprintf("field %q given twice", field), ExitCode: 2}
		}
		values[field] = value
	}
	return values, nil
}
