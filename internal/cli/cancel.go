package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"jobq/internal/storage"
)

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job_id>",
		Short: "Cancel a pending or failed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			// Distinguish "no such job" from "wrong status" for exit codes.
			if _, err := s.GetStatus(cmd.Context(), args[0]); err != nil {
				return err
			}
			ok, err := s.Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: job %s cannot be cancelled in its current status",
					storage.ErrConflict, args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancelled %s\n", args[0])
			return nil
		},
	}
}
