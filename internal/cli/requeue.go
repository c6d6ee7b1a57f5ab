package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"jobq/internal/storage"
)

func newRequeueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <job_id>",
		Short: "Reset a failed, cancelled, or timed-out job to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			if _, err := s.GetStatus(cmd.Context(), args[0]); err != nil {
				return err
			}
			ok, err := s.Requeue(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: job %s cannot be requeued in its current status",
					storage.ErrConflict, args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "requeued %s\n", args[0])
			return nil
		},
	}
}
