package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newClearCmd() *cobra.Command {
	var beforeDays int

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete terminally-statused jobs and their executions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if beforeDays < 0 {
				return fmt.Errorf("%w: --before must not be negative", errUsage)
			}

			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			n, err := s.Cleanup(cmd.Context(), time.Duration(beforeDays)*24*time.Hour)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d job(s)\n", n)
			return nil
		},
	}

	cmd.Flags().IntVar(&beforeDays, "before", 0, "only remove jobs completed more than this many days ago")
	return cmd
}
