package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"jobq/internal/storage"
)

func newListCmd() *cobra.Command {
	var (
		status   string
		workflow string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := storage.Filter{
				Status:     storage.Status(status),
				WorkflowID: workflow,
				Limit:      limit,
			}
			if f.Status != "" && !f.Status.Valid() {
				return fmt.Errorf("%w: unknown status %q", errUsage, status)
			}

			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			jobs, err := s.List(cmd.Context(), f)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSTATUS\tPRIORITY\tATTEMPTS\tCREATED\tWORKFLOW")
			for _, j := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d/%d\t%s\t%s\n",
					j.ID, j.Name, j.Status, j.Priority,
					j.Attempts, j.MaxAttempts,
					j.CreatedAt.Local().Format(time.DateTime),
					j.WorkflowID)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&workflow, "workflow", "", "filter by workflow id")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows to print (0 = all)")
	return cmd
}
