package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var showResult bool

	cmd := &cobra.Command{
		Use:   "status <job_id>",
		Short: "Show a job and its execution history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			rec, err := s.GetStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			j := rec.Job
			fmt.Fprintf(out, "id:          %s\n", j.ID)
			fmt.Fprintf(out, "name:        %s\n", j.Name)
			fmt.Fprintf(out, "function:    %s\n", j.FunctionID)
			fmt.Fprintf(out, "status:      %s\n", j.Status)
			fmt.Fprintf(out, "priority:    %d\n", j.Priority)
			fmt.Fprintf(out, "attempts:    %d/%d\n", j.Attempts, j.MaxAttempts)
			fmt.Fprintf(out, "created:     %s\n", j.CreatedAt.Local().Format(time.DateTime))
			if j.Description != "" {
				fmt.Fprintf(out, "description: %s\n", j.Description)
			}
			if len(j.Dependencies) > 0 {
				fmt.Fprintf(out, "depends on:  %v\n", j.Dependencies)
			}
			if j.WorkflowID != "" {
				fmt.Fprintf(out, "workflow:    %s\n", j.WorkflowID)
			}
			if j.WorkerID != "" {
				fmt.Fprintf(out, "worker:      %s\n", j.WorkerID)
			}
			if j.Error != "" {
				fmt.Fprintf(out, "error:       %s\n", j.Error)
			}
			if showResult && len(j.Result) > 0 {
				fmt.Fprintf(out, "result:      %s\n", j.Result)
			}

			if len(rec.Executions) > 0 {
				fmt.Fprintln(out, "executions:")
				for i, e := range rec.Executions {
					line := fmt.Sprintf("  %d. %s  worker=%s  started=%s",
						i+1, e.Status, e.WorkerID,
						e.StartedAt.Local().Format(time.DateTime))
					if e.Error != "" {
						line += "  error=" + e.Error
					}
					fmt.Fprintln(out, line)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showResult, "show-result", false, "print the stored result JSON")
	return cmd
}
