package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"jobq/internal/storage"
)

func newSubmitCmd() *cobra.Command {
	var (
		name        string
		description string
		params      []string
		priority    int
		maxAttempts int
		timeout     int
		dependsOn   []string
	)

	cmd := &cobra.Command{
		Use:   "submit <function_id>",
		Short: "Submit a job to the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseParams(params)
			if err != nil {
				return err
			}

			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			if name == "" {
				name = args[0]
			}
			j := storage.NewJob(name, args[0], parsed)
			j.Description = description
			j.Priority = priority
			j.Dependencies = dependsOn
			if maxAttempts != 0 {
				j.MaxAttempts = maxAttempts
			}
			if timeout != 0 {
				j.TimeoutSeconds = timeout
			}

			id, err := s.Submit(cmd.Context(), j)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "job name (defaults to the function id)")
	cmd.Flags().StringVar(&description, "description", "", "free-form job description")
	cmd.Flags().StringArrayVar(&params, "param", nil, "job parameter as key=value (repeatable)")
	cmd.Flags().IntVar(&priority, "priority", 0, "higher priority jobs are claimed first")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "maximum execution attempts (default 3)")
	cmd.Flags().IntVar(&timeout, "timeout", 0, "per-attempt timeout in seconds (default 300)")
	cmd.Flags().StringArrayVar(&dependsOn, "depends-on", nil, "job id that must complete first (repeatable)")
	return cmd
}

// parseParams turns key=value pairs into a parameter map. Values that parse
// as JSON keep their type (numbers, booleans, objects); everything else is
// a string.
func parseParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: --param wants key=value, got %q", errUsage, p)
		}
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err == nil {
			out[k] = decoded
		} else {
			out[k] = v
		}
	}
	return out, nil
}
