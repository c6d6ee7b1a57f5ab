// Package cli implements the jobq command tree.
//
// Exit codes: 0 success, 1 usage error, 2 job not found, 3 transition
// conflict, 4 store error.
package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"jobq/internal/storage"
)

var dbPath string

// errUsage marks command-level argument problems (exit code 1).
var errUsage = errors.New("usage error")

// NewRootCmd builds the full command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "jobq",
		Short:         "A local-first job queue backed by SQLite",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dbPath, "db", "jobq.db", "path to the SQLite database file")
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", errUsage, err)
	})

	root.AddCommand(
		newSubmitCmd(),
		newListCmd(),
		newStatusCmd(),
		newCancelCmd(),
		newRequeueCmd(),
		newWorkerCmd(),
		newClearCmd(),
		newServeCmd(),
	)
	return root
}

// Execute runs the command tree and returns the process exit code.
func Execute() int {
	err := NewRootCmd().Execute()
	if err == nil {
		return 0
	}
	fmt.Fprintln(os.Stderr, "jobq:", err)
	switch {
	case errors.Is(err, errUsage), errors.Is(err, storage.ErrInvalidJob):
		return 1
	case errors.Is(err, storage.ErrNotFound):
		return 2
	case errors.Is(err, storage.ErrConflict):
		return 3
	default:
		return 4
	}
}

// openStore opens the database named by the global --db flag.
func openStore() (*storage.Store, error) {
	s, err := storage.NewStore(dbPath)
	if err != nil {
		slog.Error("open store failed", slog.String("db", dbPath), slog.String("error", err.Error()))
		return nil, err
	}
	return s, nil
}
