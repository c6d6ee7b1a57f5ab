package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"jobq/internal/otelsetup"
	"jobq/internal/worker"
)

func newWorkerCmd() *cobra.Command {
	var (
		id   string
		once bool
		poll int
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a worker that claims and executes jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if poll <= 0 {
				return fmt.Errorf("%w: --poll must be positive", errUsage)
			}

			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			w := worker.New(s, builtinRegistry(),
				worker.WithID(id),
				worker.WithPollInterval(time.Duration(poll)*time.Second))

			if once {
				processed, err := w.ProcessOne(cmd.Context())
				if err != nil {
					return err
				}
				if processed {
					fmt.Fprintln(cmd.OutOrStdout(), "processed one job")
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "no eligible job")
				}
				return nil
			}

			shutdown, err := otelsetup.Init(cmd.Context())
			if err != nil {
				slog.Warn("otel init failed, continuing without telemetry",
					slog.String("error", err.Error()))
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			go func() {
				sigCh := make(chan os.Signal, 1)
				signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
				sig := <-sigCh
				slog.Info("signal received, shutting down", slog.String("signal", sig.String()))
				cancel()
			}()

			w.Start(ctx)

			if shutdown != nil {
				flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer flushCancel()
				shutdown(flushCtx)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "worker id (default host:pid:n)")
	cmd.Flags().BoolVar(&once, "once", false, "process at most one job, then exit")
	cmd.Flags().IntVar(&poll, "poll", 5, "seconds to sleep when no job is available")
	return cmd
}
