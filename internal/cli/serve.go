package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"jobq/internal/httpapi"
	"jobq/internal/otelsetup"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the queue over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			// A previous server of this database may have crashed with jobs
			// still marked running; put them back in the queue.
			if n, err := s.RequeueRunning(cmd.Context()); err != nil {
				return err
			} else if n > 0 {
				slog.Info("requeued orphaned running jobs", slog.Int64("count", n))
			}

			shutdown, err := otelsetup.Init(cmd.Context())
			if err != nil {
				slog.Warn("otel init failed, continuing without telemetry",
					slog.String("error", err.Error()))
			}

			h := &httpapi.Handler{Store: s}
			srv := &http.Server{
				Addr:         addr,
				Handler:      httpapi.NewRouter(h),
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

			errCh := make(chan error, 1)
			go func() {
				slog.Info("http server starting", slog.String("addr", addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case err := <-errCh:
				return err
			case <-stop:
			}

			slog.Info("shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
			if shutdown != nil {
				shutdown(ctx)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	return cmd
}
