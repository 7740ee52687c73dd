package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/persistorai/docmigrate/internal/api"
	"github.com/persistorai/docmigrate/internal/config"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var databaseURL string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve health, metrics and backup verification triggers over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.setup("", "", databaseURL); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			deps, err := a.backupService(ctx)
			if err != nil {
				return err
			}
			defer deps.Close()

			srv := &http.Server{
				Addr: a.cfg.Addr(),
				Handler: api.NewRouter(ctx, &api.RouterDeps{
					Log:         a.log,
					DB:          deps.pools[0],
					Verifier:    deps.service,
					History:     deps.ledger,
					CORSOrigins: a.cfg.CORSOrigins,
					Version:     config.Version,
				}),
				ReadHeaderTimeout: 10 * time.Second,
				IdleTimeout:       2 * time.Minute,
			}

			errCh := make(chan error, 1)

			go func() {
				a.log.WithField("addr", srv.Addr).Info("listening")
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}

				return nil
			case <-ctx.Done():
			}

			a.log.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()

			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&databaseURL, "database-url", "", "Postgres holding the backup ledger (env: DATABASE_URL)")

	return cmd
}
