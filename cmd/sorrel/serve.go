package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/sorrel/internal/repositories/entitymap"
	"github.com/Ramsey-B/sorrel/pkg/routes"
	"github.com/Ramsey-B/sorrel/pkg/routes/health"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve canonical id lookups over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			a, err := newApp(ctx, root.envFile)
			if err != nil {
				return err
			}
			defer a.close(context.Background())

			if err := a.connect(ctx, needs{output: true}); err != nil {
				return err
			}

			e, checker := routes.New(entitymap.NewRepository(a.output, a.log), a.log, routes.Options{
				ServiceName:       a.cfg.AppName,
				Version:           version,
				DefaultCollection: a.cfg.DefaultCollection,
				Checks:            map[string]health.Pinger{"database": a.output},
			})

			srv := &http.Server{
				Addr:         fmt.Sprintf(":%d", a.cfg.Port),
				Handler:      e,
				ReadTimeout:  time.Duration(a.cfg.HttpServerReadTimeoutSeconds) * time.Second,
				WriteTimeout: time.Duration(a.cfg.HttpServerWriteTimeoutSeconds) * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.log.WithContext(ctx).WithFields(map[string]any{"addr": srv.Addr}).Info("Read API listening")
				errCh <- srv.ListenAndServe()
			}()
			checker.SetReady(true)

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return errors.Wrap(err, "read API stopped")
				}
				return nil
			case <-ctx.Done():
			}

			checker.SetReady(false)
			shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
			defer stop()
			a.log.WithContext(shutdownCtx).Info("Shutting down read API")
			return srv.Shutdown(shutdownCtx)
		},
	}
}
