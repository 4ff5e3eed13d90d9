package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"qagen/internal/bootstrap"
	"qagen/internal/bootstrap/logging"
	"qagen/internal/errs"
	"qagen/internal/transport/httpapi"
	"qagen/internal/usecase/testgen"
)

var serveAddr string

// serveCmd exposes the record store read-only over HTTP until interrupted.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only status API",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App, svc *testgen.Service) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		addr := app.Config.HTTP.Addr
		if serveAddr != "" {
			addr = serveAddr
		}

		server := &http.Server{
			Addr:              addr,
			Handler:           httpapi.NewRouter(ctx, svc),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.ListenAndServe()
		}()
		logging.Info(ctx, "status api listening", slog.String("addr", addr))
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "status api listening on %s\n", addr); err != nil {
			return errs.Wrap(err, "write serve output")
		}

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			logging.Error(ctx, "status api stopped", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "listen and serve")
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errs.Wrap(err, "shutdown status api")
		}
		logging.Info(ctx, "status api stopped")
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address, overrides http.addr")
}
