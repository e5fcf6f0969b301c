package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/mnemosyne/pkg/cli/config"
	httpctrl "github.com/secmon-lab/mnemosyne/pkg/controller/http"
	"github.com/secmon-lab/mnemosyne/pkg/service/worker"
	"github.com/secmon-lab/mnemosyne/pkg/usecase"
	"github.com/secmon-lab/mnemosyne/pkg/utils/async"
	"github.com/secmon-lab/mnemosyne/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func cmdServe() *cli.Command {
	var addr string
	var appCfg appConfig
	var authCfg config.Auth

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "HTTP server address",
			Value:       ":8080",
			Sources:     cli.EnvVars("MNEMOSYNE_ADDR"),
			Destination: &addr,
		},
	}
	flags = append(flags, appCfg.Flags()...)
	flags = append(flags, authCfg.Flags()...)

	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start HTTP server",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			authUC, err := authCfg.Configure()
			if err != nil {
				return goerr.Wrap(err, "failed to configure authentication")
			}
			if authCfg.IsNoAuthMode() {
				logging.Default().Warn("Running in no-auth mode (development only)", group("auth", authCfg.LogAttrs()))
			} else {
				logging.Default().Info("JWT authentication enabled", group("auth", authCfg.LogAttrs()))
			}

			uc, cleanup, err := appCfg.build(ctx, usecase.WithAuth(authUC))
			defer cleanup()
			if err != nil {
				return err
			}

			var syncWorker *worker.SourceSyncWorker
			if uc.Sync.Enabled() {
				syncWorker = worker.NewSourceSyncWorker(uc.Sync, appCfg.source.Interval())
				syncWorker.Start(ctx)
			}

			httpHandler, err := httpctrl.New(uc.Document, uc.Query, httpctrl.WithAuth(uc.Auth))
			if err != nil {
				return goerr.Wrap(err, "failed to create http server")
			}
			server := &http.Server{
				Addr:              addr,
				Handler:           httpHandler,
				ReadHeaderTimeout: 30 * time.Second,
			}

			// Setup signal handling for graceful shutdown
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

			errCh := make(chan error, 1)
			go func() {
				logging.Default().Info("Starting HTTP server", "addr", addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- goerr.Wrap(err, "failed to start server")
				}
			}()

			select {
			case err := <-errCh:
				if syncWorker != nil {
					syncWorker.Stop()
				}
				return err
			case sig := <-sigCh:
				logging.Default().Info("Received shutdown signal", "signal", sig)

				if syncWorker != nil {
					syncWorker.Stop()
				}

				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()

				if err := server.Shutdown(shutdownCtx); err != nil {
					return goerr.Wrap(err, "failed to shutdown server gracefully")
				}
				if err := async.Wait(shutdownCtx); err != nil {
					logging.Default().Warn("Background ingestion still running at shutdown", "error", err)
				}

				logging.Default().Info("Server shutdown completed")
				return nil
			}
		},
	}
}
