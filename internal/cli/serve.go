package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/labstack/echo/v5"
	"github.com/spf13/cobra"

	"github.com/datallboy/dlqueue/internal/api"
	"github.com/datallboy/dlqueue/internal/app"
	"github.com/datallboy/dlqueue/internal/infra/config"
	"github.com/datallboy/dlqueue/internal/infra/logger"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the download manager and its HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(flags.configPath)
		},
	}
}

func serve(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log.Path, logger.ParseLevel(cfg.Log.Level), cfg.Log.IncludeStdout)
	if err != nil {
		return err
	}
	defer log.Close()

	// Setup Signal Handling for Graceful Shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer svc.store.Close()

	appCtx := app.NewContext(cfg, log)
	appCtx.Manager = svc.manager
	appCtx.Hub = svc.hub
	appCtx.Metrics = svc.metrics
	appCtx.Store = svc.store

	cfg.Watch(func(next *config.Config) {
		log.Info("Config changed, applying limits (max %d concurrent, %d retries)", next.Download.MaxConcurrent, next.Download.MaxRetries)
		svc.manager.SetLimits(next.Download.MaxConcurrent, next.Download.MaxRetries)
		svc.manager.SetBatchAction(next.OnCompletion.Command, next.OnCompletion.Shutdown)
	}, func(err error) {
		log.Warn("Ignoring config change: %v", err)
	})

	managerDone := make(chan struct{})
	go func() {
		defer close(managerDone)
		_ = svc.manager.Run(ctx)
	}()

	e := echo.New()
	api.RegisterRoutes(e, appCtx)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: e,
		// event streams end with the process context
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("HTTP API listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn("sd_notify failed: %v", err)
	} else if ok {
		log.Debug("Notified systemd that we are ready")
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serverErr:
		log.Error("HTTP server failed: %v", runErr)
		stop()
	}

	log.Info("Shutting down...")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown: %v", err)
	}

	select {
	case <-managerDone:
	case <-shutdownCtx.Done():
		log.Warn("Downloads did not stop in time")
	}
	svc.transfer.Close()

	if err := svc.save(shutdownCtx); err != nil {
		log.Error("Saving jobs failed: %v", err)
		return errors.Join(runErr, err)
	}
	log.Info("Saved %d jobs", svc.items.Len())
	return runErr
}
