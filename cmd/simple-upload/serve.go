package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/spf13/cobra"

	"github.com/tendant/simple-upload/pkg/simpleupload/config"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the scheduled temp sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			var extra []config.Option
			if port != "" {
				extra = append(extra, config.WithPort(port))
			}
			cfg, logger, err := opts.load(extra...)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port, overrides PORT")
	return cmd
}

func serve(ctx context.Context, cfg *config.ServerConfig, logger *slog.Logger) error {
	app, err := cfg.Build(ctx, config.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}
	defer app.Close()

	if cfg.Sweep.Enabled {
		scheduler, err := startSweeper(ctx, app, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := scheduler.Shutdown(); err != nil {
				logger.Warn("scheduler shutdown failed", "error", err)
			}
		}()
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           app.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("simple-upload server starting",
			"port", cfg.Port,
			"environment", cfg.Environment,
			"storage", cfg.Storage.Type,
			"database", cfg.DatabaseType,
			"attributes", len(cfg.Attributes))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server exiting")
	return nil
}

func startSweeper(ctx context.Context, app *config.App, logger *slog.Logger) (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	sweeper := app.Sweeper()
	_, err = s.NewJob(
		gocron.DurationJob(app.Config.Sweep.Interval),
		gocron.NewTask(func(ctx context.Context) {
			if _, err := sweeper.Sweep(ctx); err != nil {
				logger.Error("temp sweep failed", "error", err)
			}
		}, ctx),
		gocron.WithName("temp-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return nil, fmt.Errorf("schedule temp sweep: %w", err)
	}

	s.Start()
	logger.Info("temp sweep scheduled", "interval", app.Config.Sweep.Interval, "ttl", app.Config.Sweep.TTL)
	return s, nil
}
