// Harrier - ATM dispensation anomaly detection and scoring.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/harrier/internal/api"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/ingest"
	"github.com/opensource-finance/harrier/internal/scheduler"
	"github.com/opensource-finance/harrier/internal/worker"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the worker, scheduler and read-only API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	a.logger.Info("starting harrier",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
		"policy", cfg.Detection.Policy,
		"normalization", cfg.Detection.Normalization,
	)

	if err := a.open(); err != nil {
		return err
	}
	defer a.close()

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	a.logger.Info("event bus initialized", "type", cfg.EventBus.Type)

	pipeline, err := a.pipeline()
	if err != nil {
		return err
	}

	w := worker.NewWorker(busImpl, a.repo, pipeline, ingest.NewParser(cfg.Detection.Location(), a.logger), a.logger)

	var inbox *ingest.Inbox
	if cfg.Scheduler.Enabled {
		inbox, err = ingest.NewInbox(cfg.Detection.InboxDir)
		if err != nil {
			return fmt.Errorf("failed to open inbox: %w", err)
		}
		if n, err := inbox.Requeue(); err != nil {
			a.logger.Error("failed to requeue claimed window files", "error", err)
		} else if n > 0 {
			a.logger.Info("requeued claimed window files", "count", n)
		}
		w.SetInbox(inbox)
	}

	if err := w.Start(); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}

	var sched *scheduler.Scheduler
	if inbox != nil {
		sched = scheduler.New(cfg.Scheduler, cfg.Detection.Location(), inbox, busImpl, a.baselineJob(), a.logger)
		if err := sched.Start(); err != nil {
			w.Stop()
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	srv := api.NewServer(cfg.Server, a.repo, a.baselines, a.cache, busImpl, Version)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	a.logger.Info("harrier is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	var serveErr error
	select {
	case <-ctx.Done():
		a.logger.Info("received shutdown signal")
	case serveErr = <-errCh:
		a.logger.Error("server failed", "error", serveErr)
	}

	a.logger.Info("shutting down...")

	// Stop producers before the worker so no new runs start mid-shutdown.
	if sched != nil {
		sched.Stop()
	}
	if err := w.Stop(); err != nil {
		a.logger.Error("failed to stop worker", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server forced to shutdown", "error", err)
	}

	a.logger.Info("harrier shutdown complete")
	return serveErr
}
