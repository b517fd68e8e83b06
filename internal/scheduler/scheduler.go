// Package scheduler runs Harrier's periodic jobs: inbox polling and the
// nightly baseline refresh.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/opensource-finance/harrier/internal/baseline"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/ingest"
	"github.com/opensource-finance/harrier/internal/metrics"
)

// Scheduler is the periodic job runner.
type Scheduler struct {
	cron   *cron.Cron
	cfg    domain.SchedulerConfig
	inbox  *ingest.Inbox
	bus    domain.EventBus
	job    *baseline.Job
	logger *slog.Logger
}

// New creates a scheduler. inbox and bus drive the inbox poll; job drives the
// baseline refresh. A nil collaborator disables its job.
func New(cfg domain.SchedulerConfig, loc *time.Location, inbox *ingest.Inbox, bus domain.EventBus, job *baseline.Job, logger *slog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(loc)),
		cfg:    cfg,
		inbox:  inbox,
		bus:    bus,
		job:    job,
		logger: logger,
	}
}

// Start registers the configured jobs and starts the cron loop.
func (s *Scheduler) Start() error {
	if s.inbox != nil && s.bus != nil && s.cfg.InboxSpec != "" {
		if _, err := s.cron.AddFunc(s.cfg.InboxSpec, func() {
			if _, err := s.PollInbox(context.Background()); err != nil {
				s.logger.Error("inbox poll failed", "error", err)
			}
		}); err != nil {
			return fmt.Errorf("invalid inbox schedule %q: %w", s.cfg.InboxSpec, err)
		}
	}

	if s.job != nil && s.cfg.BaselineSpec != "" {
		if _, err := s.cron.AddFunc(s.cfg.BaselineSpec, func() {
			if err := s.RefreshBaselines(context.Background()); err != nil {
				s.logger.Error("baseline refresh failed", "error", err)
			}
		}); err != nil {
			return fmt.Errorf("invalid baseline schedule %q: %w", s.cfg.BaselineSpec, err)
		}
	}

	s.cron.Start()
	s.logger.Info("scheduler started",
		"inbox_spec", s.cfg.InboxSpec,
		"baseline_spec", s.cfg.BaselineSpec,
		"jobs", len(s.cron.Entries()),
	)
	return nil
}

// Stop stops the cron loop and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// PollInbox claims every pending window file and announces it on the bus.
// A file whose announcement fails is released back to the inbox. It returns
// the number of files announced.
func (s *Scheduler) PollInbox(ctx context.Context) (int, error) {
	pending, err := s.inbox.Pending()
	if err != nil {
		return 0, err
	}

	announced := 0
	for _, path := range pending {
		claimed, err := s.inbox.Claim(path)
		if err != nil {
			s.logger.Error("failed to claim window file", "file", path, "error", err)
			continue
		}

		payload, err := json.Marshal(domain.WindowArrivedEvent{
			Path:   claimed,
			Source: filepath.Base(claimed),
		})
		if err == nil {
			err = s.bus.Publish(ctx, domain.TopicWindowArrived, payload)
		}
		if err != nil {
			if _, rerr := s.inbox.Release(claimed); rerr != nil {
				s.logger.Error("failed to release window file", "file", claimed, "error", rerr)
			}
			return announced, fmt.Errorf("failed to publish window event: %w", err)
		}
		announced++
	}

	if announced > 0 {
		s.logger.Info("inbox files announced", "count", announced)
	}
	return announced, nil
}

// RefreshBaselines recomputes every baseline.
func (s *Scheduler) RefreshBaselines(ctx context.Context) error {
	res, err := s.job.Run(ctx, time.Now())
	if err != nil {
		return err
	}
	metrics.BaselineRecomputeDurationSeconds.Observe(res.Duration.Seconds())
	return nil
}
