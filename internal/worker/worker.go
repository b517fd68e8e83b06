// Package worker consumes window arrival events and runs scoring on them.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/opensource-finance/harrier/internal/detect"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/ingest"
)

// WindowStore persists raw window aggregates before they are scored.
type WindowStore interface {
	SaveWindows(ctx context.Context, windows []domain.RawAggregate) error
}

// Worker processes window batches asynchronously from the EventBus.
type Worker struct {
	bus      domain.EventBus
	store    WindowStore
	pipeline *detect.Pipeline
	parser   *ingest.Parser
	inbox    *ingest.Inbox
	logger   *slog.Logger

	// runs are serialized: batch normalization assumes one batch at a time
	runMu sync.Mutex

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, store WindowStore, pipeline *detect.Pipeline, parser *ingest.Parser, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if parser == nil {
		parser = ingest.NewParser(time.UTC, logger)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		store:    store,
		pipeline: pipeline,
		parser:   parser,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetInbox makes the worker settle files claimed from inbox once they are scored.
func (w *Worker) SetInbox(inbox *ingest.Inbox) {
	w.inbox = inbox
}

// Start subscribes to window arrival events.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicWindowArrived, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", domain.TopicWindowArrived, err)
	}
	w.subscriptions = append(w.subscriptions, sub)

	w.logger.Info("worker started",
		"topic", domain.TopicWindowArrived,
	)
	return nil
}

// handleMessage decodes a window arrival event and scores it.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	w.wg.Add(1)
	defer w.wg.Done()

	var ev domain.WindowArrivedEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		w.logger.Error("failed to parse window event",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	var err error
	switch {
	case ev.Path != "":
		_, err = w.ProcessFile(ctx, ev.Path)
		w.settle(ev.Path, err)
	case len(ev.Windows) > 0:
		source := ev.Source
		if source == "" {
			source = "event:" + msg.ID
		}
		_, err = w.ProcessWindows(ctx, source, ev.Windows)
	default:
		err = fmt.Errorf("%w: window event %s carries neither a path nor windows", domain.ErrInvalidInput, msg.ID)
	}
	return err
}

// settle moves a claimed file to processed/ on success and to failed/ when its
// content is invalid. Other failures release it for the next poll.
func (w *Worker) settle(path string, runErr error) {
	if w.inbox == nil || !w.inbox.Owns(path) {
		return
	}

	var (
		dst string
		err error
	)
	switch {
	case runErr == nil:
		dst, err = w.inbox.Complete(path)
	case errors.Is(runErr, domain.ErrInvalidInput):
		dst, err = w.inbox.Fail(path)
	default:
		dst, err = w.inbox.Release(path)
	}
	if err != nil {
		w.logger.Error("failed to settle window file", "file", path, "error", err)
		return
	}
	w.logger.Debug("window file settled", "file", filepath.Base(path), "dest", dst)
}

// ProcessFile parses a window file, aggregates it into windows and scores them.
func (w *Worker) ProcessFile(ctx context.Context, path string) (*detect.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open window file: %w", err)
	}
	defer f.Close()

	parsed, err := w.parser.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w: %w", path, domain.ErrInvalidInput, err)
	}

	windows := ingest.Aggregate(parsed.Records)
	w.logger.Info("window file parsed",
		"file", filepath.Base(path),
		"records", len(parsed.Records),
		"discarded", parsed.Discarded,
		"malformed", parsed.Malformed,
		"windows", len(windows),
	)

	return w.ProcessWindows(ctx, filepath.Base(path), windows)
}

// ProcessWindows stores windows, scores them and publishes the outcome.
func (w *Worker) ProcessWindows(ctx context.Context, source string, windows []domain.RawAggregate) (*detect.Result, error) {
	w.runMu.Lock()
	defer w.runMu.Unlock()

	if err := w.store.SaveWindows(ctx, windows); err != nil {
		return nil, fmt.Errorf("failed to save windows: %w", err)
	}

	res, err := w.pipeline.Run(ctx, source, windows)
	if err != nil {
		return res, err
	}

	w.publish(ctx, res)
	return res, nil
}

// publish announces alerts and the run summary. Failures are logged only.
func (w *Worker) publish(ctx context.Context, res *detect.Result) {
	if w.bus == nil {
		return
	}

	for _, a := range res.Alerts {
		payload, err := json.Marshal(a)
		if err != nil {
			continue
		}
		if err := w.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
			w.logger.Error("failed to publish alert",
				"terminal", a.TerminalCode,
				"window", a.WindowStart,
				"error", err,
			)
		}
	}

	payload, err := json.Marshal(res.Summary)
	if err != nil {
		return
	}
	if err := w.bus.Publish(ctx, domain.TopicRunCompleted, payload); err != nil {
		w.logger.Error("failed to publish run summary",
			"run_id", res.Summary.ID,
			"error", err,
		)
	}
}

// Stop gracefully stops the worker, waiting for in-flight batches.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	w.logger.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
