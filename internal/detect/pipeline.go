// Package detect orchestrates a scoring run: baselines, features, model,
// rules, fusion and alert persistence for one batch of windows.
package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/opensource-finance/harrier/internal/alerts"
	"github.com/opensource-finance/harrier/internal/baseline"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/features"
	"github.com/opensource-finance/harrier/internal/fusion"
	"github.com/opensource-finance/harrier/internal/metrics"
	"github.com/opensource-finance/harrier/internal/model"
	"github.com/opensource-finance/harrier/internal/rules"
)

var tracer = otel.Tracer("harrier-detect")

// DefaultWorkers bounds concurrent per-terminal feature computation.
const DefaultWorkers = 8

// historyLookback is how far before a batch prior windows are read: enough for
// the previous-day delta and the trailing 96-window statistics.
const historyLookback = 25 * time.Hour

// WindowReader reads a terminal's stored windows in [from, to).
type WindowReader interface {
	ListWindows(ctx context.Context, terminalCode string, from, to time.Time) ([]domain.RawAggregate, error)
}

// RunRecorder stores run summaries.
type RunRecorder interface {
	SaveRun(ctx context.Context, run *domain.RunSummary) error
}

// Deps are the collaborators of a pipeline. All are shared read-only across runs.
type Deps struct {
	Windows    WindowReader
	Baselines  domain.BaselineReader
	Features   *features.Engine
	Scorer     *model.Scorer
	Normalizer *model.Normalizer
	Rules      *rules.Engine
	Fusion     *fusion.Processor
	Writer     *alerts.Writer
	Runs       RunRecorder // optional
}

// Pipeline scores batches of windows.
type Pipeline struct {
	deps     Deps
	workers  int
	location *time.Location
	logger   *slog.Logger
	now      func() time.Time
}

// Result is the outcome of one run.
type Result struct {
	Summary *domain.RunSummary
	Alerts  []*domain.Alert
}

// NewPipeline creates a pipeline. Every dependency except Runs is required.
func NewPipeline(deps Deps, cfg domain.DetectionConfig, logger *slog.Logger) (*Pipeline, error) {
	switch {
	case deps.Windows == nil, deps.Baselines == nil:
		return nil, fmt.Errorf("%w: window and baseline readers are required", domain.ErrInvalidInput)
	case deps.Features == nil, deps.Scorer == nil, deps.Normalizer == nil:
		return nil, fmt.Errorf("%w: feature engine, scorer and normalizer are required", domain.ErrInvalidInput)
	case deps.Rules == nil, deps.Fusion == nil, deps.Writer == nil:
		return nil, fmt.Errorf("%w: rule engine, fusion processor and alert writer are required", domain.ErrInvalidInput)
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Pipeline{
		deps:     deps,
		workers:  workers,
		location: cfg.Location(),
		logger:   logger,
		now:      time.Now,
	}, nil
}

// terminalResult is the feature output of one terminal.
type terminalResult struct {
	vectors []domain.FeatureVector
	skipped []domain.SkippedWindow
	err     error
}

// Run scores batch, persists its alerts and records a run summary.
//
// Windows of terminals without a baseline are scored against the batch's own
// statistics and flagged low-confidence; when that is impossible they are
// reported as skipped. Store failures and cancellation abort the run.
func (p *Pipeline) Run(ctx context.Context, source string, batch []domain.RawAggregate) (*Result, error) {
	ctx, span := tracer.Start(ctx, "detect.run")
	defer span.End()

	start := p.now()
	summary := &domain.RunSummary{
		ID:        uuid.New().String(),
		Source:    source,
		StartedAt: start.UTC(),
		Alerts:    make(map[domain.Severity]int),
		ModelID:   p.deps.Scorer.ModelID(),
		Policy:    string(p.deps.Fusion.Policy),
	}
	span.SetAttributes(
		attribute.String("run.id", summary.ID),
		attribute.String("run.source", source),
		attribute.Int("run.windows", len(batch)),
	)

	res, err := p.run(ctx, summary, batch)
	if err != nil {
		metrics.RunsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Error("scoring run failed",
			"run_id", summary.ID,
			"source", source,
			"error", err,
		)
		return res, err
	}

	metrics.ObserveRun(summary)
	span.SetAttributes(
		attribute.Int("run.scored", summary.WindowsScored),
		attribute.Int("run.alerts", summary.TotalAlerts()),
	)
	p.logger.Info("scoring run completed",
		"run_id", summary.ID,
		"source", source,
		"terminals", summary.TerminalsAnalyzed,
		"windows_scored", summary.WindowsScored,
		"alerts", summary.TotalAlerts(),
		"alerts_failed", summary.AlertsFailed,
		"skipped", len(summary.Skipped),
		"low_confidence", summary.LowConfidence,
		"duration_ms", summary.FinishedAt.Sub(summary.StartedAt).Milliseconds(),
	)
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, summary *domain.RunSummary, batch []domain.RawAggregate) (*Result, error) {
	res := &Result{Summary: summary}

	population, err := p.deps.Baselines.Population(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to get population baseline: %w", err)
	}

	terminals, byTerminal := groupByTerminal(batch)
	summary.TerminalsAnalyzed = len(terminals)

	// nil when the batch is too small to describe itself.
	fallback, err := baseline.BatchFallback(batch)
	if err != nil && !errors.Is(err, domain.ErrInsufficientContext) {
		return res, err
	}

	results := make([]terminalResult, len(terminals))
	sem := make(chan struct{}, p.workers)
	var wg sync.WaitGroup

	for i, code := range terminals {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, code string) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = p.computeTerminal(ctx, code, byTerminal[code], population, fallback)
		}(i, code)
	}
	wg.Wait()

	var vectors []domain.FeatureVector
	for i := range results {
		if err := results[i].err; err != nil {
			return res, fmt.Errorf("failed to compute features for %s: %w", terminals[i], err)
		}
		vectors = append(vectors, results[i].vectors...)
		summary.Skipped = append(summary.Skipped, results[i].skipped...)
	}

	if len(vectors) > 0 {
		if n := features.Sanitize(vectors); n > 0 {
			p.logger.Warn("replaced non-finite features", "run_id", summary.ID, "count", n)
		}
		res.Alerts = p.score(vectors, summary)
	}

	wr, err := p.deps.Writer.Write(ctx, res.Alerts)
	summary.AlertsWritten = wr.Written
	summary.AlertsFailed = wr.Failed
	summary.FinishedAt = p.now().UTC()
	if err != nil {
		return res, fmt.Errorf("alert write interrupted after %d alerts: %w", wr.Written, err)
	}

	if p.deps.Runs != nil {
		if err := p.deps.Runs.SaveRun(context.WithoutCancel(ctx), summary); err != nil {
			p.logger.Error("failed to save run summary", "run_id", summary.ID, "error", err)
		}
	}
	return res, nil
}

// computeTerminal builds the vectors of one terminal's batch windows.
// Without a stored baseline the batch fallback is used; a nil fallback skips the terminal.
func (p *Pipeline) computeTerminal(ctx context.Context, code string, series []domain.RawAggregate, population *domain.PopulationBaseline, fallback *domain.Baseline) terminalResult {
	if err := ctx.Err(); err != nil {
		return terminalResult{err: err}
	}

	b, err := p.deps.Baselines.Baseline(ctx, code)
	if err != nil {
		return terminalResult{err: err}
	}

	fc := features.Context{Baseline: b, Population: population}
	if b == nil {
		if fallback == nil {
			p.logger.Warn("terminal skipped",
				"terminal", code,
				"windows", len(series),
				"reason", domain.SkipInsufficientContext,
			)
			skipped := make([]domain.SkippedWindow, len(series))
			for i, w := range series {
				skipped[i] = domain.SkippedWindow{
					TerminalCode: code,
					WindowStart:  w.WindowStart,
					Reason:       domain.SkipInsufficientContext,
				}
			}
			return terminalResult{skipped: skipped}
		}
		fc.Baseline = baseline.ForTerminal(fallback, code)
		fc.LowConfidence = true
		p.logger.Warn("no baseline, using batch statistics",
			"terminal", code,
			"windows", len(series),
			"mean", fc.Baseline.Mean,
			"std", fc.Baseline.Std,
		)
	}

	first := series[0].WindowStart
	history, err := p.deps.Windows.ListWindows(ctx, code, p.historyStart(first), first)
	if err != nil {
		return terminalResult{err: err}
	}

	return terminalResult{vectors: p.deps.Features.ComputeSeries(history, series, fc)}
}

// historyStart covers the calendar month of first and the day before it.
func (p *Pipeline) historyStart(first time.Time) time.Time {
	local := first.In(p.location)
	monthStart := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, p.location)
	if dayBefore := first.Add(-historyLookback); dayBefore.Before(monthStart) {
		return dayBefore
	}
	return monthStart
}

// score runs model, rules and fusion over sanitized vectors and returns the
// alerts to persist.
func (p *Pipeline) score(vectors []domain.FeatureVector, summary *domain.RunSummary) []*domain.Alert {
	raw := p.deps.Scorer.Raw(vectors)
	scores := p.deps.Normalizer.Normalize(raw)
	now := p.now()

	var out []*domain.Alert
	for i := range vectors {
		v := &vectors[i]
		summary.WindowsScored++
		if v.LowConfidence {
			summary.LowConfidence++
		}

		rr := p.deps.Rules.Evaluate(v)
		d := p.deps.Fusion.Decide(fusion.Input{
			ModelScore: scores[i],
			RuleScore:  rr.Score,
			ZTerminal:  v.ZTerminal,
			Outlier:    p.deps.Scorer.IsOutlier(raw[i]),
		})
		if !d.Alert() {
			continue
		}

		summary.Alerts[d.Severity]++
		out = append(out, alerts.Build(v, scores[i], d, rr, p.deps.Scorer.ModelID(), now))
	}
	return out
}

// groupByTerminal splits a batch into per-terminal ascending series.
func groupByTerminal(batch []domain.RawAggregate) ([]string, map[string][]domain.RawAggregate) {
	byTerminal := make(map[string][]domain.RawAggregate)
	for _, w := range batch {
		byTerminal[w.TerminalCode] = append(byTerminal[w.TerminalCode], w)
	}

	terminals := make([]string, 0, len(byTerminal))
	for code, series := range byTerminal {
		sort.Slice(series, func(i, j int) bool {
			return series[i].WindowStart.Before(series[j].WindowStart)
		})
		terminals = append(terminals, code)
	}
	sort.Strings(terminals)
	return terminals, byTerminal
}
