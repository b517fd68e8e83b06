package baseline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// JobResult reports one baseline recomputation.
type JobResult struct {
	Terminals int
	Windows   int
	From      time.Time
	To        time.Time
	Duration  time.Duration
}

// Job recomputes every terminal baseline and the population baseline
// from the stored windows of the lookback period.
type Job struct {
	repo     domain.Repository
	store    *Store
	lookback time.Duration
	location *time.Location
	logger   *slog.Logger
}

// NewJob creates a baseline recomputation job. store may be nil when no cache is in use.
func NewJob(repo domain.Repository, store *Store, lookback time.Duration, loc *time.Location, logger *slog.Logger) *Job {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	if lookback <= 0 {
		lookback = 90 * 24 * time.Hour
	}
	return &Job{
		repo:     repo,
		store:    store,
		lookback: lookback,
		location: loc,
		logger:   logger,
	}
}

// Run recomputes baselines as of now. Zone ratios supplied by external
// enrichment are carried over from the previous baselines.
func (j *Job) Run(ctx context.Context, now time.Time) (*JobResult, error) {
	start := time.Now()
	from := now.Add(-j.lookback)

	windows, err := j.repo.ListAllWindows(ctx, from, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list windows: %w", err)
	}

	byTerminal := make(map[string][]domain.RawAggregate)
	for _, w := range windows {
		byTerminal[w.TerminalCode] = append(byTerminal[w.TerminalCode], w)
	}
	codes := make([]string, 0, len(byTerminal))
	for code := range byTerminal {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	baselines := make([]*domain.Baseline, 0, len(codes))
	for _, code := range codes {
		b := Compute(code, byTerminal[code], j.location, now)

		prev, err := j.repo.GetBaseline(ctx, code)
		switch {
		case err == nil && prev.HasZone:
			b.ZoneRatio = prev.ZoneRatio
			b.HasZone = true
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			return nil, fmt.Errorf("failed to get previous baseline for %s: %w", code, err)
		}
		baselines = append(baselines, b)
	}

	if err := j.repo.SaveBaselines(ctx, baselines); err != nil {
		return nil, fmt.Errorf("failed to save baselines: %w", err)
	}
	if err := j.repo.SavePopulationBaseline(ctx, ComputePopulation(windows, j.location, now)); err != nil {
		return nil, fmt.Errorf("failed to save population baseline: %w", err)
	}

	if j.store != nil {
		j.store.Invalidate(ctx, codes...)
	}

	result := &JobResult{
		Terminals: len(codes),
		Windows:   len(windows),
		From:      from,
		To:        now,
		Duration:  time.Since(start),
	}
	j.logger.Info("baselines recomputed",
		"terminals", result.Terminals,
		"windows", result.Windows,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}
