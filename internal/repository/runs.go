package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

type runRow struct {
	ID                string    `db:"id"`
	Source            string    `db:"source"`
	StartedAt         time.Time `db:"started_at"`
	FinishedAt        time.Time `db:"finished_at"`
	TerminalsAnalyzed int       `db:"terminals_analyzed"`
	WindowsScored     int       `db:"windows_scored"`
	AlertsBySeverity  string    `db:"alerts_by_severity"`
	AlertsWritten     int       `db:"alerts_written"`
	AlertsFailed      int       `db:"alerts_failed"`
	Skipped           string    `db:"skipped"`
	LowConfidence     int       `db:"low_confidence"`
	ModelID           string    `db:"model_id"`
	Policy            string    `db:"policy"`
}

// SaveRun stores a scoring run summary.
func (r *SQLRepository) SaveRun(ctx context.Context, run *domain.RunSummary) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("%w: run id is required", domain.ErrInvalidInput)
	}

	alerts, err := json.Marshal(run.Alerts)
	if err != nil {
		return fmt.Errorf("failed to encode run alerts: %w", err)
	}
	skipped := run.Skipped
	if skipped == nil {
		skipped = []domain.SkippedWindow{}
	}
	skippedJSON, err := json.Marshal(skipped)
	if err != nil {
		return fmt.Errorf("failed to encode skipped windows: %w", err)
	}

	query := `
		INSERT INTO scoring_runs (
			id, source, started_at, finished_at, terminals_analyzed, windows_scored,
			alerts_by_severity, alerts_written, alerts_failed, skipped,
			low_confidence, model_id, policy
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.db.Rebind(query),
		run.ID, run.Source, run.StartedAt.UTC(), run.FinishedAt.UTC(),
		run.TerminalsAnalyzed, run.WindowsScored,
		string(alerts), run.AlertsWritten, run.AlertsFailed, string(skippedJSON),
		run.LowConfidence, run.ModelID, run.Policy,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent scoring runs.
func (r *SQLRepository) ListRuns(ctx context.Context, limit int) ([]*domain.RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, source, started_at, finished_at, terminals_analyzed, windows_scored,
			   alerts_by_severity, alerts_written, alerts_failed, skipped,
			   low_confidence, model_id, policy
		FROM scoring_runs
		ORDER BY started_at DESC
		LIMIT ?
	`

	var rows []runRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), limit); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	out := make([]*domain.RunSummary, 0, len(rows))
	for _, row := range rows {
		run := &domain.RunSummary{
			ID:                row.ID,
			Source:            row.Source,
			StartedAt:         row.StartedAt.UTC(),
			FinishedAt:        row.FinishedAt.UTC(),
			TerminalsAnalyzed: row.TerminalsAnalyzed,
			WindowsScored:     row.WindowsScored,
			AlertsWritten:     row.AlertsWritten,
			AlertsFailed:      row.AlertsFailed,
			LowConfidence:     row.LowConfidence,
			ModelID:           row.ModelID,
			Policy:            row.Policy,
		}
		if err := json.Unmarshal([]byte(row.AlertsBySeverity), &run.Alerts); err != nil {
			return nil, fmt.Errorf("failed to decode run alerts: %w", err)
		}
		if err := json.Unmarshal([]byte(row.Skipped), &run.Skipped); err != nil {
			return nil, fmt.Errorf("failed to decode skipped windows: %w", err)
		}
		out = append(out, run)
	}
	return out, nil
}
