package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/opensource-finance/harrier/internal/domain"
)

// DefaultAlertLimit caps alert listings without an explicit limit.
const DefaultAlertLimit = 100

const upsertAlertQuery = `
	INSERT INTO alerts (
		terminal_code, window_ts, anomaly_type, severity, score, model_score,
		rule_score, amount, expected_amount, deviation_sigma, description,
		reasons, model_id, low_confidence, detected_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (terminal_code, window_ts) DO UPDATE SET
		anomaly_type = excluded.anomaly_type,
		severity = excluded.severity,
		score = excluded.score,
		model_score = excluded.model_score,
		rule_score = excluded.rule_score,
		amount = excluded.amount,
		expected_amount = excluded.expected_amount,
		deviation_sigma = excluded.deviation_sigma,
		description = excluded.description,
		reasons = excluded.reasons,
		model_id = excluded.model_id,
		low_confidence = excluded.low_confidence,
		detected_at = excluded.detected_at
`

const selectAlertColumns = `
	SELECT terminal_code, window_ts, anomaly_type, severity, score, model_score,
		   rule_score, amount, expected_amount, deviation_sigma, description,
		   reasons, model_id, low_confidence, detected_at
	FROM alerts
`

type alertRow struct {
	TerminalCode   string    `db:"terminal_code"`
	WindowStart    time.Time `db:"window_ts"`
	AnomalyType    string    `db:"anomaly_type"`
	Severity       string    `db:"severity"`
	Score          float64   `db:"score"`
	ModelScore     float64   `db:"model_score"`
	RuleScore      float64   `db:"rule_score"`
	Amount         float64   `db:"amount"`
	ExpectedAmount float64   `db:"expected_amount"`
	DeviationSigma float64   `db:"deviation_sigma"`
	Description    string    `db:"description"`
	Reasons        string    `db:"reasons"`
	ModelID        string    `db:"model_id"`
	LowConfidence  bool      `db:"low_confidence"`
	DetectedAt     time.Time `db:"detected_at"`
}

func (row *alertRow) toDomain() (*domain.Alert, error) {
	a := &domain.Alert{
		TerminalCode:   row.TerminalCode,
		WindowStart:    row.WindowStart.UTC(),
		AnomalyType:    row.AnomalyType,
		Severity:       domain.Severity(row.Severity),
		Score:          row.Score,
		ModelScore:     row.ModelScore,
		RuleScore:      row.RuleScore,
		Amount:         row.Amount,
		ExpectedAmount: row.ExpectedAmount,
		DeviationSigma: row.DeviationSigma,
		Description:    row.Description,
		ModelID:        row.ModelID,
		LowConfidence:  row.LowConfidence,
		DetectedAt:     row.DetectedAt.UTC(),
	}
	if err := json.Unmarshal([]byte(row.Reasons), &a.Reasons); err != nil {
		return nil, fmt.Errorf("failed to decode reasons for %s: %w", row.TerminalCode, err)
	}
	return a, nil
}

func alertArgs(a *domain.Alert) ([]any, error) {
	if a.TerminalCode == "" {
		return nil, fmt.Errorf("%w: alert terminal code is required", domain.ErrInvalidInput)
	}
	reasons, err := json.Marshal(a.Reasons)
	if err != nil {
		return nil, fmt.Errorf("failed to encode reasons: %w", err)
	}
	return []any{
		a.TerminalCode, a.WindowStart.UTC(), a.AnomalyType, string(a.Severity),
		a.Score, a.ModelScore, a.RuleScore, a.Amount, a.ExpectedAmount,
		a.DeviationSigma, a.Description, string(reasons), a.ModelID,
		boolInt(a.LowConfidence), a.DetectedAt.UTC(),
	}, nil
}

// UpsertAlerts writes alerts in one transaction keyed by (terminal, window).
// Any failure rolls back the whole batch.
func (r *SQLRepository) UpsertAlerts(ctx context.Context, alerts []*domain.Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	return r.withTx(ctx, "upsert alerts", func(tx *sqlx.Tx) error {
		stmt, err := tx.PreparexContext(ctx, r.db.Rebind(upsertAlertQuery))
		if err != nil {
			return fmt.Errorf("failed to prepare alert upsert: %w", err)
		}
		defer stmt.Close()

		for _, a := range alerts {
			args, err := alertArgs(a)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("failed to upsert alert %s: %w", a.TerminalCode, err)
			}
		}
		return nil
	})
}

// UpsertAlert writes a single alert.
func (r *SQLRepository) UpsertAlert(ctx context.Context, alert *domain.Alert) error {
	args, err := alertArgs(alert)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(upsertAlertQuery), args...); err != nil {
		return fmt.Errorf("failed to upsert alert %s: %w", alert.TerminalCode, err)
	}
	return nil
}

// GetAlert retrieves the alert of one (terminal, window).
func (r *SQLRepository) GetAlert(ctx context.Context, terminalCode string, windowStart time.Time) (*domain.Alert, error) {
	query := selectAlertColumns + ` WHERE terminal_code = ? AND window_ts = ?`

	var row alertRow
	if err := r.db.GetContext(ctx, &row, r.db.Rebind(query), terminalCode, windowStart.UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return row.toDomain()
}

// ListAlerts returns alerts matching filter, highest score first.
func (r *SQLRepository) ListAlerts(ctx context.Context, filter domain.AlertFilter) ([]*domain.Alert, error) {
	var (
		where []string
		args  []any
	)
	if filter.TerminalCode != "" {
		where = append(where, "terminal_code = ?")
		args = append(args, filter.TerminalCode)
	}
	if filter.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, string(filter.Severity))
	}
	if !filter.From.IsZero() {
		where = append(where, "window_ts >= ?")
		args = append(args, filter.From.UTC())
	}
	if !filter.To.IsZero() {
		where = append(where, "window_ts < ?")
		args = append(args, filter.To.UTC())
	}

	query := selectAlertColumns
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultAlertLimit
	}
	query += " ORDER BY score DESC, window_ts DESC LIMIT ?"
	args = append(args, limit)

	var rows []alertRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}

	out := make([]*domain.Alert, 0, len(rows))
	for i := range rows {
		a, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
