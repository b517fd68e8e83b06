package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/opensource-finance/harrier/internal/domain"
)

const upsertWindowQuery = `
	INSERT INTO raw_windows (terminal_code, window_ts, amount, txn_count)
	VALUES (?, ?, ?, ?)
	ON CONFLICT (terminal_code, window_ts) DO UPDATE SET
		amount = excluded.amount,
		txn_count = excluded.txn_count
`

// SaveWindows upserts raw window aggregates in one transaction.
func (r *SQLRepository) SaveWindows(ctx context.Context, windows []domain.RawAggregate) error {
	if len(windows) == 0 {
		return nil
	}

	return r.withTx(ctx, "save windows", func(tx *sqlx.Tx) error {
		stmt, err := tx.PreparexContext(ctx, r.db.Rebind(upsertWindowQuery))
		if err != nil {
			return fmt.Errorf("failed to prepare window upsert: %w", err)
		}
		defer stmt.Close()

		for _, w := range windows {
			if w.TerminalCode == "" {
				return fmt.Errorf("%w: terminal code is required", domain.ErrInvalidInput)
			}
			if _, err := stmt.ExecContext(ctx, w.TerminalCode, w.WindowStart.UTC(), w.Amount, w.TxnCount); err != nil {
				return fmt.Errorf("failed to save window %s@%s: %w", w.TerminalCode, w.WindowStart.Format(time.RFC3339), err)
			}
		}
		return nil
	})
}

// ListWindows returns a terminal's windows in [from, to), oldest first.
func (r *SQLRepository) ListWindows(ctx context.Context, terminalCode string, from, to time.Time) ([]domain.RawAggregate, error) {
	query := `
		SELECT terminal_code, window_ts, amount, txn_count
		FROM raw_windows
		WHERE terminal_code = ? AND window_ts >= ? AND window_ts < ?
		ORDER BY window_ts
	`

	var out []domain.RawAggregate
	if err := r.db.SelectContext(ctx, &out, r.db.Rebind(query), terminalCode, from.UTC(), to.UTC()); err != nil {
		return nil, fmt.Errorf("failed to list windows: %w", err)
	}
	normalizeWindows(out)
	return out, nil
}

// ListAllWindows returns every terminal's windows in [from, to), grouped by terminal.
func (r *SQLRepository) ListAllWindows(ctx context.Context, from, to time.Time) ([]domain.RawAggregate, error) {
	query := `
		SELECT terminal_code, window_ts, amount, txn_count
		FROM raw_windows
		WHERE window_ts >= ? AND window_ts < ?
		ORDER BY terminal_code, window_ts
	`

	var out []domain.RawAggregate
	if err := r.db.SelectContext(ctx, &out, r.db.Rebind(query), from.UTC(), to.UTC()); err != nil {
		return nil, fmt.Errorf("failed to list windows: %w", err)
	}
	normalizeWindows(out)
	return out, nil
}

// ListTerminals returns the distinct terminal codes with stored windows.
func (r *SQLRepository) ListTerminals(ctx context.Context) ([]string, error) {
	var codes []string
	if err := r.db.SelectContext(ctx, &codes, `SELECT DISTINCT terminal_code FROM raw_windows ORDER BY terminal_code`); err != nil {
		return nil, fmt.Errorf("failed to list terminals: %w", err)
	}
	return codes, nil
}

func normalizeWindows(ws []domain.RawAggregate) {
	for i := range ws {
		ws[i].WindowStart = ws[i].WindowStart.UTC()
	}
}
