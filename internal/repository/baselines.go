package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/opensource-finance/harrier/internal/domain"
)

const upsertBaselineQuery = `
	INSERT INTO baselines (
		terminal_code, mean, std, median, p25, p75, p95, window_count,
		anomaly_rate_2sigma, anomaly_rate_3sigma, max_abs_z, madrugada_mean,
		zone_ratio, has_zone, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (terminal_code) DO UPDATE SET
		mean = excluded.mean,
		std = excluded.std,
		median = excluded.median,
		p25 = excluded.p25,
		p75 = excluded.p75,
		p95 = excluded.p95,
		window_count = excluded.window_count,
		anomaly_rate_2sigma = excluded.anomaly_rate_2sigma,
		anomaly_rate_3sigma = excluded.anomaly_rate_3sigma,
		max_abs_z = excluded.max_abs_z,
		madrugada_mean = excluded.madrugada_mean,
		zone_ratio = excluded.zone_ratio,
		has_zone = excluded.has_zone,
		updated_at = excluded.updated_at
`

// SaveBaselines upserts terminal baselines in one transaction.
func (r *SQLRepository) SaveBaselines(ctx context.Context, baselines []*domain.Baseline) error {
	if len(baselines) == 0 {
		return nil
	}

	return r.withTx(ctx, "save baselines", func(tx *sqlx.Tx) error {
		stmt, err := tx.PreparexContext(ctx, r.db.Rebind(upsertBaselineQuery))
		if err != nil {
			return fmt.Errorf("failed to prepare baseline upsert: %w", err)
		}
		defer stmt.Close()

		for _, b := range baselines {
			_, err := stmt.ExecContext(ctx,
				b.TerminalCode, b.Mean, b.Std, b.Median, b.P25, b.P75, b.P95, b.Count,
				b.AnomalyRate2, b.AnomalyRate3, b.MaxAbsZ, b.MadrugadaMean,
				b.ZoneRatio, boolInt(b.HasZone), b.UpdatedAt.UTC(),
			)
			if err != nil {
				return fmt.Errorf("failed to save baseline %s: %w", b.TerminalCode, err)
			}
		}
		return nil
	})
}

// GetBaseline retrieves a terminal baseline.
// Returns domain.ErrNotFound when the terminal has none.
func (r *SQLRepository) GetBaseline(ctx context.Context, terminalCode string) (*domain.Baseline, error) {
	query := `
		SELECT terminal_code, mean, std, median, p25, p75, p95, window_count,
			   anomaly_rate_2sigma, anomaly_rate_3sigma, max_abs_z, madrugada_mean,
			   zone_ratio, has_zone, updated_at
		FROM baselines
		WHERE terminal_code = ?
	`

	var b domain.Baseline
	if err := r.db.GetContext(ctx, &b, r.db.Rebind(query), terminalCode); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get baseline: %w", err)
	}
	b.UpdatedAt = b.UpdatedAt.UTC()
	return &b, nil
}

type populationRow struct {
	Dimension string    `db:"dimension"`
	Bucket    int       `db:"bucket"`
	Mean      float64   `db:"mean"`
	Std       float64   `db:"std"`
	Count     int       `db:"window_count"`
	UpdatedAt time.Time `db:"updated_at"`
}

// SavePopulationBaseline replaces the stored population baseline.
func (r *SQLRepository) SavePopulationBaseline(ctx context.Context, p *domain.PopulationBaseline) error {
	if p == nil {
		return fmt.Errorf("%w: population baseline is required", domain.ErrInvalidInput)
	}

	return r.withTx(ctx, "save population baseline", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM population_baselines`); err != nil {
			return fmt.Errorf("failed to clear population baseline: %w", err)
		}

		query := tx.Rebind(`
			INSERT INTO population_baselines (dimension, bucket, mean, std, window_count, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		insert := func(dim string, buckets map[int]domain.Stat) error {
			for bucket, s := range buckets {
				if _, err := tx.ExecContext(ctx, query, dim, bucket, s.Mean, s.Std, s.Count, p.UpdatedAt.UTC()); err != nil {
					return fmt.Errorf("failed to save population %s/%d: %w", dim, bucket, err)
				}
			}
			return nil
		}

		if err := insert(domain.DimensionHour, p.Hour); err != nil {
			return err
		}
		return insert(domain.DimensionDayOfWeek, p.DayOfWeek)
	})
}

// GetPopulationBaseline retrieves the population baseline.
// Returns domain.ErrNotFound when none has been computed.
func (r *SQLRepository) GetPopulationBaseline(ctx context.Context) (*domain.PopulationBaseline, error) {
	var rows []populationRow
	query := `SELECT dimension, bucket, mean, std, window_count, updated_at FROM population_baselines`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to get population baseline: %w", err)
	}
	if len(rows) == 0 {
		return nil, domain.ErrNotFound
	}

	p := &domain.PopulationBaseline{
		Hour:      make(map[int]domain.Stat),
		DayOfWeek: make(map[int]domain.Stat),
	}
	for _, row := range rows {
		s := domain.Stat{Mean: row.Mean, Std: row.Std, Count: row.Count}
		switch row.Dimension {
		case domain.DimensionHour:
			p.Hour[row.Bucket] = s
		case domain.DimensionDayOfWeek:
			p.DayOfWeek[row.Bucket] = s
		}
		if row.UpdatedAt.After(p.UpdatedAt) {
			p.UpdatedAt = row.UpdatedAt.UTC()
		}
	}
	return p, nil
}
