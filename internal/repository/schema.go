package repository

// Schema definitions for the Harrier database.
// Compatible with both SQLite and PostgreSQL. Booleans are INTEGER 0/1 and
// structured columns are JSON TEXT so one set of statements serves every driver.

const schemaRawWindows = `
CREATE TABLE IF NOT EXISTS raw_windows (
    terminal_code TEXT NOT NULL,
    window_ts TIMESTAMP NOT NULL,
    amount DOUBLE PRECISION NOT NULL,
    txn_count INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (terminal_code, window_ts)
);

CREATE INDEX IF NOT EXISTS idx_raw_windows_ts ON raw_windows(window_ts);
`

const schemaBaselines = `
CREATE TABLE IF NOT EXISTS baselines (
    terminal_code TEXT PRIMARY KEY,
    mean DOUBLE PRECISION NOT NULL,
    std DOUBLE PRECISION NOT NULL,
    median DOUBLE PRECISION NOT NULL,
    p25 DOUBLE PRECISION NOT NULL,
    p75 DOUBLE PRECISION NOT NULL,
    p95 DOUBLE PRECISION NOT NULL,
    window_count INTEGER NOT NULL,
    anomaly_rate_2sigma DOUBLE PRECISION NOT NULL DEFAULT 0,
    anomaly_rate_3sigma DOUBLE PRECISION NOT NULL DEFAULT 0,
    max_abs_z DOUBLE PRECISION NOT NULL DEFAULT 0,
    madrugada_mean DOUBLE PRECISION NOT NULL DEFAULT 0,
    zone_ratio DOUBLE PRECISION NOT NULL DEFAULT 1,
    has_zone INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP NOT NULL
);
`

const schemaPopulationBaselines = `
CREATE TABLE IF NOT EXISTS population_baselines (
    dimension TEXT NOT NULL,
    bucket INTEGER NOT NULL,
    mean DOUBLE PRECISION NOT NULL,
    std DOUBLE PRECISION NOT NULL,
    window_count INTEGER NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (dimension, bucket)
);
`

// schemaAlerts defines the alerts table.
// One row per (terminal, window); re-scoring a window overwrites it.
const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    terminal_code TEXT NOT NULL,
    window_ts TIMESTAMP NOT NULL,
    anomaly_type TEXT NOT NULL,
    severity TEXT NOT NULL,
    score DOUBLE PRECISION NOT NULL,
    model_score DOUBLE PRECISION NOT NULL,
    rule_score DOUBLE PRECISION NOT NULL,
    amount DOUBLE PRECISION NOT NULL,
    expected_amount DOUBLE PRECISION NOT NULL,
    deviation_sigma DOUBLE PRECISION NOT NULL,
    description TEXT NOT NULL,
    reasons TEXT NOT NULL,
    model_id TEXT NOT NULL,
    low_confidence INTEGER NOT NULL DEFAULT 0,
    detected_at TIMESTAMP NOT NULL,
    UNIQUE (terminal_code, window_ts)
);

CREATE INDEX IF NOT EXISTS idx_alerts_severity ON alerts(severity);
CREATE INDEX IF NOT EXISTS idx_alerts_window ON alerts(window_ts);
CREATE INDEX IF NOT EXISTS idx_alerts_score ON alerts(score);
`

const schemaScoringRuns = `
CREATE TABLE IF NOT EXISTS scoring_runs (
    id TEXT PRIMARY KEY,
    source TEXT NOT NULL,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP NOT NULL,
    terminals_analyzed INTEGER NOT NULL,
    windows_scored INTEGER NOT NULL,
    alerts_by_severity TEXT NOT NULL,
    alerts_written INTEGER NOT NULL,
    alerts_failed INTEGER NOT NULL,
    skipped TEXT NOT NULL,
    low_confidence INTEGER NOT NULL,
    model_id TEXT NOT NULL,
    policy TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scoring_runs_started ON scoring_runs(started_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaRawWindows,
		schemaBaselines,
		schemaPopulationBaselines,
		schemaAlerts,
		schemaScoringRuns,
	}
}
