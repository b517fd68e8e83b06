package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

func newTestRepo(t *testing.T) *SQLRepository {
	t.Helper()

	// Create temp database file
	tmpFile, err := os.CreateTemp("", "harrier-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() {
		os.Remove(tmpPath)
		os.Remove(tmpPath + "-wal")
		os.Remove(tmpPath + "-shm")
	})

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testAlert(terminal string, window time.Time, score float64, sev domain.Severity) *domain.Alert {
	return &domain.Alert{
		TerminalCode:   terminal,
		WindowStart:    window,
		AnomalyType:    domain.AnomalyTypeDispensation,
		Severity:       sev,
		Score:          score,
		ModelScore:     score * 100,
		RuleScore:      0.4,
		Amount:         2000000,
		ExpectedAmount: 1000000,
		DeviationSigma: 5,
		Description:    "Terminal " + terminal + " dispensed $2,000,000",
		Reasons: domain.AlertReasons{
			ModelScore: score * 100,
			RuleScore:  0.4,
			FinalScore: score,
			Texts:      []string{"Extreme dispensation"},
			Fired: map[string]domain.FiredRule{
				"extreme_dispensation": {Fired: true, Partial: 0.15},
			},
		},
		ModelID:    "model-1",
		DetectedAt: window.Add(time.Hour),
	}
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2025, 10, 27, 0, 0, 0, 0, time.UTC)

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
		if repo.Driver() != "sqlite" {
			t.Errorf("expected driver sqlite, got %s", repo.Driver())
		}
	})

	t.Run("Windows", func(t *testing.T) {
		windows := []domain.RawAggregate{
			{TerminalCode: "T1", WindowStart: base, Amount: 100, TxnCount: 2},
			{TerminalCode: "T1", WindowStart: base.Add(15 * time.Minute), Amount: 200, TxnCount: 3},
			{TerminalCode: "T2", WindowStart: base, Amount: 300, TxnCount: 1},
		}
		if err := repo.SaveWindows(ctx, windows); err != nil {
			t.Fatalf("SaveWindows failed: %v", err)
		}

		// Re-ingesting a window replaces its amount.
		windows[0].Amount = 150
		if err := repo.SaveWindows(ctx, windows[:1]); err != nil {
			t.Fatalf("SaveWindows (upsert) failed: %v", err)
		}

		got, err := repo.ListWindows(ctx, "T1", base, base.Add(time.Hour))
		if err != nil {
			t.Fatalf("ListWindows failed: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 windows, got %d", len(got))
		}
		if got[0].Amount != 150 {
			t.Errorf("expected upserted amount 150, got %.2f", got[0].Amount)
		}
		if !got[1].WindowStart.Equal(base.Add(15 * time.Minute)) {
			t.Errorf("unexpected window order: %v", got[1].WindowStart)
		}

		// Upper bound is exclusive.
		got, err = repo.ListWindows(ctx, "T1", base, base.Add(15*time.Minute))
		if err != nil {
			t.Fatalf("ListWindows failed: %v", err)
		}
		if len(got) != 1 {
			t.Errorf("expected 1 window before upper bound, got %d", len(got))
		}

		all, err := repo.ListAllWindows(ctx, base, base.Add(time.Hour))
		if err != nil {
			t.Fatalf("ListAllWindows failed: %v", err)
		}
		if len(all) != 3 {
			t.Errorf("expected 3 windows, got %d", len(all))
		}

		codes, err := repo.ListTerminals(ctx)
		if err != nil {
			t.Fatalf("ListTerminals failed: %v", err)
		}
		if len(codes) != 2 || codes[0] != "T1" || codes[1] != "T2" {
			t.Errorf("unexpected terminals: %v", codes)
		}
	})

	t.Run("Baselines", func(t *testing.T) {
		if _, err := repo.GetBaseline(ctx, "T1"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}

		b := &domain.Baseline{
			TerminalCode:  "T1",
			Mean:          1000,
			Std:           100,
			Median:        990,
			P25:           900,
			P75:           1100,
			P95:           1200,
			Count:         96,
			AnomalyRate2:  4.5,
			AnomalyRate3:  0.5,
			MaxAbsZ:       3.2,
			MadrugadaMean: 10,
			ZoneRatio:     1.4,
			HasZone:       true,
			UpdatedAt:     base,
		}
		if err := repo.SaveBaselines(ctx, []*domain.Baseline{b}); err != nil {
			t.Fatalf("SaveBaselines failed: %v", err)
		}

		b.Mean = 1200
		if err := repo.SaveBaselines(ctx, []*domain.Baseline{b}); err != nil {
			t.Fatalf("SaveBaselines (upsert) failed: %v", err)
		}

		got, err := repo.GetBaseline(ctx, "T1")
		if err != nil {
			t.Fatalf("GetBaseline failed: %v", err)
		}
		if got.Mean != 1200 || got.Std != 100 || got.Count != 96 {
			t.Errorf("unexpected baseline: %+v", got)
		}
		if !got.HasZone || got.ZoneRatio != 1.4 {
			t.Errorf("expected zone data to round-trip, got %+v", got)
		}
		if !got.UpdatedAt.Equal(base) {
			t.Errorf("expected UpdatedAt %v, got %v", base, got.UpdatedAt)
		}
	})

	t.Run("PopulationBaseline", func(t *testing.T) {
		if _, err := repo.GetPopulationBaseline(ctx); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}

		p := &domain.PopulationBaseline{
			Hour:      map[int]domain.Stat{0: {Mean: 10, Std: 1, Count: 4}, 12: {Mean: 500, Std: 50, Count: 4}},
			DayOfWeek: map[int]domain.Stat{1: {Mean: 300, Std: 30, Count: 8}},
			UpdatedAt: base,
		}
		if err := repo.SavePopulationBaseline(ctx, p); err != nil {
			t.Fatalf("SavePopulationBaseline failed: %v", err)
		}

		// A second save replaces the first entirely.
		p2 := &domain.PopulationBaseline{
			Hour:      map[int]domain.Stat{12: {Mean: 600, Std: 60, Count: 5}},
			DayOfWeek: map[int]domain.Stat{1: {Mean: 350, Std: 35, Count: 9}},
			UpdatedAt: base.Add(time.Hour),
		}
		if err := repo.SavePopulationBaseline(ctx, p2); err != nil {
			t.Fatalf("SavePopulationBaseline failed: %v", err)
		}

		got, err := repo.GetPopulationBaseline(ctx)
		if err != nil {
			t.Fatalf("GetPopulationBaseline failed: %v", err)
		}
		if len(got.Hour) != 1 || got.Hour[12].Mean != 600 {
			t.Errorf("unexpected hour buckets: %+v", got.Hour)
		}
		if got.DayOfWeek[1].Count != 9 {
			t.Errorf("unexpected dow buckets: %+v", got.DayOfWeek)
		}
	})

	t.Run("Alerts", func(t *testing.T) {
		w := base.Add(3 * time.Hour)
		first := testAlert("T1", w, 0.75, domain.SeverityHigh)
		if err := repo.UpsertAlerts(ctx, []*domain.Alert{first}); err != nil {
			t.Fatalf("UpsertAlerts failed: %v", err)
		}

		// Re-scoring the same window leaves one row equal to the second write.
		second := testAlert("T1", w, 0.95, domain.SeverityCritical)
		second.LowConfidence = true
		if err := repo.UpsertAlerts(ctx, []*domain.Alert{second}); err != nil {
			t.Fatalf("UpsertAlerts failed: %v", err)
		}

		got, err := repo.GetAlert(ctx, "T1", w)
		if err != nil {
			t.Fatalf("GetAlert failed: %v", err)
		}
		if got.Severity != domain.SeverityCritical || got.Score != 0.95 || !got.LowConfidence {
			t.Errorf("expected second write to win, got %+v", got)
		}
		if len(got.Reasons.Texts) != 1 || !got.Reasons.Fired["extreme_dispensation"].Fired {
			t.Errorf("reasons did not round-trip: %+v", got.Reasons)
		}

		all, err := repo.ListAlerts(ctx, domain.AlertFilter{TerminalCode: "T1"})
		if err != nil {
			t.Fatalf("ListAlerts failed: %v", err)
		}
		if len(all) != 1 {
			t.Fatalf("expected 1 alert after double upsert, got %d", len(all))
		}

		if _, err := repo.GetAlert(ctx, "T1", base); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ListAlertsFilter", func(t *testing.T) {
		batch := []*domain.Alert{
			testAlert("T2", base, 0.55, domain.SeverityMedium),
			testAlert("T2", base.Add(15*time.Minute), 0.8, domain.SeverityHigh),
			testAlert("T3", base, 0.92, domain.SeverityCritical),
		}
		if err := repo.UpsertAlerts(ctx, batch); err != nil {
			t.Fatalf("UpsertAlerts failed: %v", err)
		}
		if err := repo.UpsertAlert(ctx, testAlert("T3", base.Add(time.Hour), 0.6, domain.SeverityMedium)); err != nil {
			t.Fatalf("UpsertAlert failed: %v", err)
		}

		tests := []struct {
			name   string
			filter domain.AlertFilter
			want   int
		}{
			{"terminal", domain.AlertFilter{TerminalCode: "T2"}, 2},
			{"severity", domain.AlertFilter{Severity: domain.SeverityMedium}, 2},
			{"range", domain.AlertFilter{From: base, To: base.Add(30 * time.Minute)}, 3},
			{"limit", domain.AlertFilter{Limit: 2}, 2},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := repo.ListAlerts(ctx, tt.filter)
				if err != nil {
					t.Fatalf("ListAlerts failed: %v", err)
				}
				if len(got) != tt.want {
					t.Errorf("expected %d alerts, got %d", tt.want, len(got))
				}
				for i := 1; i < len(got); i++ {
					if got[i].Score > got[i-1].Score {
						t.Errorf("alerts not ordered by score: %.2f before %.2f", got[i-1].Score, got[i].Score)
					}
				}
			})
		}
	})

	t.Run("AlertValidation", func(t *testing.T) {
		bad := testAlert("", base, 0.9, domain.SeverityCritical)
		err := repo.UpsertAlerts(ctx, []*domain.Alert{testAlert("T9", base, 0.9, domain.SeverityCritical), bad})
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput, got %v", err)
		}

		// The failed batch rolled back, including its valid row.
		if _, err := repo.GetAlert(ctx, "T9", base); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected rollback to discard T9, got %v", err)
		}
	})

	t.Run("Runs", func(t *testing.T) {
		run := &domain.RunSummary{
			ID:                "run-1",
			Source:            "EJ_20251027.txt",
			StartedAt:         base,
			FinishedAt:        base.Add(2 * time.Second),
			TerminalsAnalyzed: 3,
			WindowsScored:     12,
			Alerts:            map[domain.Severity]int{domain.SeverityHigh: 1},
			AlertsWritten:     1,
			Skipped: []domain.SkippedWindow{
				{TerminalCode: "T4", WindowStart: base, Reason: domain.SkipInsufficientContext},
			},
			ModelID: "model-1",
			Policy:  string(domain.PolicyWeighted),
		}
		if err := repo.SaveRun(ctx, run); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}
		if err := repo.SaveRun(ctx, &domain.RunSummary{ID: "run-2", Source: "api", StartedAt: base.Add(time.Hour), FinishedAt: base.Add(time.Hour)}); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}

		runs, err := repo.ListRuns(ctx, 10)
		if err != nil {
			t.Fatalf("ListRuns failed: %v", err)
		}
		if len(runs) != 2 {
			t.Fatalf("expected 2 runs, got %d", len(runs))
		}
		if runs[0].ID != "run-2" {
			t.Errorf("expected newest run first, got %s", runs[0].ID)
		}
		older := runs[1]
		if older.Alerts[domain.SeverityHigh] != 1 || older.TotalAlerts() != 1 {
			t.Errorf("unexpected alert counts: %v", older.Alerts)
		}
		if len(older.Skipped) != 1 || older.Skipped[0].Reason != domain.SkipInsufficientContext {
			t.Errorf("unexpected skipped windows: %+v", older.Skipped)
		}

		if err := repo.SaveRun(ctx, &domain.RunSummary{}); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for missing id, got %v", err)
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := New(domain.RepositoryConfig{Driver: "oracle"})
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestPostgresDSN(t *testing.T) {
	dsn := postgresDSN(domain.RepositoryConfig{PostgresUser: "harrier", PostgresPassword: "secret"})
	want := "host=localhost port=5432 user=harrier password=secret dbname=harrier sslmode=disable"
	if dsn != want {
		t.Errorf("expected %q, got %q", want, dsn)
	}
}
