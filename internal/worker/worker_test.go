package worker

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/baseline"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/detect"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/ingest"
	"github.com/opensource-finance/harrier/internal/model"
	"github.com/opensource-finance/harrier/internal/repository"
)

const windowFile = `01,20251027100500,4
02,100,2,5280000,20251027094500,4,20,104,50
02,100,2,120000,20251027100100,6,20
02,100,3,80000,20251027100200,4,20
02,200,2,800000,20251027094700,16,50
`

// testArtifact fits a small forest on synthetic rows of the canonical width.
func testArtifact(t *testing.T) *model.Artifact {
	t.Helper()

	width := len(domain.FeatureNames())
	rows := make([][]float64, 300)
	for i := range rows {
		row := make([]float64, width)
		for j := range row {
			row[j] = float64((i*7 + j*3) % 17)
		}
		rows[i] = row
	}

	scaler, err := model.FitScaler(rows)
	if err != nil {
		t.Fatalf("FitScaler failed: %v", err)
	}
	scaled := make([][]float64, len(rows))
	for i, row := range rows {
		scaled[i] = scaler.Transform(row, nil)
	}
	forest, err := model.FitForest(scaled, model.ForestParams{Trees: 20, MaxSamples: 64, MaxFeatures: 0.8, Seed: 1})
	if err != nil {
		t.Fatalf("FitForest failed: %v", err)
	}

	return &model.Artifact{
		Version:      model.ArtifactVersion,
		ModelID:      "worker-test",
		FeatureNames: domain.FeatureNames(),
		Scaler:       scaler,
		Forest:       forest,
		Training:     model.TrainingInfo{Contamination: 0.01, Threshold: -0.6},
	}
}

func newTestWorker(t *testing.T, eventBus domain.EventBus) (*Worker, *repository.SQLRepository) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "harrier.db")
	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: dbPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	cfg := domain.DefaultConfig()
	store := baseline.NewStore(repo, cache.NewLRUCache(100), time.Minute, nil)

	pipeline, err := detect.Build(cfg, repo, store, testArtifact(t), nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	return NewWorker(eventBus, repo, pipeline, ingest.NewParser(time.UTC, nil), nil), repo
}

func TestWorker(t *testing.T) {
	// Create channel bus
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	t.Run("StartAndStop", func(t *testing.T) {
		w, _ := newTestWorker(t, eventBus)

		if err := w.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 || stats.Topics[0] != domain.TopicWindowArrived {
			t.Errorf("expected 1 subscription on %s, got %+v", domain.TopicWindowArrived, stats)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}

		stats = w.GetStats()
		if stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ProcessFile", func(t *testing.T) {
		w, repo := newTestWorker(t, nil)

		path := filepath.Join(t.TempDir(), "EJ_20251027.txt")
		if err := os.WriteFile(path, []byte(windowFile), 0644); err != nil {
			t.Fatalf("failed to write window file: %v", err)
		}

		res, err := w.ProcessFile(context.Background(), path)
		if err != nil {
			t.Fatalf("ProcessFile failed: %v", err)
		}

		s := res.Summary
		if s.Source != "EJ_20251027.txt" {
			t.Errorf("expected source to be the file name, got %s", s.Source)
		}
		// Neither terminal has a baseline, so all three windows score against
		// the statistics of the whole file.
		if s.WindowsScored != 3 || s.LowConfidence != 3 {
			t.Errorf("expected 3 low-confidence windows, got scored=%d low=%d", s.WindowsScored, s.LowConfidence)
		}
		if len(s.Skipped) != 0 {
			t.Errorf("expected no skipped windows, got %+v", s.Skipped)
		}

		from := time.Date(2025, 10, 27, 0, 0, 0, 0, time.UTC)
		stored, err := repo.ListAllWindows(context.Background(), from, from.Add(24*time.Hour))
		if err != nil {
			t.Fatalf("ListAllWindows failed: %v", err)
		}
		if len(stored) != 3 {
			t.Fatalf("expected 3 stored windows, got %d", len(stored))
		}
		if stored[1].TerminalCode != "100" || stored[1].Amount != 200000 || stored[1].TxnCount != 2 {
			t.Errorf("expected 10:00 window of terminal 100 to sum two records, got %+v", stored[1])
		}

		runs, err := repo.ListRuns(context.Background(), 5)
		if err != nil {
			t.Fatalf("ListRuns failed: %v", err)
		}
		if len(runs) != 1 || runs[0].ID != s.ID {
			t.Errorf("expected the run to be recorded, got %d runs", len(runs))
		}
	})

	t.Run("WindowEventPublishesSummary", func(t *testing.T) {
		w, _ := newTestWorker(t, eventBus)
		if err := w.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		var (
			mu      sync.Mutex
			summary domain.RunSummary
		)
		done := make(chan struct{})
		eventBus.Subscribe(context.Background(), domain.TopicRunCompleted, func(ctx context.Context, msg *domain.Message) error {
			mu.Lock()
			defer mu.Unlock()
			if err := json.Unmarshal(msg.Payload, &summary); err != nil {
				return err
			}
			close(done)
			return nil
		})

		// Allow subscriptions to be active
		time.Sleep(10 * time.Millisecond)

		start := time.Date(2025, 10, 27, 10, 0, 0, 0, time.UTC)
		payload, _ := json.Marshal(domain.WindowArrivedEvent{
			Source: "inline",
			Windows: []domain.RawAggregate{
				{TerminalCode: "300", WindowStart: start, Amount: 100000, TxnCount: 2},
				{TerminalCode: "300", WindowStart: start.Add(15 * time.Minute), Amount: 150000, TxnCount: 3},
			},
		})
		if err := eventBus.Publish(context.Background(), domain.TopicWindowArrived, payload); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for run summary")
		}

		mu.Lock()
		defer mu.Unlock()
		if summary.Source != "inline" || summary.WindowsScored != 2 {
			t.Errorf("unexpected summary: %+v", summary)
		}
	})

	t.Run("SettlesClaimedFiles", func(t *testing.T) {
		dir := t.TempDir()
		inbox, err := ingest.NewInbox(dir)
		if err != nil {
			t.Fatalf("NewInbox failed: %v", err)
		}
		w, _ := newTestWorker(t, nil)
		w.SetInbox(inbox)

		tests := []struct {
			name    string
			content string
			wantDir string
		}{
			{"Scored", windowFile, ingest.ProcessedDir},
			{"Unparseable", "not a window file\n", ingest.FailedDir},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				name := "EJ_" + tt.name + ".txt"
				if err := os.WriteFile(filepath.Join(dir, name), []byte(tt.content), 0644); err != nil {
					t.Fatalf("failed to write window file: %v", err)
				}
				claimed, err := inbox.Claim(filepath.Join(dir, name))
				if err != nil {
					t.Fatalf("Claim failed: %v", err)
				}

				payload, _ := json.Marshal(domain.WindowArrivedEvent{Path: claimed, Source: name})
				w.handleMessage(context.Background(), &domain.Message{ID: tt.name, Payload: payload})

				if _, err := os.Stat(filepath.Join(dir, tt.wantDir, name)); err != nil {
					t.Errorf("expected %s in %s/: %v", name, tt.wantDir, err)
				}
				if _, err := os.Stat(claimed); !os.IsNotExist(err) {
					t.Errorf("expected %s to leave claimed/", name)
				}
			})
		}

		t.Run("CancelledRunReleased", func(t *testing.T) {
			name := "EJ_cancelled.txt"
			if err := os.WriteFile(filepath.Join(dir, name), []byte(windowFile), 0644); err != nil {
				t.Fatalf("failed to write window file: %v", err)
			}
			claimed, err := inbox.Claim(filepath.Join(dir, name))
			if err != nil {
				t.Fatalf("Claim failed: %v", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			payload, _ := json.Marshal(domain.WindowArrivedEvent{Path: claimed, Source: name})
			if err := w.handleMessage(ctx, &domain.Message{ID: "cancelled", Payload: payload}); err == nil {
				t.Fatal("expected error for a cancelled run")
			}

			pending, err := inbox.Pending()
			if err != nil {
				t.Fatalf("Pending failed: %v", err)
			}
			if len(pending) != 1 || filepath.Base(pending[0]) != name {
				t.Errorf("expected %s back in the inbox, got %v", name, pending)
			}
		})
	})

	t.Run("RejectsEmptyEvent", func(t *testing.T) {
		w, _ := newTestWorker(t, nil)
		payload, _ := json.Marshal(domain.WindowArrivedEvent{})
		if err := w.handleMessage(context.Background(), &domain.Message{ID: "m1", Payload: payload}); err == nil {
			t.Error("expected error for an event without path or windows")
		}
	})
}
