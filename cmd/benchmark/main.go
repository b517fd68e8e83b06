// Benchmark tool for timing a full Harrier scoring run on synthetic terminals.
//
// Usage:
//
//	go run ./cmd/benchmark -terminals 200 -days 14 -anomalies 0.02
//
// This tool:
//  1. Generates a history of 15-minute windows for N synthetic terminals
//  2. Recomputes baselines and trains an outlier model on that history
//  3. Writes a window file for the next window, injecting overnight anomalies
//  4. Scores the file in-process and compares alerts with the injected anomalies
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/opensource-finance/harrier/internal/baseline"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/detect"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/features"
	"github.com/opensource-finance/harrier/internal/ingest"
	"github.com/opensource-finance/harrier/internal/logging"
	"github.com/opensource-finance/harrier/internal/model"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/worker"
)

// terminalProfile is the generating distribution of one synthetic terminal.
type terminalProfile struct {
	Code string
	Mean float64 // mean daytime dispensation per window
}

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int // Injected anomaly alerted
	FalsePositives int // Normal window alerted
	TrueNegatives  int // Normal window not alerted
	FalseNegatives int // Injected anomaly missed

	WindowsScored int
	Skipped       int
	BySeverity    map[domain.Severity]int

	SetupDuration time.Duration
	ScoreDuration time.Duration
}

func main() {
	terminals := flag.Int("terminals", 200, "Number of synthetic terminals")
	days := flag.Int("days", 14, "Days of history to generate")
	anomalyRate := flag.Float64("anomalies", 0.02, "Share of terminals with an injected anomaly")
	trees := flag.Int("trees", 100, "Isolation forest size")
	sampleSize := flag.Int("sample", 20000, "Training sample size (0 = all windows)")
	seed := flag.Uint64("seed", 42, "Random seed")
	outDir := flag.String("out", "", "Directory for the database and window file (default: temp dir)")
	verbose := flag.Bool("verbose", false, "Print each alert")
	flag.Parse()

	if *terminals < 1 || *days < 2 {
		fmt.Println("Usage: benchmark -terminals N -days D [-anomalies 0.02]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	dir := *outDir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "harrier-benchmark-*")
		if err != nil {
			fmt.Printf("ERROR: failed to create temp dir: %v\n", err)
			os.Exit(1)
		}
		defer os.RemoveAll(tmp)
		dir = tmp
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║        HARRIER BENCHMARK - Synthetic Dispensation Run         ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nTerminals:   %d\n", *terminals)
	fmt.Printf("History:     %d days\n", *days)
	fmt.Printf("Anomalies:   %.2f%%\n", *anomalyRate*100)
	fmt.Printf("Trees:       %d\n", *trees)
	fmt.Printf("Work dir:    %s\n", dir)
	fmt.Println()

	m, err := run(context.Background(), benchConfig{
		Terminals:   *terminals,
		Days:        *days,
		AnomalyRate: *anomalyRate,
		Trees:       *trees,
		SampleSize:  *sampleSize,
		Seed:        *seed,
		Dir:         dir,
		Verbose:     *verbose,
	})
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}

	printResults(m, *terminals)
}

type benchConfig struct {
	Terminals   int
	Days        int
	AnomalyRate float64
	Trees       int
	SampleSize  int
	Seed        uint64
	Dir         string
	Verbose     bool
}

func run(ctx context.Context, bc benchConfig) (*Metrics, error) {
	logger := logging.NewLogger("warn", "text")
	rng := rand.New(rand.NewPCG(bc.Seed, bc.Seed^0x9e3779b97f4a7c15))

	cfg := domain.DefaultConfig()
	cfg.Repository.SQLitePath = filepath.Join(bc.Dir, "benchmark.db")
	cfg.Model.Trees = bc.Trees
	cfg.Model.SampleSize = bc.SampleSize
	cfg.Model.RandomState = bc.Seed

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}
	defer repo.Close()

	setupStart := time.Now()

	// Scoring happens at 03:00, right after the generated history.
	historyStart := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	scoreAt := historyStart.AddDate(0, 0, bc.Days).Add(3 * time.Hour)

	profiles := make([]terminalProfile, bc.Terminals)
	for i := range profiles {
		profiles[i] = terminalProfile{
			Code: fmt.Sprintf("%06d", 100000+i),
			Mean: 200000 + rng.Float64()*1800000,
		}
	}

	fmt.Printf("Generating history...\n")
	history := generateHistory(rng, profiles, historyStart, scoreAt)
	if err := repo.SaveWindows(ctx, history); err != nil {
		return nil, fmt.Errorf("failed to store history: %w", err)
	}
	fmt.Printf("✓ Stored %d windows\n", len(history))

	store := baseline.NewStore(repo, cache.NewLRUCache(bc.Terminals+10), time.Hour, logger)
	job := baseline.NewJob(repo, store, cfg.Baseline.Lookback, time.UTC, logger)
	if _, err := job.Run(ctx, scoreAt); err != nil {
		return nil, fmt.Errorf("failed to compute baselines: %w", err)
	}
	fmt.Printf("✓ Baselines computed\n")

	engine := features.NewEngine(time.UTC, cfg.Detection.RecentWindows)
	trainer := model.NewTrainer(repo, store, engine, cfg.Model, logger)
	artifact, err := trainer.Train(ctx, historyStart, scoreAt)
	if err != nil {
		return nil, fmt.Errorf("failed to train model: %w", err)
	}
	fmt.Printf("✓ Model %s trained on %d windows\n", artifact.ModelID, artifact.Training.Samples)

	pipeline, err := detect.Build(cfg, repo, store, artifact, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}

	path := filepath.Join(bc.Dir, "window-"+scoreAt.Format(ingest.TimestampLayout)+".txt")
	injected, err := writeWindowFile(rng, path, profiles, scoreAt, bc.AnomalyRate)
	if err != nil {
		return nil, fmt.Errorf("failed to write window file: %w", err)
	}
	fmt.Printf("✓ Window file written (%d injected anomalies)\n", len(injected))

	m := &Metrics{SetupDuration: time.Since(setupStart)}

	w := worker.NewWorker(nil, repo, pipeline, ingest.NewParser(time.UTC, logger), logger)
	fmt.Printf("\nScoring window file...\n")
	scoreStart := time.Now()
	res, err := w.ProcessFile(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to score window file: %w", err)
	}
	m.ScoreDuration = time.Since(scoreStart)

	m.WindowsScored = res.Summary.WindowsScored
	m.Skipped = len(res.Summary.Skipped)
	m.BySeverity = res.Summary.Alerts

	alerted := make(map[string]bool, len(res.Alerts))
	for _, a := range res.Alerts {
		alerted[a.TerminalCode] = true
		if bc.Verbose {
			status := "✓"
			if !injected[a.TerminalCode] {
				status = "✗"
			}
			fmt.Printf("%s %s | %-8s | Score: %.3f | Amount: $%12.2f | Expected: $%12.2f | σ: %+.2f\n",
				status,
				a.TerminalCode,
				a.Severity,
				a.Score,
				a.Amount,
				a.ExpectedAmount,
				a.DeviationSigma,
			)
		}
	}
	for _, p := range profiles {
		switch {
		case injected[p.Code] && alerted[p.Code]:
			m.TruePositives++
		case injected[p.Code]:
			m.FalseNegatives++
		case alerted[p.Code]:
			m.FalsePositives++
		default:
			m.TrueNegatives++
		}
	}
	return m, nil
}

// hourProfile scales a terminal's daytime mean by hour of day.
func hourProfile(hour int) float64 {
	switch {
	case hour < 6:
		return 0.08
	case hour < 9:
		return 0.6
	case hour < 19:
		return 1.0
	default:
		return 0.5
	}
}

func generateHistory(rng *rand.Rand, profiles []terminalProfile, from, to time.Time) []domain.RawAggregate {
	n := int(to.Sub(from) / domain.WindowDuration)
	out := make([]domain.RawAggregate, 0, n*len(profiles))
	for _, p := range profiles {
		for ts := from; ts.Before(to); ts = ts.Add(domain.WindowDuration) {
			amount := sampleAmount(rng, p.Mean*hourProfile(ts.Hour()))
			if amount == 0 {
				continue
			}
			out = append(out, domain.RawAggregate{
				TerminalCode: p.Code,
				WindowStart:  ts,
				Amount:       amount,
				TxnCount:     max(1, int(amount/50000)),
			})
		}
	}
	return out
}

// sampleAmount draws a window total rounded to whole 20-unit notes.
func sampleAmount(rng *rand.Rand, mean float64) float64 {
	v := mean * (1 + 0.2*rng.NormFloat64())
	if v <= 0 {
		return 0
	}
	return float64(int(v/20)) * 20
}

// writeWindowFile writes one dispensation record per terminal for the window
// at ts. Anomalous terminals dispense several times their daytime mean.
func writeWindowFile(rng *rand.Rand, path string, profiles []terminalProfile, ts time.Time, rate float64) (map[string]bool, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	fmt.Fprintf(bw, "01,%s,%d\n", ts.Add(domain.WindowDuration).Format(ingest.TimestampLayout), len(profiles))

	injected := make(map[string]bool)
	for _, p := range profiles {
		amount := sampleAmount(rng, p.Mean*hourProfile(ts.Hour()))
		if rng.Float64() < rate {
			amount = float64(int(p.Mean*(2.5+rng.Float64())/20)) * 20
			injected[p.Code] = true
		}
		if amount == 0 {
			amount = 20
		}
		at := ts.Add(time.Duration(rng.IntN(int(domain.WindowDuration / time.Second))) * time.Second)
		fmt.Fprintf(bw, "02,%s,%d,%s,%s,%d,20\n",
			p.Code,
			ingest.AdminDispensed,
			strconv.FormatFloat(amount, 'f', 0, 64),
			at.Format(ingest.TimestampLayout),
			int(amount/20),
		)
	}
	if err := bw.Flush(); err != nil {
		return nil, err
	}
	return injected, f.Close()
}

func printResults(m *Metrics, terminals int) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 RUN STATISTICS\n")
	fmt.Printf("   Terminals:        %d\n", terminals)
	fmt.Printf("   Windows Scored:   %d\n", m.WindowsScored)
	fmt.Printf("   Skipped:          %d\n", m.Skipped)
	for _, sev := range []domain.Severity{domain.SeverityCritical, domain.SeverityHigh, domain.SeverityMedium} {
		fmt.Printf("   %-9s alerts:  %d\n", sev, m.BySeverity[sev])
	}

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                   ALERT     NO ALERT")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  A  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("           N  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of alerts, how many were injected)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of injected anomalies, how many alerted)\n", recall)
	fmt.Printf("   F1-Score:   %.4f\n", f1)

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Setup:            %v\n", m.SetupDuration.Round(time.Millisecond))
	fmt.Printf("   Scoring Run:      %v\n", m.ScoreDuration.Round(time.Millisecond))
	if m.ScoreDuration > 0 {
		fmt.Printf("   Throughput:       %.2f windows/sec\n", float64(m.WindowsScored)/m.ScoreDuration.Seconds())
	}

	fmt.Println()
}
