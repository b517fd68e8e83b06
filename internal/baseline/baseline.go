// Package baseline computes and serves the historical statistics windows are compared against.
package baseline

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/opensource-finance/harrier/internal/domain"
)

// MadrugadaEndHour is the first hour after the overnight band [0, MadrugadaEndHour).
const MadrugadaEndHour = 6

// Compute builds the baseline of one terminal from its windows.
// Hours are evaluated in loc. An empty series yields nil.
func Compute(terminal string, windows []domain.RawAggregate, loc *time.Location, now time.Time) *domain.Baseline {
	if len(windows) == 0 {
		return nil
	}
	if loc == nil {
		loc = time.UTC
	}

	values := make([]float64, len(windows))
	var overnight []float64
	for i, w := range windows {
		values[i] = w.Amount
		if w.WindowStart.In(loc).Hour() < MadrugadaEndHour {
			overnight = append(overnight, w.Amount)
		}
	}

	mean, std := meanStd(values)
	b := &domain.Baseline{
		TerminalCode: terminal,
		Mean:         mean,
		Std:          std,
		Count:        len(values),
		ZoneRatio:    1,
		UpdatedAt:    now.UTC(),
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	b.Median = Quantile(sorted, 0.50)
	b.P25 = Quantile(sorted, 0.25)
	b.P75 = Quantile(sorted, 0.75)
	b.P95 = Quantile(sorted, 0.95)

	if len(overnight) > 0 {
		b.MadrugadaMean = stat.Mean(overnight, nil)
	}

	if std > 0 {
		beyond2, beyond3 := 0, 0
		for _, v := range values {
			z := math.Abs((v - mean) / std)
			if z > 2 {
				beyond2++
			}
			if z > 3 {
				beyond3++
			}
			if z > b.MaxAbsZ {
				b.MaxAbsZ = z
			}
		}
		n := float64(len(values))
		b.AnomalyRate2 = float64(beyond2) / n * 100
		b.AnomalyRate3 = float64(beyond3) / n * 100
	}

	return b
}

// ComputePopulation builds hour-of-day and day-of-week statistics across all terminals.
func ComputePopulation(windows []domain.RawAggregate, loc *time.Location, now time.Time) *domain.PopulationBaseline {
	if loc == nil {
		loc = time.UTC
	}
	byHour := make(map[int][]float64)
	byDay := make(map[int][]float64)
	for _, w := range windows {
		local := w.WindowStart.In(loc)
		byHour[local.Hour()] = append(byHour[local.Hour()], w.Amount)
		dow := domain.ISOWeekday(local)
		byDay[dow] = append(byDay[dow], w.Amount)
	}

	p := &domain.PopulationBaseline{
		Hour:      make(map[int]domain.Stat, len(byHour)),
		DayOfWeek: make(map[int]domain.Stat, len(byDay)),
		UpdatedAt: now.UTC(),
	}
	for h, values := range byHour {
		p.Hour[h] = statOf(values)
	}
	for d, values := range byDay {
		p.DayOfWeek[d] = statOf(values)
	}
	return p
}

// BatchFallback builds a low-confidence stand-in baseline from all amounts of the
// current batch, across terminals. Historical anomaly rates are unknown and left
// at 0. Use ForTerminal to bind it to a terminal.
func BatchFallback(batch []domain.RawAggregate) (*domain.Baseline, error) {
	if len(batch) < 2 {
		return nil, fmt.Errorf("batch of %d windows: %w", len(batch), domain.ErrInsufficientContext)
	}
	values := make([]float64, len(batch))
	for i, w := range batch {
		values[i] = w.Amount
	}
	mean, std := meanStd(values)
	return &domain.Baseline{
		Mean:      mean,
		Std:       std,
		Count:     len(values),
		ZoneRatio: 1,
	}, nil
}

// ForTerminal returns a copy of b labelled with terminal.
func ForTerminal(b *domain.Baseline, terminal string) *domain.Baseline {
	c := *b
	c.TerminalCode = terminal
	return &c
}

// Quantile interpolates linearly between closest ranks of sorted values
// (the definition used by pandas and PERCENTILE_CONT).
func Quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	switch {
	case n == 0:
		return 0
	case n == 1 || p <= 0:
		return sorted[0]
	case p >= 1:
		return sorted[n-1]
	}
	pos := p * float64(n-1)
	lo := int(math.Floor(pos))
	frac := pos - float64(lo)
	if lo+1 >= n {
		return sorted[n-1]
	}
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// meanStd returns the mean and sample standard deviation, with std 0 below 2 points.
func meanStd(values []float64) (float64, float64) {
	if len(values) < 2 {
		return stat.Mean(values, nil), 0
	}
	mean, std := stat.MeanStdDev(values, nil)
	if math.IsNaN(std) || math.IsInf(std, 0) || std < 0 {
		std = 0
	}
	return mean, std
}

func statOf(values []float64) domain.Stat {
	mean, std := meanStd(values)
	return domain.Stat{Mean: mean, Std: std, Count: len(values)}
}
