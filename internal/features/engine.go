// Package features derives comparative statistical features for dispensation windows.
package features

import (
	"sort"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

const (
	// TrailingWindows is the look-back used by volatility and trend (one day).
	TrailingWindows = domain.WindowsPerDay

	// MinTrendPoints is the fewest points a trend slope is fitted on.
	MinTrendPoints = 10

	// DefaultRecentWindows is the count of prior windows averaged as the recent mean.
	DefaultRecentWindows = 4
)

// Engine computes feature vectors. It holds no per-terminal state and is safe
// for concurrent use.
type Engine struct {
	location      *time.Location
	recentWindows int
}

// NewEngine creates a feature engine evaluating calendar flags in loc.
func NewEngine(loc *time.Location, recentWindows int) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	if recentWindows <= 0 {
		recentWindows = DefaultRecentWindows
	}
	return &Engine{
		location:      loc,
		recentWindows: recentWindows,
	}
}

// Context is the reference data for one terminal.
type Context struct {
	// Baseline of the terminal, or the batch fallback when LowConfidence is set.
	Baseline *domain.Baseline

	// Population may be nil; population z-scores are then 0.
	Population *domain.PopulationBaseline

	LowConfidence bool
}

// ComputeSeries computes one vector per window of current, a single terminal's
// windows in ascending order. history holds that terminal's earlier windows,
// also ascending and strictly before current[0].
func (e *Engine) ComputeSeries(history, current []domain.RawAggregate, fc Context) []domain.FeatureVector {
	all := make([]domain.RawAggregate, 0, len(history)+len(current))
	all = append(all, history...)
	all = append(all, current...)

	out := make([]domain.FeatureVector, 0, len(current))
	for i := range current {
		k := len(history) + i
		out = append(out, e.Compute(all[:k], all[k], fc))
	}
	return out
}

// Compute builds the vector of cur given its prior windows (ascending).
func (e *Engine) Compute(prior []domain.RawAggregate, cur domain.RawAggregate, fc Context) domain.FeatureVector {
	local := cur.WindowStart.In(e.location)
	tf := TemporalFlags(local)

	v := domain.FeatureVector{
		TerminalCode:  cur.TerminalCode,
		WindowStart:   cur.WindowStart,
		Amount:        cur.Amount,
		TxnCount:      float64(cur.TxnCount),
		Hour:          tf.Hour,
		DayOfWeek:     tf.DayOfWeek,
		Month:         tf.Month,
		IsWeekend:     tf.IsWeekend,
		IsMonthEnd:    tf.IsMonthEnd,
		IsMidMonth:    tf.IsMidMonth,
		ZoneRatio:     1,
		LowConfidence: fc.LowConfidence,
	}

	if b := fc.Baseline; b != nil {
		v.ZTerminal = ZScore(cur.Amount, b.Mean, b.Std)
		v.BaselineMean = b.Mean
		v.BaselineStd = b.Std
		v.MadrugadaRatio = b.MadrugadaRatio()
		v.AnomalyRate2 = b.AnomalyRate2
		v.AnomalyRate3 = b.AnomalyRate3
		if b.HasZone {
			v.ZoneRatio = b.ZoneRatio
			v.HasZone = true
		}
	}
	if s, ok := fc.Population.HourStat(tf.Hour); ok {
		v.ZHour = ZScore(cur.Amount, s.Mean, s.Std)
	}
	if s, ok := fc.Population.DayStat(tf.DayOfWeek); ok {
		v.ZDayOfWeek = ZScore(cur.Amount, s.Mean, s.Std)
	}

	v.PercentileMonth = e.percentileInMonth(prior, cur, local)

	if n := len(prior); n > 0 {
		v.DeltaPrev = PctChange(cur.Amount, prior[n-1].Amount)
	}
	if y, ok := findWindow(prior, cur.WindowStart.Add(-24*time.Hour)); ok {
		v.DeltaYesterday = PctChange(cur.Amount, y.Amount)
	}

	trailing := tail(prior, TrailingWindows)
	v.Volatility24h = SampleStd(amounts(trailing))
	v.Trend24h = trend(trailing, cur)

	v.RecentMean = v.BaselineMean
	if recent := tail(prior, e.recentWindows); len(recent) > 0 {
		v.RecentMean = mean(amounts(recent))
	}

	return v
}

func (e *Engine) percentileInMonth(prior []domain.RawAggregate, cur domain.RawAggregate, local time.Time) float64 {
	values := []float64{cur.Amount}
	for i := len(prior) - 1; i >= 0; i-- {
		t := prior[i].WindowStart.In(e.location)
		if !sameMonth(t, local) {
			break
		}
		values = append(values, prior[i].Amount)
	}
	return PercentRank(cur.Amount, values)
}

// trend is the slope of amount per elapsed hour over the trailing windows plus cur.
func trend(trailing []domain.RawAggregate, cur domain.RawAggregate) float64 {
	n := len(trailing) + 1
	if n < MinTrendPoints {
		return 0
	}
	origin := cur.WindowStart
	if len(trailing) > 0 {
		origin = trailing[0].WindowStart
	}
	xs := make([]float64, 0, n)
	ys := make([]float64, 0, n)
	for _, w := range trailing {
		xs = append(xs, w.WindowStart.Sub(origin).Hours())
		ys = append(ys, w.Amount)
	}
	xs = append(xs, cur.WindowStart.Sub(origin).Hours())
	ys = append(ys, cur.Amount)
	return Slope(xs, ys, MinTrendPoints)
}

func findWindow(sorted []domain.RawAggregate, at time.Time) (domain.RawAggregate, bool) {
	i := sort.Search(len(sorted), func(i int) bool {
		return !sorted[i].WindowStart.Before(at)
	})
	if i < len(sorted) && sorted[i].WindowStart.Equal(at) {
		return sorted[i], true
	}
	return domain.RawAggregate{}, false
}

func tail(windows []domain.RawAggregate, n int) []domain.RawAggregate {
	if len(windows) <= n {
		return windows
	}
	return windows[len(windows)-n:]
}

func amounts(windows []domain.RawAggregate) []float64 {
	out := make([]float64, len(windows))
	for i, w := range windows {
		out[i] = w.Amount
	}
	return out
}
