package domain

import (
	"context"
	"time"
)

// Baseline holds the historical dispensation statistics of one terminal.
// Std is never negative; a zero Std means every z-score against it is 0.
type Baseline struct {
	TerminalCode string  `json:"terminalCode" db:"terminal_code"`
	Mean         float64 `json:"mean" db:"mean"`
	Std          float64 `json:"std" db:"std"`
	Median       float64 `json:"median" db:"median"`
	P25          float64 `json:"p25" db:"p25"`
	P75          float64 `json:"p75" db:"p75"`
	P95          float64 `json:"p95" db:"p95"`
	Count        int     `json:"count" db:"window_count"`

	// Percent of historical windows beyond 2 and 3 standard deviations.
	AnomalyRate2 float64 `json:"anomalyRate2Sigma" db:"anomaly_rate_2sigma"`
	AnomalyRate3 float64 `json:"anomalyRate3Sigma" db:"anomaly_rate_3sigma"`
	MaxAbsZ      float64 `json:"maxAbsZ" db:"max_abs_z"`

	// Mean dispensed amount for windows starting between 00:00 and 05:59.
	MadrugadaMean float64 `json:"madrugadaMean" db:"madrugada_mean"`

	// Ratio of this terminal's mean to its neighbours' mean.
	// Supplied by an external enrichment; 1 when unknown.
	ZoneRatio float64 `json:"zoneRatio" db:"zone_ratio"`
	HasZone   bool    `json:"hasZone" db:"has_zone"`

	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// MadrugadaRatio returns the share of the overnight mean over the overall mean.
func (b *Baseline) MadrugadaRatio() float64 {
	if b == nil || b.Mean <= 0 {
		return 0
	}
	return b.MadrugadaMean / b.Mean
}

// Stat is a mean/std pair over a population bucket.
type Stat struct {
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	Count int     `json:"count"`
}

// PopulationBaseline holds statistics across all terminals,
// bucketed by hour-of-day (0-23) and day-of-week (1-7, Monday first).
type PopulationBaseline struct {
	Hour      map[int]Stat `json:"hour"`
	DayOfWeek map[int]Stat `json:"dayOfWeek"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// HourStat returns the population statistics for an hour of day.
func (p *PopulationBaseline) HourStat(hour int) (Stat, bool) {
	if p == nil {
		return Stat{}, false
	}
	s, ok := p.Hour[hour]
	return s, ok
}

// DayStat returns the population statistics for a day of week.
func (p *PopulationBaseline) DayStat(dow int) (Stat, bool) {
	if p == nil {
		return Stat{}, false
	}
	s, ok := p.DayOfWeek[dow]
	return s, ok
}

// Population baseline dimensions as stored.
const (
	DimensionHour      = "hour"
	DimensionDayOfWeek = "dow"
)

// BaselineReader serves baselines to scoring and training.
// Both methods return nil, nil when nothing has been computed yet.
type BaselineReader interface {
	Baseline(ctx context.Context, terminalCode string) (*Baseline, error)
	Population(ctx context.Context) (*PopulationBaseline, error)
}
