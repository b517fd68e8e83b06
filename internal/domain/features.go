package domain

import (
	"time"
)

// Canonical model feature names, in the order FeatureVector.Values emits them.
const (
	FeatureAmount          = "amount"
	FeatureTxnCount        = "txn_count"
	FeatureHour            = "hour"
	FeatureDayOfWeek       = "day_of_week"
	FeatureMonth           = "month"
	FeatureIsWeekend       = "is_weekend"
	FeatureIsMonthEnd      = "is_month_end"
	FeatureIsMidMonth      = "is_mid_month"
	FeatureZTerminal       = "z_terminal"
	FeatureZHour           = "z_hour"
	FeatureZDayOfWeek      = "z_day_of_week"
	FeaturePercentileMonth = "percentile_month"
	FeatureDeltaPrev       = "delta_prev"
	FeatureDeltaYesterday  = "delta_yesterday"
	FeatureTrend24h        = "trend_24h"
	FeatureVolatility24h   = "volatility_24h"
)

var featureNames = []string{
	FeatureAmount,
	FeatureTxnCount,
	FeatureHour,
	FeatureDayOfWeek,
	FeatureMonth,
	FeatureIsWeekend,
	FeatureIsMonthEnd,
	FeatureIsMidMonth,
	FeatureZTerminal,
	FeatureZHour,
	FeatureZDayOfWeek,
	FeaturePercentileMonth,
	FeatureDeltaPrev,
	FeatureDeltaYesterday,
	FeatureTrend24h,
	FeatureVolatility24h,
}

// FeatureNames returns a copy of the canonical feature order.
func FeatureNames() []string {
	out := make([]string, len(featureNames))
	copy(out, featureNames)
	return out
}

// FeatureVector is the comparative view of one (terminal, window).
type FeatureVector struct {
	TerminalCode string
	WindowStart  time.Time

	// Model features
	Amount          float64
	TxnCount        float64
	Hour            int
	DayOfWeek       int
	Month           int
	IsWeekend       bool
	IsMonthEnd      bool
	IsMidMonth      bool
	ZTerminal       float64
	ZHour           float64
	ZDayOfWeek      float64
	PercentileMonth float64
	DeltaPrev       float64
	DeltaYesterday  float64
	Trend24h        float64
	Volatility24h   float64

	// Context for the rule engine and alert builder
	BaselineMean   float64
	BaselineStd    float64
	MadrugadaRatio float64
	AnomalyRate2   float64
	AnomalyRate3   float64
	ZoneRatio      float64
	HasZone        bool
	RecentMean     float64

	// LowConfidence is set when batch statistics stood in for a missing baseline.
	LowConfidence bool
}

// Values returns the model features in canonical order.
func (v *FeatureVector) Values() []float64 {
	return []float64{
		v.Amount,
		v.TxnCount,
		float64(v.Hour),
		float64(v.DayOfWeek),
		float64(v.Month),
		boolFloat(v.IsWeekend),
		boolFloat(v.IsMonthEnd),
		boolFloat(v.IsMidMonth),
		v.ZTerminal,
		v.ZHour,
		v.ZDayOfWeek,
		v.PercentileMonth,
		v.DeltaPrev,
		v.DeltaYesterday,
		v.Trend24h,
		v.Volatility24h,
	}
}

// Key returns the (terminal, window) identity of the vector.
func (v *FeatureVector) Key() WindowKey {
	return WindowKey{TerminalCode: v.TerminalCode, WindowStart: v.WindowStart}
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
