package features

import (
	"math"
	"sort"

	"github.com/opensource-finance/harrier/internal/domain"
)

// continuous lists the float-valued model features; calendar features are
// integers or flags and always finite.
var continuous = []func(v *domain.FeatureVector) *float64{
	func(v *domain.FeatureVector) *float64 { return &v.Amount },
	func(v *domain.FeatureVector) *float64 { return &v.TxnCount },
	func(v *domain.FeatureVector) *float64 { return &v.ZTerminal },
	func(v *domain.FeatureVector) *float64 { return &v.ZHour },
	func(v *domain.FeatureVector) *float64 { return &v.ZDayOfWeek },
	func(v *domain.FeatureVector) *float64 { return &v.PercentileMonth },
	func(v *domain.FeatureVector) *float64 { return &v.DeltaPrev },
	func(v *domain.FeatureVector) *float64 { return &v.DeltaYesterday },
	func(v *domain.FeatureVector) *float64 { return &v.Trend24h },
	func(v *domain.FeatureVector) *float64 { return &v.Volatility24h },
}

// Sanitize replaces every NaN or infinite model feature with the batch median
// of that feature, or 0 when the batch has no finite value for it.
// It returns the number of replaced values.
func Sanitize(vectors []domain.FeatureVector) int {
	replaced := 0
	for _, field := range continuous {
		var finite []float64
		var bad []int
		for i := range vectors {
			x := *field(&vectors[i])
			if isFinite(x) {
				finite = append(finite, x)
			} else {
				bad = append(bad, i)
			}
		}
		if len(bad) == 0 {
			continue
		}
		fill := median(finite)
		for _, i := range bad {
			*field(&vectors[i]) = fill
		}
		replaced += len(bad)
	}
	return replaced
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

func median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	s := make([]float64, n)
	copy(s, values)
	sort.Float64s(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}
