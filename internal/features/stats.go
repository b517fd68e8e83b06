package features

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// ZScore is (value - mean) / std, or 0 when std is not a positive finite number.
func ZScore(value, mean, std float64) float64 {
	if std <= 0 || math.IsNaN(std) || math.IsInf(std, 0) {
		return 0
	}
	z := (value - mean) / std
	if math.IsNaN(z) || math.IsInf(z, 0) {
		return 0
	}
	return z
}

// PctChange is the percentage change from prev to cur, or 0 when prev <= 0.
func PctChange(cur, prev float64) float64 {
	if prev <= 0 {
		return 0
	}
	return (cur - prev) / prev * 100
}

// PercentRank is the rank percentage (0-100) of value among values,
// where values includes value itself. A single value ranks 0.
func PercentRank(value float64, values []float64) float64 {
	n := len(values)
	if n <= 1 {
		return 0
	}
	below := 0
	for _, v := range values {
		if v < value {
			below++
		}
	}
	return float64(below) / float64(n-1) * 100
}

// SampleStd is the sample standard deviation, or 0 with fewer than 2 points.
func SampleStd(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	s := stat.StdDev(values, nil)
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return 0
	}
	return s
}

// Slope fits y = a + b·x by least squares and returns b,
// or 0 with fewer than minPoints points or a degenerate x range.
func Slope(xs, ys []float64, minPoints int) float64 {
	if len(xs) < minPoints || len(xs) != len(ys) || len(xs) < 2 {
		return 0
	}
	if stat.Variance(xs, nil) <= 0 {
		return 0
	}
	_, beta := stat.LinearRegression(xs, ys, nil, false)
	if math.IsNaN(beta) || math.IsInf(beta, 0) {
		return 0
	}
	return beta
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}
