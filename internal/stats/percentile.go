// Package stats computes route statistics from a sample history. Every
// function is pure: samples with a null duration are ignored and empty input
// yields empty output.
package stats

import (
	"math"
	"sort"
)

// Percentile returns the p-th percentile of values using linear
// interpolation between the bracketing order statistics. p <= 0 is the
// minimum and p >= 100 the maximum. Empty input returns 0.
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return percentileSorted(sorted, p)
}

func percentileSorted(sorted []float64, p float64) float64 {
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	idx := (p / 100) * float64(len(sorted)-1)
	lower := int(math.Floor(idx))
	upper := int(math.Ceil(idx))
	if lower == upper {
		return sorted[lower]
	}
	return sorted[lower] + (sorted[upper]-sorted[lower])*(idx-float64(lower))
}

// Median is the 50th percentile.
func Median(values []float64) float64 {
	return Percentile(values, 50)
}
