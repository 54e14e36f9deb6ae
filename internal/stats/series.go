package stats

import (
	"sort"

	"github.com/lox/commutewatch/internal/models"
)

const (
	MinRollingWindow = 20
	MaxRollingWindow = 240
	DefaultMaxPoints = 5000
)

// RollingWindow sizes the trailing window from history length: n/12 clamped
// to [MinRollingWindow, MaxRollingWindow].
func RollingWindow(n int) int {
	w := n / 12
	if w < MinRollingWindow {
		return MinRollingWindow
	}
	if w > MaxRollingWindow {
		return MaxRollingWindow
	}
	return w
}

// RollingMedian returns, for every non-null sample i, the median of the
// trailing window of non-null samples ending at i.
func RollingMedian(series []models.Sample, window int) []Point {
	if window < 1 {
		window = 1
	}
	var pts []Point
	for _, s := range series {
		if s.DurationMinutes.Valid {
			pts = append(pts, Point{Time: s.Timestamp, Value: s.DurationMinutes.Float64})
		}
	}
	if len(pts) == 0 {
		return nil
	}

	out := make([]Point, len(pts))
	buf := make([]float64, 0, window)
	for i := range pts {
		start := i - window + 1
		if start < 0 {
			start = 0
		}
		buf = buf[:0]
		for _, p := range pts[start : i+1] {
			buf = append(buf, p.Value)
		}
		sort.Float64s(buf)
		out[i] = Point{Time: pts[i].Time, Value: percentileSorted(buf, 50)}
	}
	return out
}

// Decimate keeps every ceil(len/maxPoints)-th sample when series is longer
// than maxPoints. Shorter series are returned unchanged.
func Decimate(series []models.Sample, maxPoints int) []models.Sample {
	if maxPoints <= 0 {
		maxPoints = DefaultMaxPoints
	}
	if len(series) <= maxPoints {
		return series
	}
	stride := (len(series) + maxPoints - 1) / maxPoints
	out := make([]models.Sample, 0, (len(series)+stride-1)/stride)
	for i := 0; i < len(series); i += stride {
		out = append(out, series[i])
	}
	return out
}

func sortGroups(groups []group) {
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].key.Before(groups[j].key)
	})
}
