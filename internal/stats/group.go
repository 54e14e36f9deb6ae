package stats

import (
	"time"

	"github.com/lox/commutewatch/internal/models"
)

// Point is one value of a derived time series.
type Point struct {
	Time  time.Time
	Value float64
}

// Band is the low/high percentile envelope of one day.
type Band struct {
	Day  time.Time
	Low  float64
	High float64
}

type WeekdayMedian struct {
	Weekday time.Weekday
	Median  float64
	Count   int
}

type BucketMedian struct {
	Bucket models.PeakBucket
	Median float64
	Count  int
}

// WeekdayBucketMedian is one cell of the weekday by peak bucket table.
type WeekdayBucketMedian struct {
	Weekday time.Weekday
	Bucket  models.PeakBucket
	Median  float64
	Count   int
}

// WeekdayOrder lists weekdays Monday first.
var WeekdayOrder = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
	time.Friday, time.Saturday, time.Sunday,
}

// Values returns the non-null durations of series in order.
func Values(series []models.Sample) []float64 {
	var out []float64
	for _, s := range series {
		if s.DurationMinutes.Valid {
			out = append(out, s.DurationMinutes.Float64)
		}
	}
	return out
}

func WeekdayMedians(series []models.Sample) []WeekdayMedian {
	byDay := make(map[time.Weekday][]float64)
	for _, s := range series {
		if s.DurationMinutes.Valid {
			byDay[s.Weekday] = append(byDay[s.Weekday], s.DurationMinutes.Float64)
		}
	}
	var out []WeekdayMedian
	for _, wd := range WeekdayOrder {
		vals := byDay[wd]
		if len(vals) == 0 {
			continue
		}
		out = append(out, WeekdayMedian{Weekday: wd, Median: Median(vals), Count: len(vals)})
	}
	return out
}

// PeakBucketMedians groups samples by local hour into buckets. A sample may
// fall in more than one bucket when buckets overlap.
func PeakBucketMedians(series []models.Sample, buckets []models.PeakBucket) []BucketMedian {
	var out []BucketMedian
	for _, b := range buckets {
		var vals []float64
		for _, s := range series {
			if s.DurationMinutes.Valid && b.Contains(s.Timestamp.Hour()) {
				vals = append(vals, s.DurationMinutes.Float64)
			}
		}
		if len(vals) == 0 {
			continue
		}
		out = append(out, BucketMedian{Bucket: b, Median: Median(vals), Count: len(vals)})
	}
	return out
}

// WeekdayPeakBucketMedians cross-tabulates weekday and bucket. Cells with no
// samples are omitted. Order is weekday (Monday first), then bucket order.
func WeekdayPeakBucketMedians(series []models.Sample, buckets []models.PeakBucket) []WeekdayBucketMedian {
	var out []WeekdayBucketMedian
	for _, wd := range WeekdayOrder {
		for _, b := range buckets {
			var vals []float64
			for _, s := range series {
				if s.DurationMinutes.Valid && s.Weekday == wd && b.Contains(s.Timestamp.Hour()) {
					vals = append(vals, s.DurationMinutes.Float64)
				}
			}
			if len(vals) == 0 {
				continue
			}
			out = append(out, WeekdayBucketMedian{Weekday: wd, Bucket: b, Median: Median(vals), Count: len(vals)})
		}
	}
	return out
}

// OffPeakMedian is the median of samples outside every bucket.
func OffPeakMedian(series []models.Sample, buckets []models.PeakBucket) (float64, bool) {
	var vals []float64
	for _, s := range series {
		if !s.DurationMinutes.Valid {
			continue
		}
		inPeak := false
		for _, b := range buckets {
			if b.Contains(s.Timestamp.Hour()) {
				inPeak = true
				break
			}
		}
		if !inPeak {
			vals = append(vals, s.DurationMinutes.Float64)
		}
	}
	if len(vals) == 0 {
		return 0, false
	}
	return Median(vals), true
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// startOfISOWeek returns Monday 00:00 of t's ISO week.
func startOfISOWeek(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	return startOfDay(t).AddDate(0, 0, -offset)
}

type group struct {
	key  time.Time
	vals []float64
}

// groupBy buckets non-null values by key, preserving first-seen key order,
// then sorts by key so out-of-order input still yields an ascending series.
func groupBy(series []models.Sample, key func(time.Time) time.Time) []group {
	idx := make(map[int64]int)
	var groups []group
	for _, s := range series {
		if !s.DurationMinutes.Valid {
			continue
		}
		k := key(s.Timestamp)
		i, ok := idx[k.Unix()]
		if !ok {
			i = len(groups)
			idx[k.Unix()] = i
			groups = append(groups, group{key: k})
		}
		groups[i].vals = append(groups[i].vals, s.DurationMinutes.Float64)
	}
	sortGroups(groups)
	return groups
}

func DailyMedianSeries(series []models.Sample) []Point {
	var out []Point
	for _, g := range groupBy(series, startOfDay) {
		out = append(out, Point{Time: g.key, Value: Median(g.vals)})
	}
	return out
}

// WeeklyMedianSeries emits one point per ISO (year, week), stamped at the
// Monday starting that week.
func WeeklyMedianSeries(series []models.Sample) []Point {
	var out []Point
	for _, g := range groupBy(series, startOfISOWeek) {
		out = append(out, Point{Time: g.key, Value: Median(g.vals)})
	}
	return out
}

func DailyPercentileBand(series []models.Sample, low, high float64) []Band {
	var out []Band
	for _, g := range groupBy(series, startOfDay) {
		out = append(out, Band{Day: g.key, Low: Percentile(g.vals, low), High: Percentile(g.vals, high)})
	}
	return out
}
