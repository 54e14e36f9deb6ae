package stats

import (
	"github.com/lox/commutewatch/internal/models"
)

const (
	DefaultBandLow    = 10
	DefaultBandHigh   = 90
	ExtremePercentile = 98
)

type Options struct {
	BandLow   float64
	BandHigh  float64
	MaxPoints int
	// Window overrides RollingWindow when positive.
	Window int
}

func (o Options) withDefaults() Options {
	if o.BandLow == 0 && o.BandHigh == 0 {
		o.BandLow, o.BandHigh = DefaultBandLow, DefaultBandHigh
	}
	if o.MaxPoints <= 0 {
		o.MaxPoints = DefaultMaxPoints
	}
	return o
}

// Result holds every statistic a route chart needs.
type Result struct {
	Count      int // non-null samples
	NullCount  int
	Decimated  []models.Sample
	Weekday    []WeekdayMedian
	Buckets    []BucketMedian
	Cross      []WeekdayBucketMedian
	Daily      []Point
	Weekly     []Point
	Band       []Band
	BandLow    float64
	BandHigh   float64
	Window     int
	Rolling    []Point
	Median     float64
	Extreme    float64 // ExtremePercentile threshold
	OffPeak    float64
	HasOffPeak bool
}

// Empty reports whether the series had no usable durations.
func (r *Result) Empty() bool {
	return r.Count == 0
}

// Compute derives all statistics for series. It never mutates series.
func Compute(series []models.Sample, buckets []models.PeakBucket, opts Options) *Result {
	opts = opts.withDefaults()
	values := Values(series)

	window := opts.Window
	if window <= 0 {
		window = RollingWindow(len(series))
	}

	res := &Result{
		Count:     len(values),
		NullCount: len(series) - len(values),
		Decimated: Decimate(series, opts.MaxPoints),
		Weekday:   WeekdayMedians(series),
		Buckets:   PeakBucketMedians(series, buckets),
		Cross:     WeekdayPeakBucketMedians(series, buckets),
		Daily:     DailyMedianSeries(series),
		Weekly:    WeeklyMedianSeries(series),
		Band:      DailyPercentileBand(series, opts.BandLow, opts.BandHigh),
		BandLow:   opts.BandLow,
		BandHigh:  opts.BandHigh,
		Window:    window,
		Rolling:   RollingMedian(series, window),
	}
	if len(values) > 0 {
		res.Median = Median(values)
		res.Extreme = Percentile(values, ExtremePercentile)
	}
	res.OffPeak, res.HasOffPeak = OffPeakMedian(series, buckets)
	return res
}
