package stats

import (
	"database/sql"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/lox/commutewatch/internal/models"
)

func sample(ts time.Time, minutes float64) models.Sample {
	return models.NewSample(ts, sql.NullFloat64{Float64: minutes, Valid: minutes > 0})
}

func TestPercentile(t *testing.T) {
	tests := []struct {
		values []float64
		p      float64
		want   float64
	}{
		{[]float64{10, 20, 30, 40}, 50, 25},
		{[]float64{40, 10, 30, 20}, 50, 25},
		{[]float64{10, 20, 30, 40}, 0, 10},
		{[]float64{10, 20, 30, 40}, -5, 10},
		{[]float64{10, 20, 30, 40}, 100, 40},
		{[]float64{10, 20, 30, 40}, 150, 40},
		{[]float64{10, 20, 30, 40}, 25, 17.5},
		{[]float64{7}, 90, 7},
		{nil, 50, 0},
	}
	for _, tt := range tests {
		if got := Percentile(tt.values, tt.p); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Percentile(%v, %v) = %v, want %v", tt.values, tt.p, got, tt.want)
		}
	}
}

func TestPercentile_DoesNotMutate(t *testing.T) {
	in := []float64{3, 1, 2}
	Percentile(in, 50)
	if diff := cmp.Diff([]float64{3, 1, 2}, in); diff != "" {
		t.Errorf("input mutated (-want +got):\n%s", diff)
	}
}

func TestRollingWindow(t *testing.T) {
	tests := []struct{ n, want int }{
		{0, 20}, {100, 20}, {240, 20}, {252, 21}, {1200, 100}, {2880, 240}, {100000, 240},
	}
	for _, tt := range tests {
		if got := RollingWindow(tt.n); got != tt.want {
			t.Errorf("RollingWindow(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}

func TestRollingMedian_Window3(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var series []models.Sample
	for i := 0; i < 10; i++ {
		series = append(series, sample(base.Add(time.Duration(i)*time.Hour), float64(10+i*3)))
	}
	got := RollingMedian(series, 3)
	if len(got) != len(series) {
		t.Fatalf("len = %d, want %d", len(got), len(series))
	}
	for i := range series {
		lo := i - 2
		if lo < 0 {
			lo = 0
		}
		want := Median(Values(series[lo : i+1]))
		if got[i].Value != want {
			t.Errorf("RollingMedian[%d] = %v, want %v", i, got[i].Value, want)
		}
		if !got[i].Time.Equal(series[i].Timestamp) {
			t.Errorf("RollingMedian[%d] time = %v, want %v", i, got[i].Time, series[i].Timestamp)
		}
	}
	// strictly increasing: trailing median of 3 is the middle element
	if got[5].Value != series[4].DurationMinutes.Float64 {
		t.Errorf("RollingMedian[5] = %v, want %v", got[5].Value, series[4].DurationMinutes.Float64)
	}
}

func TestRollingMedian_SkipsNulls(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	series := []models.Sample{
		sample(base, 10),
		sample(base.Add(time.Hour), 0),
		sample(base.Add(2*time.Hour), 30),
	}
	got := RollingMedian(series, 2)
	want := []float64{10, 20}
	var vals []float64
	for _, p := range got {
		vals = append(vals, p.Value)
	}
	if diff := cmp.Diff(want, vals); diff != "" {
		t.Errorf("RollingMedian (-want +got):\n%s", diff)
	}
}

func TestDecimate(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	series := make([]models.Sample, 12000)
	for i := range series {
		series[i] = sample(base.Add(time.Duration(i)*time.Minute), float64(i+1))
	}

	got := Decimate(series, 5000)
	if len(got) > 5000 {
		t.Fatalf("len = %d, want <= 5000", len(got))
	}
	if len(got) != 4000 {
		t.Errorf("len = %d, want 4000 (stride 3)", len(got))
	}
	if !got[0].Timestamp.Equal(series[0].Timestamp) {
		t.Errorf("first = %v, want %v", got[0].Timestamp, series[0].Timestamp)
	}
	for i := 1; i < len(got); i++ {
		if !got[i].Timestamp.After(got[i-1].Timestamp) {
			t.Fatalf("order broken at %d", i)
		}
	}

	short := series[:100]
	if got := Decimate(short, 5000); len(got) != 100 {
		t.Errorf("Decimate(short) len = %d, want 100", len(got))
	}
}

func TestWeekdayMedians(t *testing.T) {
	// 2024-01-01 is a Monday.
	mon := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	series := []models.Sample{
		sample(mon.AddDate(0, 0, 6), 50), // Sunday
		sample(mon, 30),
		sample(mon.AddDate(0, 0, 7), 40),
		sample(mon.AddDate(0, 0, 2), 20), // Wednesday
		sample(mon.AddDate(0, 0, 2).Add(time.Hour), 0),
	}
	got := WeekdayMedians(series)
	want := []WeekdayMedian{
		{Weekday: time.Monday, Median: 35, Count: 2},
		{Weekday: time.Wednesday, Median: 20, Count: 1},
		{Weekday: time.Sunday, Median: 50, Count: 1},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("WeekdayMedians (-want +got):\n%s", diff)
	}
}

func TestPeakBucketMedians(t *testing.T) {
	buckets := []models.PeakBucket{
		{Label: "AM", StartHour: 7, EndHour: 10},
		{Label: "Night", StartHour: 22, EndHour: 2},
		{Label: "Empty", StartHour: 12, EndHour: 12},
	}
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	series := []models.Sample{
		sample(day.Add(7*time.Hour), 40),
		sample(day.Add(9*time.Hour+59*time.Minute), 50),
		sample(day.Add(10*time.Hour), 99), // off-peak, end is exclusive
		sample(day.Add(23*time.Hour), 20),
		sample(day.Add(25*time.Hour), 10),
		sample(day.Add(14*time.Hour), 33),
	}

	got := PeakBucketMedians(series, buckets)
	want := []BucketMedian{
		{Bucket: buckets[0], Median: 45, Count: 2},
		{Bucket: buckets[1], Median: 15, Count: 2},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("PeakBucketMedians (-want +got):\n%s", diff)
	}

	off, ok := OffPeakMedian(series, buckets)
	if !ok || off != 66 {
		t.Errorf("OffPeakMedian = %v, %v, want 66, true", off, ok)
	}

	cross := WeekdayPeakBucketMedians(series, buckets)
	if len(cross) != 3 {
		t.Fatalf("len(cross) = %d, want 3: %+v", len(cross), cross)
	}
	if cross[0].Weekday != time.Tuesday || cross[0].Bucket.Label != "AM" || cross[0].Median != 45 {
		t.Errorf("cross[0] = %+v", cross[0])
	}
	if cross[2].Weekday != time.Wednesday || cross[2].Bucket.Label != "Night" || cross[2].Median != 10 {
		t.Errorf("cross[2] = %+v", cross[2])
	}
}

func TestDailyAndWeeklySeries(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Lisbon")
	if err != nil {
		t.Fatalf("load timezone: %v", err)
	}
	// 2024-12-30 (Mon) belongs to ISO week 2025-W01.
	series := []models.Sample{
		sample(time.Date(2024, 12, 29, 8, 0, 0, 0, loc), 60), // Sun, 2024-W52
		sample(time.Date(2024, 12, 30, 8, 0, 0, 0, loc), 10),
		sample(time.Date(2024, 12, 30, 18, 0, 0, 0, loc), 30),
		sample(time.Date(2025, 1, 1, 8, 0, 0, 0, loc), 20),
	}

	daily := DailyMedianSeries(series)
	wantDaily := []Point{
		{Time: time.Date(2024, 12, 29, 0, 0, 0, 0, loc), Value: 60},
		{Time: time.Date(2024, 12, 30, 0, 0, 0, 0, loc), Value: 20},
		{Time: time.Date(2025, 1, 1, 0, 0, 0, 0, loc), Value: 20},
	}
	if diff := cmp.Diff(wantDaily, daily); diff != "" {
		t.Errorf("DailyMedianSeries (-want +got):\n%s", diff)
	}

	weekly := WeeklyMedianSeries(series)
	wantWeekly := []Point{
		{Time: time.Date(2024, 12, 23, 0, 0, 0, 0, loc), Value: 60},
		{Time: time.Date(2024, 12, 30, 0, 0, 0, 0, loc), Value: 20},
	}
	if diff := cmp.Diff(wantWeekly, weekly); diff != "" {
		t.Errorf("WeeklyMedianSeries (-want +got):\n%s", diff)
	}
	for _, p := range weekly {
		if p.Time.Weekday() != time.Monday {
			t.Errorf("weekly point %v is not a Monday", p.Time)
		}
	}

	band := DailyPercentileBand(series, 10, 90)
	if len(band) != 3 {
		t.Fatalf("len(band) = %d, want 3", len(band))
	}
	if band[1].Low != 12 || band[1].High != 28 {
		t.Errorf("band[1] = %+v, want low 12 high 28", band[1])
	}
}

func TestCompute_Empty(t *testing.T) {
	res := Compute(nil, models.DefaultPeakBuckets, Options{})
	if !res.Empty() {
		t.Error("Empty() = false for nil series")
	}
	if len(res.Daily) != 0 || len(res.Rolling) != 0 || len(res.Weekday) != 0 || res.HasOffPeak {
		t.Errorf("non-empty aggregates for empty input: %+v", res)
	}
	if res.BandLow != DefaultBandLow || res.BandHigh != DefaultBandHigh {
		t.Errorf("band = %v/%v, want defaults", res.BandLow, res.BandHigh)
	}
}

func TestCompute(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var series []models.Sample
	for i := 0; i < 100; i++ {
		series = append(series, sample(base.Add(time.Duration(i)*time.Hour), float64(i+1)))
	}
	series = append(series, sample(base.Add(100*time.Hour), 0))

	res := Compute(series, models.DefaultPeakBuckets, Options{MaxPoints: 50})
	if res.Count != 100 || res.NullCount != 1 {
		t.Errorf("Count/NullCount = %d/%d, want 100/1", res.Count, res.NullCount)
	}
	if res.Median != 50.5 {
		t.Errorf("Median = %v, want 50.5", res.Median)
	}
	if math.Abs(res.Extreme-98.02) > 1e-9 {
		t.Errorf("Extreme = %v, want 98.02", res.Extreme)
	}
	if res.Window != 20 {
		t.Errorf("Window = %d, want 20", res.Window)
	}
	if len(res.Decimated) > 50 {
		t.Errorf("len(Decimated) = %d, want <= 50", len(res.Decimated))
	}
	if len(res.Rolling) != 100 {
		t.Errorf("len(Rolling) = %d, want 100", len(res.Rolling))
	}
	if len(res.Daily) != 5 {
		t.Errorf("len(Daily) = %d, want 5", len(res.Daily))
	}
}
