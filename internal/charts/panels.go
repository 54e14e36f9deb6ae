package charts

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/lox/commutewatch/internal/stats"
)

const noData = "not enough data yet"

var bucketColors = []drawing.Color{
	chart.ColorBlue,
	chart.ColorOrange,
	chart.ColorGreen,
	chart.ColorRed,
	chart.ColorAlternateGray,
	drawing.ColorFromHex("7b2cbf"),
}

// pointStyle renders points only, no connecting line.
func pointStyle(col drawing.Color, width float64) chart.Style {
	return chart.Style{
		StrokeColor: drawing.ColorTransparent,
		DotWidth:    width,
		DotColor:    col,
	}
}

func lineStyle(col drawing.Color, width float64) chart.Style {
	return chart.Style{
		StrokeColor: col,
		StrokeWidth: width,
	}
}

func dashedStyle(col drawing.Color) chart.Style {
	return chart.Style{
		StrokeColor:     col,
		StrokeWidth:     1.5,
		StrokeDashArray: []float64{6, 4},
	}
}

type span struct {
	min, max time.Time
	top      float64
}

func (s *span) add(t time.Time, v float64) {
	if s.min.IsZero() || t.Before(s.min) {
		s.min = t
	}
	if s.max.IsZero() || t.After(s.max) {
		s.max = t
	}
	if v > s.top {
		s.top = v
	}
}

func (s *span) xAxis(format string) chart.XAxis {
	lo, hi := s.min, s.max
	if !hi.After(lo) {
		lo = lo.Add(-12 * time.Hour)
		hi = hi.Add(12 * time.Hour)
	}
	return chart.XAxis{
		ValueFormatter: chart.TimeValueFormatterWithFormat(format),
		Range: &chart.ContinuousRange{
			Min: float64(chart.TimeToFloat64(lo)),
			Max: float64(chart.TimeToFloat64(hi)),
		},
	}
}

func (s *span) yAxis() chart.YAxis {
	top := s.top * 1.1
	if top <= 0 {
		top = 1
	}
	return chart.YAxis{
		Name:  "minutes",
		Range: &chart.ContinuousRange{Min: 0, Max: top},
	}
}

// timeSeries builds a named series, padded to two X values so single-point
// series still have a drawable range.
func timeSeries(name string, pts []stats.Point, style chart.Style) chart.TimeSeries {
	xs := make([]time.Time, 0, len(pts)+1)
	ys := make([]float64, 0, len(pts)+1)
	for _, p := range pts {
		xs = append(xs, p.Time)
		ys = append(ys, p.Value)
	}
	if len(xs) == 1 {
		xs = append(xs, xs[0].Add(time.Minute))
		ys = append(ys, ys[0])
	}
	return chart.TimeSeries{Name: name, XValues: xs, YValues: ys, Style: style}
}

func hline(name string, lo, hi time.Time, v float64, style chart.Style) chart.TimeSeries {
	if !hi.After(lo) {
		hi = lo.Add(time.Minute)
	}
	return chart.TimeSeries{Name: name, XValues: []time.Time{lo, hi}, YValues: []float64{v, v}, Style: style}
}

type renderable interface {
	Render(rp chart.RendererProvider, w io.Writer) error
}

func toImage(c renderable) (image.Image, error) {
	var buf bytes.Buffer
	if err := c.Render(chart.PNG, &buf); err != nil {
		return nil, err
	}
	return png.Decode(&buf)
}

var background = chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 16, Bottom: 16}}

// samplesPanel plots every (decimated) sample, with values at or above the
// extreme threshold drawn in red.
func samplesPanel(res *stats.Result, w, h int) (image.Image, error) {
	const title = "Samples"
	var normal, extreme []stats.Point
	var sp span
	for _, s := range res.Decimated {
		if !s.DurationMinutes.Valid {
			continue
		}
		p := stats.Point{Time: s.Timestamp, Value: s.DurationMinutes.Float64}
		sp.add(p.Time, p.Value)
		if p.Value >= res.Extreme {
			extreme = append(extreme, p)
		} else {
			normal = append(normal, p)
		}
	}
	if len(normal)+len(extreme) == 0 {
		return placeholder(w, h, title, noData), nil
	}

	var series []chart.Series
	if len(normal) > 0 {
		series = append(series, timeSeries("sample", normal, pointStyle(chart.ColorAlternateGray, 2)))
	}
	if len(extreme) > 0 {
		series = append(series, timeSeries(fmt.Sprintf(">= p%d (%.0f min)", stats.ExtremePercentile, res.Extreme), extreme, pointStyle(chart.ColorRed, 3)))
	}

	ch := chart.Chart{
		Title:      title,
		Width:      w,
		Height:     h,
		Background: background,
		XAxis:      sp.xAxis("Jan 02"),
		YAxis:      sp.yAxis(),
		Series:     series,
	}
	ch.Elements = []chart.Renderable{chart.Legend(&ch)}
	return toImage(&ch)
}

// trendPanel overlays the daily, weekly and rolling medians with reference
// lines for the overall and off-peak medians.
func trendPanel(res *stats.Result, w, h int) (image.Image, error) {
	const title = "Trends"
	if len(res.Daily) == 0 {
		return placeholder(w, h, title, noData), nil
	}

	var sp span
	for _, set := range [][]stats.Point{res.Daily, res.Weekly, res.Rolling} {
		for _, p := range set {
			sp.add(p.Time, p.Value)
		}
	}

	series := []chart.Series{
		timeSeries("daily median", res.Daily, lineStyle(chart.ColorBlue, 1.5)),
	}
	if len(res.Weekly) > 0 {
		series = append(series, timeSeries("weekly median", res.Weekly, lineStyle(chart.ColorOrange, 2.5)))
	}
	if len(res.Rolling) > 0 {
		series = append(series, timeSeries(fmt.Sprintf("rolling median (%d)", res.Window), res.Rolling, lineStyle(chart.ColorGreen, 1)))
	}
	series = append(series, hline(fmt.Sprintf("overall %.0f min", res.Median), sp.min, sp.max, res.Median, dashedStyle(drawing.ColorBlack)))
	if res.HasOffPeak {
		series = append(series, hline(fmt.Sprintf("off-peak %.0f min", res.OffPeak), sp.min, sp.max, res.OffPeak, dashedStyle(chart.ColorAlternateGray)))
	}

	ch := chart.Chart{
		Title:      title,
		Width:      w,
		Height:     h,
		Background: background,
		XAxis:      sp.xAxis("Jan 02"),
		YAxis:      sp.yAxis(),
		Series:     series,
	}
	ch.Elements = []chart.Renderable{chart.Legend(&ch)}
	return toImage(&ch)
}

// bandPanel shades the daily low/high percentile envelope. The high series is
// filled to the axis, then the low series is filled with the background
// colour, leaving only the band visible.
func bandPanel(res *stats.Result, w, h int) (image.Image, error) {
	title := fmt.Sprintf("Daily p%.0f-p%.0f band", res.BandLow, res.BandHigh)
	if len(res.Band) == 0 {
		return placeholder(w, h, title, noData), nil
	}

	var sp span
	lows := make([]stats.Point, 0, len(res.Band))
	highs := make([]stats.Point, 0, len(res.Band))
	for _, b := range res.Band {
		lows = append(lows, stats.Point{Time: b.Day, Value: b.Low})
		highs = append(highs, stats.Point{Time: b.Day, Value: b.High})
		sp.add(b.Day, b.High)
	}

	bandFill := chart.ColorBlue.WithAlpha(64)
	series := []chart.Series{
		timeSeries(fmt.Sprintf("p%.0f", res.BandHigh), highs, chart.Style{
			StrokeColor: chart.ColorBlue.WithAlpha(128),
			StrokeWidth: 1,
			FillColor:   bandFill,
		}),
		timeSeries(fmt.Sprintf("p%.0f", res.BandLow), lows, chart.Style{
			StrokeColor: chart.ColorBlue.WithAlpha(128),
			StrokeWidth: 1,
			FillColor:   drawing.ColorWhite,
		}),
		timeSeries("daily median", res.Daily, lineStyle(drawing.ColorBlack, 1.5)),
	}

	ch := chart.Chart{
		Title:      title,
		Width:      w,
		Height:     h,
		Background: background,
		XAxis:      sp.xAxis("Jan 02"),
		YAxis:      sp.yAxis(),
		Series:     series,
	}
	ch.Elements = []chart.Renderable{chart.Legend(&ch)}
	return toImage(&ch)
}

// weekdayPanel draws weekday medians as bars, one bar per weekday and peak
// bucket, coloured by bucket. With fewer than two buckets it falls back to
// plain weekday medians in a single colour.
func weekdayPanel(res *stats.Result, nBuckets int, w, h int) (image.Image, error) {
	const title = "Weekday medians"

	var bars []chart.Value
	top := 0.0
	if nBuckets >= 2 && len(res.Cross) > 0 {
		index := make(map[string]int)
		for _, c := range res.Cross {
			i, ok := index[c.Bucket.Label]
			if !ok {
				i = len(index)
				index[c.Bucket.Label] = i
			}
			col := bucketColors[i%len(bucketColors)]
			bars = append(bars, chart.Value{
				Label: c.Weekday.String()[:3] + " " + c.Bucket.Label,
				Value: c.Median,
				Style: chart.Style{FillColor: col, StrokeColor: col},
			})
			top = max(top, c.Median)
		}
	} else {
		for _, wd := range res.Weekday {
			bars = append(bars, chart.Value{
				Label: wd.Weekday.String()[:3],
				Value: wd.Median,
				Style: chart.Style{FillColor: chart.ColorBlue, StrokeColor: chart.ColorBlue},
			})
			top = max(top, wd.Median)
		}
	}
	if len(bars) == 0 {
		return placeholder(w, h, title, noData), nil
	}

	spacing := 6
	barWidth := (w-120)/len(bars) - spacing
	if barWidth < 4 {
		barWidth = 4
	}
	if top <= 0 {
		top = 1
	}

	bc := chart.BarChart{
		Title:      title,
		Width:      w,
		Height:     h,
		Background: background,
		BarWidth:   barWidth,
		BarSpacing: spacing,
		XAxis:      chart.Style{FontSize: 7, TextRotationDegrees: 45},
		YAxis: chart.YAxis{
			Name:  "minutes",
			Range: &chart.ContinuousRange{Min: 0, Max: top * 1.1},
		},
		Bars: bars,
	}
	return toImage(&bc)
}
