// Package charts renders the per-route diagnostic chart: four panels stacked
// vertically under a header, drawn with go-chart.
package charts

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"time"

	"golang.org/x/image/font/basicfont"

	"github.com/lox/commutewatch/internal/models"
	"github.com/lox/commutewatch/internal/stats"
)

const (
	DefaultWidth       = 1400
	DefaultPanelHeight = 420
	headerHeight       = 36
)

// RenderError reports a route whose chart could not be produced. Other
// routes are unaffected.
type RenderError struct {
	Route models.Route
	Panel string
	Err   error
}

func (e *RenderError) Error() string {
	if e.Panel != "" {
		return fmt.Sprintf("render %s (%s panel): %v", e.Route.ID(), e.Panel, e.Err)
	}
	return fmt.Sprintf("render %s: %v", e.Route.ID(), e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

type Options struct {
	Width       int
	PanelHeight int
	Buckets     []models.PeakBucket
	Stats       stats.Options
}

type Renderer struct {
	dir  *Dir
	opts Options
	now  func() time.Time
}

func NewRenderer(dir *Dir, opts Options) *Renderer {
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.PanelHeight <= 0 {
		opts.PanelHeight = DefaultPanelHeight
	}
	return &Renderer{dir: dir, opts: opts, now: time.Now}
}

// Render computes statistics for series and writes the route's chart,
// replacing any previous one. It returns the written path.
func (r *Renderer) Render(route models.Route, series []models.Sample) (string, error) {
	res := stats.Compute(series, r.opts.Buckets, r.opts.Stats)
	data, err := r.Draw(route, res)
	if err != nil {
		return "", err
	}
	path, err := r.dir.Write(route, data)
	if err != nil {
		return "", &RenderError{Route: route, Err: err}
	}
	return path, nil
}

// Draw produces the PNG bytes for one route.
func (r *Renderer) Draw(route models.Route, res *stats.Result) ([]byte, error) {
	w, h := r.opts.Width, r.opts.PanelHeight

	panels := []struct {
		name string
		draw func() (image.Image, error)
	}{
		{"samples", func() (image.Image, error) { return samplesPanel(res, w, h) }},
		{"trends", func() (image.Image, error) { return trendPanel(res, w, h) }},
		{"band", func() (image.Image, error) { return bandPanel(res, w, h) }},
		{"weekday", func() (image.Image, error) { return weekdayPanel(res, len(r.opts.Buckets), w, h) }},
	}

	out := image.NewRGBA(image.Rect(0, 0, w, headerHeight+len(panels)*h))
	fill(out, out.Bounds(), colorBackground)
	r.drawHeader(out, route, res)

	for i, p := range panels {
		img, err := p.draw()
		if err != nil {
			return nil, &RenderError{Route: route, Panel: p.name, Err: err}
		}
		y := headerHeight + i*h
		draw.Draw(out, image.Rect(0, y, w, y+h), img, img.Bounds().Min, draw.Src)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, &RenderError{Route: route, Err: fmt.Errorf("encode: %w", err)}
	}
	return buf.Bytes(), nil
}

func (r *Renderer) drawHeader(img *image.RGBA, route models.Route, res *stats.Result) {
	fill(img, image.Rect(0, 0, img.Bounds().Dx(), headerHeight), colorHeader)
	face := basicfont.Face7x13

	title := route.Name
	if route.Direction != "" {
		title += " (" + route.Direction + ")"
	}
	drawText(img, title, 16, 23, colorHeaderText, face)

	summary := fmt.Sprintf("%d samples, %d missing", res.Count, res.NullCount)
	if !res.Empty() {
		summary += fmt.Sprintf(", median %.0f min", res.Median)
	}
	summary += " | generated " + r.now().Format("2006-01-02 15:04 MST")
	drawText(img, summary, img.Bounds().Dx()-16-textWidth(summary, face), 23, colorHeaderText, face)
}
