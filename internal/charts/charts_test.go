package charts

import (
	"bytes"
	"database/sql"
	"errors"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/lox/commutewatch/internal/models"
	"github.com/lox/commutewatch/internal/stats"
)

var testRoute = models.Route{Name: "Home to Work", Direction: "am", URL: "https://maps.example/dir"}

func history(days int) []models.Sample {
	base := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	var out []models.Sample
	for d := 0; d < days; d++ {
		for h := 6; h < 21; h++ {
			ts := base.AddDate(0, 0, d).Add(time.Duration(h) * time.Hour)
			minutes := 30.0 + float64((d*7+h*3)%20)
			if h == 8 || h == 17 {
				minutes += 25
			}
			out = append(out, models.NewSample(ts, sql.NullFloat64{Float64: minutes, Valid: true}))
		}
	}
	return out
}

func TestDir_WriteAndList(t *testing.T) {
	d := NewDir(filepath.Join(t.TempDir(), "charts"))
	other := models.Route{Name: "Work to Home", Direction: "pm"}

	for _, r := range []models.Route{testRoute, other, testRoute} {
		if _, err := d.Write(r, []byte("png:"+r.ID())); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	want := []string{"home-to-work_am.png", "work-to-home_pm.png"}
	if diff := cmp.Diff(want, d.List()); diff != "" {
		t.Errorf("List (-want +got):\n%s", diff)
	}
	data, ok := d.Get(testRoute)
	if !ok || string(data) != "png:Home to Work/am" {
		t.Errorf("Get = %q, %v", data, ok)
	}

	entries, err := os.ReadDir(d.Root())
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("dir has %d entries, want 2 (no temp files left behind)", len(entries))
	}
}

func TestRenderer_EmptyHistoryUsesPlaceholders(t *testing.T) {
	r := NewRenderer(NewDir(t.TempDir()), Options{Width: 400, PanelHeight: 200, Buckets: models.DefaultPeakBuckets})

	data, err := r.Draw(testRoute, stats.Compute(nil, models.DefaultPeakBuckets, stats.Options{}))
	if err != nil {
		t.Fatalf("Draw: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := img.Bounds().Dy(); got != headerHeight+4*200 {
		t.Errorf("height = %d, want %d", got, headerHeight+4*200)
	}
	if got := img.Bounds().Dx(); got != 400 {
		t.Errorf("width = %d, want 400", got)
	}
}

func TestRenderer_Render(t *testing.T) {
	dir := NewDir(t.TempDir())
	r := NewRenderer(dir, Options{Width: 1000, PanelHeight: 300, Buckets: models.DefaultPeakBuckets})

	path, err := r.Render(testRoute, history(21))
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if path != dir.Path(testRoute) {
		t.Errorf("path = %q, want %q", path, dir.Path(testRoute))
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != 1000 || img.Bounds().Dy() != headerHeight+4*300 {
		t.Errorf("bounds = %v", img.Bounds())
	}

	// second render replaces the file in place
	if _, err := r.Render(testRoute, history(22)); err != nil {
		t.Fatalf("second Render: %v", err)
	}
	if got := dir.List(); len(got) != 1 {
		t.Errorf("List = %v, want one chart", got)
	}
}

func TestRenderer_SingleSampleAndSingleBucket(t *testing.T) {
	r := NewRenderer(NewDir(t.TempDir()), Options{
		Width:       600,
		PanelHeight: 240,
		Buckets:     []models.PeakBucket{{Label: "AM", StartHour: 7, EndHour: 10}},
	})
	ts := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	series := []models.Sample{models.NewSample(ts, sql.NullFloat64{Float64: 42, Valid: true})}

	if _, err := r.Render(testRoute, series); err != nil {
		t.Fatalf("Render: %v", err)
	}
}

func TestRenderError(t *testing.T) {
	inner := errors.New("boom")
	err := error(&RenderError{Route: testRoute, Panel: "band", Err: inner})
	if !errors.Is(err, inner) {
		t.Error("errors.Is(err, inner) = false")
	}
	if err.Error() != "render Home to Work/am (band panel): boom" {
		t.Errorf("Error() = %q", err.Error())
	}
}
