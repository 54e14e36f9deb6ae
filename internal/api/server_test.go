package api

import (
	"database/sql"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/lox/commutewatch/internal/charts"
	"github.com/lox/commutewatch/internal/models"
	"github.com/lox/commutewatch/internal/store"
)

var (
	commute = models.Route{Name: "home to work", Direction: "am", URL: "https://maps.example/a"}
	evening = models.Route{Name: "work to home", Direction: "pm", URL: "https://maps.example/b"}
	now     = time.Date(2024, 3, 6, 9, 0, 0, 0, time.UTC)
)

func minutes(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: v > 0}
}

func setupServer(t *testing.T) (*Server, *store.Tables) {
	t.Helper()
	dir := t.TempDir()
	tables := store.NewTables(filepath.Join(dir, "tables"), time.UTC)
	srv := NewServer([]models.Route{commute, evening}, tables, charts.NewDir(filepath.Join(dir, "charts")), ":0", time.UTC)
	srv.now = func() time.Time { return now }
	return srv, tables
}

func appendRows(t *testing.T, tables *store.Tables, route models.Route, rows map[time.Duration]float64) {
	t.Helper()
	for ago, v := range rows {
		row := models.Row{Timestamp: now.Add(-ago), Name: route.Name, DurationMinutes: minutes(v)}
		if err := tables.Append(route, row); err != nil {
			t.Fatal(err)
		}
	}
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	srv, tables := setupServer(t)
	appendRows(t, tables, commute, map[time.Duration]float64{10 * time.Minute: 25})
	appendRows(t, tables, evening, map[time.Duration]float64{3 * time.Hour: 31})

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	if w.Code != 503 {
		t.Fatalf("expected 503 for a stale route, got %d", w.Code)
	}
	var got HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Status != "degraded" {
		t.Errorf("status = %q, want degraded", got.Status)
	}
	stale := map[string]bool{}
	for _, r := range got.Routes {
		stale[r.Route] = r.Stale
	}
	want := map[string]bool{commute.ID(): false, evening.ID(): true}
	if diff := cmp.Diff(want, stale); diff != "" {
		t.Errorf("stale mismatch (-want +got):\n%s", diff)
	}
}

func TestHealthEndpoint_AllFresh(t *testing.T) {
	t.Parallel()
	srv, tables := setupServer(t)
	appendRows(t, tables, commute, map[time.Duration]float64{5 * time.Minute: 25})
	appendRows(t, tables, evening, map[time.Duration]float64{20 * time.Minute: 31, 10 * time.Minute: 0})

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHealthEndpoint_NullSamplesAreStale(t *testing.T) {
	t.Parallel()
	srv, tables := setupServer(t)
	appendRows(t, tables, commute, map[time.Duration]float64{5 * time.Minute: 25})
	appendRows(t, tables, evening, map[time.Duration]float64{3 * time.Hour: 31, 5 * time.Minute: 0})

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	if w.Code != 503 {
		t.Fatalf("expected 503 when only null samples are recent, got %d", w.Code)
	}
	var got HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	var rh RouteHealth
	for _, r := range got.Routes {
		if r.Route == evening.ID() {
			rh = r
		}
	}
	if !rh.Stale {
		t.Errorf("%s stale = false, want true", evening.ID())
	}
	if rh.LastSeen == nil || !rh.LastSeen.Equal(now.Add(-5*time.Minute)) {
		t.Errorf("last_seen = %v, want %v", rh.LastSeen, now.Add(-5*time.Minute))
	}
	if rh.LastValid == nil || !rh.LastValid.Equal(now.Add(-3*time.Hour)) {
		t.Errorf("last_valid = %v, want %v", rh.LastValid, now.Add(-3*time.Hour))
	}
	if rh.AgeMinutes != 180 {
		t.Errorf("age_minutes = %d, want 180", rh.AgeMinutes)
	}
}

func TestHealthEndpoint_OnlyNullSamples(t *testing.T) {
	t.Parallel()
	srv, tables := setupServer(t)
	appendRows(t, tables, commute, map[time.Duration]float64{5 * time.Minute: 25})
	appendRows(t, tables, evening, map[time.Duration]float64{5 * time.Minute: 0})

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	if w.Code != 503 {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	var got HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	for _, r := range got.Routes {
		if r.Route != evening.ID() {
			continue
		}
		if !r.Stale || r.LastValid != nil || r.LastSeen == nil || r.AgeMinutes != -1 {
			t.Errorf("route health = %+v, want stale with last_seen and no last_valid", r)
		}
	}
}

func TestHistoryEndpoint(t *testing.T) {
	t.Parallel()
	srv, tables := setupServer(t)
	appendRows(t, tables, commute, map[time.Duration]float64{
		30 * time.Hour: 40,
		2 * time.Hour:  22,
		time.Hour:      0,
	})

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/history?route="+commute.Slug(), nil))
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var got []HistoryPoint
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 points within 24h, got %d", len(got))
	}
	if got[0].DurationMinutes == nil || *got[0].DurationMinutes != 22 {
		t.Errorf("first point = %v, want 22", got[0].DurationMinutes)
	}
	if got[1].DurationMinutes != nil {
		t.Errorf("null sample should encode as null, got %v", *got[1].DurationMinutes)
	}
}

func TestHistoryEndpoint_Errors(t *testing.T) {
	t.Parallel()
	srv, _ := setupServer(t)

	tests := []struct {
		name string
		url  string
		code int
	}{
		{"unknown route", "/api/history?route=nope", 404},
		{"bad hours", "/api/history?route=" + commute.Slug() + "&hours=x", 400},
		{"negative hours", "/api/history?route=" + commute.Slug() + "&hours=-2", 400},
		{"missing table", "/api/history?route=" + commute.Slug(), 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", tt.url, nil))
			if w.Code != tt.code {
				t.Errorf("code = %d, want %d", w.Code, tt.code)
			}
		})
	}
}

func TestStatsEndpoint(t *testing.T) {
	t.Parallel()
	srv, tables := setupServer(t)
	appendRows(t, tables, commute, map[time.Duration]float64{
		time.Hour:     20,
		2 * time.Hour: 30,
		3 * time.Hour: 40,
	})

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/stats?route="+commute.Slug(), nil))
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got RouteStats
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Count != 3 || got.Median != 30 {
		t.Errorf("count=%d median=%v, want 3 and 30", got.Count, got.Median)
	}
	if len(got.Weekday) != 1 || got.Weekday[0].Label != "Wednesday" {
		t.Errorf("weekday = %+v", got.Weekday)
	}
}

func TestRoutesEndpoint(t *testing.T) {
	t.Parallel()
	srv, tables := setupServer(t)
	appendRows(t, tables, commute, map[time.Duration]float64{time.Hour: 27})

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/routes", nil))
	var got []RouteSummary
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 routes, got %d", len(got))
	}
	if got[0].Chart != "/charts/home-to-work_am.png" || got[0].Samples != 1 {
		t.Errorf("route summary = %+v", got[0])
	}
	if got[0].LastMinutes == nil || *got[0].LastMinutes != 27 {
		t.Errorf("last minutes = %v, want 27", got[0].LastMinutes)
	}
	if got[1].Samples != 0 || got[1].LastSample != nil {
		t.Errorf("empty route summary = %+v", got[1])
	}
}

func TestChartsServed(t *testing.T) {
	t.Parallel()
	srv, _ := setupServer(t)
	if _, err := srv.charts.Write(commute, []byte("png")); err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/charts/"+commute.Slug()+".png", nil))
	if w.Code != 200 || w.Body.String() != "png" {
		t.Errorf("got %d %q", w.Code, w.Body.String())
	}
}

func TestIngestEndpoint_NoStore(t *testing.T) {
	t.Parallel()
	srv, _ := setupServer(t)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/ingest", nil))
	if w.Code != 404 {
		t.Errorf("expected 404 without a store, got %d", w.Code)
	}
}

func TestIngestEndpoint(t *testing.T) {
	t.Parallel()
	srv, _ := setupServer(t)
	st, err := store.Open(":memory:", time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	srv.SetStore(st)

	run, err := st.StartIngestRun(commute)
	if err != nil {
		t.Fatal(err)
	}
	run.Success = true
	run.Tier = sql.NullString{String: "primary", Valid: true}
	if err := st.CompleteIngestRun(run); err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/ingest", nil))
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got []store.IngestHealthSummary
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].TotalRuns != 1 || got[0].SuccessRuns != 1 {
		t.Errorf("ingest health = %+v", got)
	}
}

func setupStore(t *testing.T, srv *Server) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:", time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	srv.SetStore(st)
	return st
}

func TestSnapshotEndpoints(t *testing.T) {
	t.Parallel()
	srv, _ := setupServer(t)
	st := setupStore(t, srv)

	id, err := st.StoreRawPayload(nil, commute.Slug(), "failed", []byte("Directions\ncalculating..."))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.StoreRawPayload(nil, evening.Slug(), "retry", []byte("evening page")); err != nil {
		t.Fatal(err)
	}

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/snapshots?route="+commute.Slug(), nil))
	if w.Code != 200 {
		t.Fatalf("list: expected 200, got %d", w.Code)
	}
	var list []store.RawPayload
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != id || list[0].Tier != "failed" {
		t.Fatalf("snapshots = %+v, want one failed snapshot with id %d", list, id)
	}

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/snapshots?limit=1", nil))
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].RouteSlug != evening.Slug() {
		t.Errorf("limited snapshots = %+v, want newest (%s) only", list, evening.Slug())
	}

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/snapshot?id="+strconv.FormatInt(id, 10), nil))
	if w.Code != 200 {
		t.Fatalf("get: expected 200, got %d", w.Code)
	}
	if got := w.Body.String(); got != "Directions\ncalculating..." {
		t.Errorf("snapshot body = %q", got)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q, want text/plain", ct)
	}
}

func TestSnapshotEndpoint_Errors(t *testing.T) {
	t.Parallel()
	srv, _ := setupServer(t)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/snapshot?id=1", nil))
	if w.Code != 404 {
		t.Errorf("no store: expected 404, got %d", w.Code)
	}

	setupStore(t, srv)
	tests := []struct {
		query string
		code  int
	}{
		{"", 400},
		{"?id=abc", 400},
		{"?id=-3", 400},
		{"?id=9999", 404},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/api/snapshot"+tt.query, nil))
		if w.Code != tt.code {
			t.Errorf("GET /api/snapshot%s = %d, want %d", tt.query, w.Code, tt.code)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	srv, _ := setupServer(t)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != 200 {
		t.Errorf("expected 200, got %d", w.Code)
	}
}
