package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/lox/commutewatch/internal/models"
	"github.com/lox/commutewatch/internal/stats"
	"github.com/lox/commutewatch/internal/store"
)

type RouteSummary struct {
	ID          string     `json:"id"`
	Slug        string     `json:"slug"`
	URL         string     `json:"url"`
	Chart       string     `json:"chart"`
	Samples     int        `json:"samples"`
	LastSample  *time.Time `json:"last_sample,omitempty"`
	LastMinutes *float64   `json:"last_minutes"`
}

// RouteHealth ages a route by its newest sample that carries a duration.
// LastSeen also counts null samples, so a route whose page loads but never
// yields a value shows a recent LastSeen and a stale LastValid.
type RouteHealth struct {
	Route      string     `json:"route"`
	LastSeen   *time.Time `json:"last_seen,omitempty"`
	LastValid  *time.Time `json:"last_valid,omitempty"`
	AgeMinutes int        `json:"age_minutes"`
	Stale      bool       `json:"stale"`
}

type HealthStatus struct {
	Status string        `json:"status"`
	Routes []RouteHealth `json:"routes"`
	Errors []string      `json:"errors,omitempty"`
}

type HistoryPoint struct {
	Timestamp       time.Time `json:"timestamp"`
	DurationMinutes *float64  `json:"duration_minutes"`
}

type NamedMedian struct {
	Label  string  `json:"label"`
	Median float64 `json:"median"`
	Count  int     `json:"count"`
}

type RouteStats struct {
	Route     string        `json:"route"`
	Count     int           `json:"count"`
	NullCount int           `json:"null_count"`
	Median    float64       `json:"median"`
	OffPeak   *float64      `json:"off_peak"`
	Extreme   float64       `json:"extreme"`
	Window    int           `json:"window"`
	Weekday   []NamedMedian `json:"weekday"`
	Buckets   []NamedMedian `json:"buckets"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: write response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{
		Status: "ok",
		Routes: make([]RouteHealth, 0, len(s.routes)),
	}
	now := s.now()

	for _, route := range s.routes {
		samples, err := s.tables.Read(route)
		if err != nil {
			health.Errors = append(health.Errors, route.ID()+": "+err.Error())
			continue
		}

		rh := RouteHealth{Route: route.ID(), AgeMinutes: -1, Stale: true}
		if n := len(samples); n > 0 {
			last := samples[n-1].Timestamp
			rh.LastSeen = &last
		}
		for i := len(samples) - 1; i >= 0; i-- {
			if samples[i].DurationMinutes.Valid {
				valid := samples[i].Timestamp
				rh.LastValid = &valid
				rh.AgeMinutes = int(now.Sub(valid).Minutes())
				rh.Stale = now.Sub(valid) > s.staleAfter
				break
			}
		}
		if rh.Stale {
			health.Status = "degraded"
		}
		health.Routes = append(health.Routes, rh)
	}

	if len(health.Errors) > 0 {
		health.Status = "error"
	}

	status := http.StatusOK
	if health.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

func (s *Server) handleAPIRoutes(w http.ResponseWriter, r *http.Request) {
	out := make([]RouteSummary, 0, len(s.routes))
	for _, route := range s.routes {
		sum := RouteSummary{
			ID:    route.ID(),
			Slug:  route.Slug(),
			URL:   route.URL,
			Chart: "/charts/" + filepath.Base(s.charts.Path(route)),
		}
		samples, err := s.tables.Read(route)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		sum.Samples = len(samples)
		if n := len(samples); n > 0 {
			last := samples[n-1]
			sum.LastSample = &last.Timestamp
			sum.LastMinutes = minutesPtr(last)
		}
		out = append(out, sum)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAPIHistory(w http.ResponseWriter, r *http.Request) {
	route, ok := s.findRoute(r.URL.Query().Get("route"))
	if !ok {
		http.Error(w, "unknown route", http.StatusNotFound)
		return
	}

	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "hours must be a positive integer", http.StatusBadRequest)
			return
		}
		hours = n
	}
	since := s.now().Add(-time.Duration(hours) * time.Hour)

	samples, err := s.tables.Read(route)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	points := make([]HistoryPoint, 0, len(samples))
	for _, smp := range samples {
		if smp.Timestamp.Before(since) {
			continue
		}
		points = append(points, HistoryPoint{
			Timestamp:       smp.Timestamp.In(s.loc),
			DurationMinutes: minutesPtr(smp),
		})
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) handleAPIStats(w http.ResponseWriter, r *http.Request) {
	route, ok := s.findRoute(r.URL.Query().Get("route"))
	if !ok {
		http.Error(w, "unknown route", http.StatusNotFound)
		return
	}
	samples, err := s.tables.Read(route)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	res := stats.Compute(samples, s.buckets, s.statsOpts)
	out := RouteStats{
		Route:     route.ID(),
		Count:     res.Count,
		NullCount: res.NullCount,
		Median:    res.Median,
		Extreme:   res.Extreme,
		Window:    res.Window,
		Weekday:   make([]NamedMedian, 0, len(res.Weekday)),
		Buckets:   make([]NamedMedian, 0, len(res.Buckets)),
	}
	if res.HasOffPeak {
		v := res.OffPeak
		out.OffPeak = &v
	}
	for _, wd := range res.Weekday {
		out.Weekday = append(out.Weekday, NamedMedian{Label: wd.Weekday.String(), Median: wd.Median, Count: wd.Count})
	}
	for _, b := range res.Buckets {
		out.Buckets = append(out.Buckets, NamedMedian{Label: b.Bucket.Label, Median: b.Median, Count: b.Count})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAPIIngest(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "audit store disabled", http.StatusNotFound)
		return
	}
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			days = n
		}
	}
	health, err := s.store.GetIngestHealth(days)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, health)
}

func (s *Server) handleAPISnapshots(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "audit store disabled", http.StatusNotFound)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	list, err := s.store.ListRawPayloads(r.URL.Query().Get("route"), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []store.RawPayload{}
	}
	writeJSON(w, http.StatusOK, list)
}

// handleAPISnapshot returns the page text captured for one degraded run.
func (s *Server) handleAPISnapshot(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "audit store disabled", http.StatusNotFound)
		return
	}
	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "id must be a positive integer", http.StatusBadRequest)
		return
	}
	data, err := s.store.GetRawPayload(id)
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "snapshot not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(data)
}

func minutesPtr(s models.Sample) *float64 {
	if !s.DurationMinutes.Valid {
		return nil
	}
	v := s.DurationMinutes.Float64
	return &v
}
