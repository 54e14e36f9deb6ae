// Package api serves route health, history, statistics and the rendered
// charts over HTTP, alongside the Prometheus metrics endpoint.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/commutewatch/internal/charts"
	"github.com/lox/commutewatch/internal/models"
	"github.com/lox/commutewatch/internal/stats"
	"github.com/lox/commutewatch/internal/store"
)

const defaultStaleAfter = 60 * time.Minute

type Server struct {
	routes     []models.Route
	tables     *store.Tables
	store      *store.Store
	charts     *charts.Dir
	addr       string
	loc        *time.Location
	buckets    []models.PeakBucket
	statsOpts  stats.Options
	staleAfter time.Duration
	now        func() time.Time
}

func NewServer(routes []models.Route, tables *store.Tables, dir *charts.Dir, addr string, loc *time.Location) *Server {
	return &Server{
		routes:     routes,
		tables:     tables,
		charts:     dir,
		addr:       addr,
		loc:        loc,
		buckets:    models.DefaultPeakBuckets,
		staleAfter: defaultStaleAfter,
		now:        time.Now,
	}
}

// SetStore exposes the scrape audit trail under /api/ingest and the archived
// page snapshots under /api/snapshots.
func (s *Server) SetStore(st *store.Store) {
	s.store = st
}

// SetAnalysis sets the peak buckets and statistics options used by
// /api/stats. They should match the chart renderer's.
func (s *Server) SetAnalysis(buckets []models.PeakBucket, opts stats.Options) {
	s.buckets = buckets
	s.statsOpts = opts
}

// SetStaleAfter sets how old a route's newest sample may be before /health
// reports it as stale.
func (s *Server) SetStaleAfter(d time.Duration) {
	if d > 0 {
		s.staleAfter = d
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/routes", s.handleAPIRoutes)
	mux.HandleFunc("/api/history", s.handleAPIHistory)
	mux.HandleFunc("/api/stats", s.handleAPIStats)
	mux.HandleFunc("/api/ingest", s.handleAPIIngest)
	mux.HandleFunc("/api/snapshots", s.handleAPISnapshots)
	mux.HandleFunc("/api/snapshot", s.handleAPISnapshot)
	mux.Handle("/charts/", http.StripPrefix("/charts/", http.FileServer(http.Dir(s.charts.Root()))))
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	slog.Info("api: listening", "addr", s.addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) findRoute(slug string) (models.Route, bool) {
	for _, r := range s.routes {
		if r.Slug() == slug {
			return r, true
		}
	}
	return models.Route{}, false
}
