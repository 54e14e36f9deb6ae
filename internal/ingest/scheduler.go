package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lox/commutewatch/internal/charts"
	"github.com/lox/commutewatch/internal/extract"
	"github.com/lox/commutewatch/internal/metrics"
	"github.com/lox/commutewatch/internal/models"
	"github.com/lox/commutewatch/internal/page"
	"github.com/lox/commutewatch/internal/store"
)

// Extractor runs the extraction pipeline for one route.
type Extractor interface {
	Extract(ctx context.Context, route models.Route) (*extract.Result, error)
}

// Publisher copies rendered charts somewhere else.
type Publisher interface {
	Upload(ctx context.Context, files []string) error
}

type Scheduler struct {
	routes        []models.Route
	extractor     Extractor
	tables        *store.Tables
	loc           *time.Location
	schedule      string
	snapshotPath  string
	retentionDays int

	store     *store.Store
	renderer  *charts.Renderer
	publisher Publisher

	now func() time.Time
}

func NewScheduler(routes []models.Route, extractor Extractor, tables *store.Tables, loc *time.Location) *Scheduler {
	return &Scheduler{
		routes:        routes,
		extractor:     extractor,
		tables:        tables,
		loc:           loc,
		schedule:      "*/15 * * * *",
		retentionDays: 30,
		now:           time.Now,
	}
}

// SetStore enables the sqlite audit trail of runs and page snapshots.
func (s *Scheduler) SetStore(st *store.Store, retentionDays int) {
	s.store = st
	if retentionDays > 0 {
		s.retentionDays = retentionDays
	}
}

// SetRenderer makes Run re-render every chart after each cycle.
func (s *Scheduler) SetRenderer(r *charts.Renderer) {
	s.renderer = r
}

func (s *Scheduler) SetPublisher(p Publisher) {
	s.publisher = p
}

// SetSnapshotPath writes the combined result of each cycle to path.
func (s *Scheduler) SetSnapshotPath(path string) {
	s.snapshotPath = path
}

func (s *Scheduler) SetSchedule(spec string) {
	if spec != "" {
		s.schedule = spec
	}
}

// Run executes a cycle immediately and then on the cron schedule until ctx is
// cancelled. A cycle that is still running when the next one is due causes
// that tick to be skipped.
func (s *Scheduler) Run(ctx context.Context) error {
	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	job := cron.FuncJob(func() { s.cycle(ctx) })
	if _, err := c.AddJob(s.schedule, job); err != nil {
		return fmt.Errorf("schedule %q: %w", s.schedule, err)
	}
	if s.store != nil {
		if _, err := c.AddFunc("@daily", s.cleanup); err != nil {
			return fmt.Errorf("schedule cleanup: %w", err)
		}
	}

	slog.Info("scheduler: starting", "schedule", s.schedule, "routes", len(s.routes), "tz", s.loc.String())
	s.cycle(ctx)

	c.Start()
	<-ctx.Done()
	slog.Info("scheduler: shutting down")
	<-c.Stop().Done()
	return nil
}

func (s *Scheduler) cycle(ctx context.Context) {
	if _, err := s.RunCycle(ctx); err != nil {
		slog.Error("scheduler: cycle failed", "error", err)
		return
	}
	if s.renderer != nil {
		s.RenderAll(ctx)
	}
}

func (s *Scheduler) cleanup() {
	n, err := s.store.CleanupOldRawPayloads(s.retentionDays)
	if err != nil {
		slog.Error("scheduler: cleanup snapshots", "error", err)
		return
	}
	if n > 0 {
		slog.Info("scheduler: cleaned up snapshots", "deleted", n, "retention_days", s.retentionDays)
	}
}

// RunCycle visits every route once, in order. A route whose page cannot be
// loaded is logged and skipped; the rest of the cycle continues. The only
// error returned is cancellation of ctx.
func (s *Scheduler) RunCycle(ctx context.Context) (*store.RunSnapshot, error) {
	start := s.now()
	snap := &store.RunSnapshot{StartedAt: start.In(s.loc)}

	for _, route := range s.routes {
		if err := ctx.Err(); err != nil {
			return snap, err
		}
		snap.Entries = append(snap.Entries, s.scrapeRoute(ctx, route))
	}

	snap.FinishedAt = s.now().In(s.loc)
	metrics.CycleDuration.Observe(snap.FinishedAt.Sub(start).Seconds())
	metrics.LastCycleTimestamp.Set(float64(snap.FinishedAt.Unix()))

	if s.snapshotPath != "" {
		if err := store.WriteRunSnapshot(s.snapshotPath, *snap); err != nil {
			slog.Warn("scheduler: write run snapshot", "path", s.snapshotPath, "error", err)
		}
	}
	return snap, ctx.Err()
}

func (s *Scheduler) scrapeRoute(ctx context.Context, route models.Route) store.RunEntry {
	id := route.ID()
	entry := store.RunEntry{
		Route:     route.Name,
		Direction: route.Direction,
		URL:       route.URL,
	}

	var run *store.IngestRun
	if s.store != nil {
		var err error
		run, err = s.store.StartIngestRun(route)
		if err != nil {
			slog.Warn("scheduler: start ingest run", "route", id, "error", err)
		}
	}
	defer func() {
		if run == nil {
			return
		}
		if err := s.store.CompleteIngestRun(run); err != nil {
			slog.Warn("scheduler: complete ingest run", "route", id, "error", err)
		}
	}()

	began := s.now()
	res, err := s.extractor.Extract(ctx, route)
	metrics.ExtractionLatency.WithLabelValues(id).Observe(s.now().Sub(began).Seconds())
	if err != nil {
		var navErr *page.NavigationError
		if errors.As(err, &navErr) {
			metrics.NavigationErrorsTotal.WithLabelValues(id).Inc()
		}
		slog.Error("scheduler: route aborted", "route", id, "error", err)
		entry.TimestampLocal = began.In(s.loc).Format(time.RFC3339)
		entry.Error = err.Error()
		if run != nil {
			run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
		}
		return entry
	}

	flags := ValidateResult(res)
	minutes := res.Minutes
	if hasFlag(flags, FlagDurationImplausible) {
		slog.Warn("scheduler: implausible duration", "route", id, "minutes", minutes.Float64, "fragment", res.Fragment)
		minutes = sql.NullFloat64{}
	}

	ts := res.At.In(s.loc)
	entry.TimestampLocal = ts.Format(time.RFC3339)
	entry.PageTitle = res.PageTitle
	entry.Tier = res.Tier.String()
	entry.Flags = flags
	if minutes.Valid {
		v := minutes.Float64
		entry.DurationMinutes = &v
	}

	metrics.ExtractionsTotal.WithLabelValues(id, res.Tier.String()).Inc()

	row := models.Row{
		Timestamp:       ts,
		Name:            route.Name,
		PageTitle:       res.PageTitle,
		DurationMinutes: minutes,
	}
	appendErr := s.tables.Append(route, row)
	if appendErr != nil {
		slog.Error("scheduler: append sample", "route", id, "error", appendErr)
		entry.Error = appendErr.Error()
	} else {
		metrics.SamplesAppended.WithLabelValues(id, fmt.Sprint(!minutes.Valid)).Inc()
		if minutes.Valid {
			metrics.TravelMinutes.WithLabelValues(id).Set(minutes.Float64)
		}
	}

	if minutes.Valid {
		slog.Info("scheduler: sample", "route", id, "minutes", minutes.Float64, "tier", res.Tier.String())
	} else {
		slog.Warn("scheduler: null sample", "route", id, "tier", res.Tier.String(), "flags", flags)
	}

	if run != nil {
		run.Tier = sql.NullString{String: res.Tier.String(), Valid: true}
		run.DurationMinutes = minutes
		run.Fragment = sql.NullString{String: res.Fragment, Valid: res.Fragment != ""}
		run.PageTitle = sql.NullString{String: res.PageTitle, Valid: res.PageTitle != ""}
		run.QualityFlags = sql.NullString{String: QualityFlagsToJSON(flags), Valid: len(flags) > 0}
		run.Success = appendErr == nil
		if appendErr != nil {
			run.ErrorMessage = sql.NullString{String: appendErr.Error(), Valid: true}
		}
		if res.Snapshot != "" {
			if _, err := s.store.StoreRawPayload(&run.ID, route.Slug(), res.Tier.String(), []byte(res.Snapshot)); err != nil {
				slog.Warn("scheduler: store page snapshot", "route", id, "error", err)
			}
		}
	}
	return entry
}

// RenderAll re-renders every route's chart from its full history and
// publishes the results when a publisher is configured. A route that fails
// to render is logged and skipped. It returns the written chart paths.
func (s *Scheduler) RenderAll(ctx context.Context) []string {
	if s.renderer == nil {
		return nil
	}

	var paths []string
	for _, route := range s.routes {
		if ctx.Err() != nil {
			break
		}
		id := route.ID()
		series, err := s.tables.Read(route)
		if err != nil {
			slog.Error("scheduler: read history", "route", id, "error", err)
			metrics.ChartsRendered.WithLabelValues(id, "error").Inc()
			continue
		}
		path, err := s.renderer.Render(route, series)
		if err != nil {
			slog.Error("scheduler: render chart", "route", id, "error", err)
			metrics.ChartsRendered.WithLabelValues(id, "error").Inc()
			continue
		}
		metrics.ChartsRendered.WithLabelValues(id, "ok").Inc()
		slog.Debug("scheduler: rendered chart", "route", id, "path", path, "samples", len(series))
		paths = append(paths, path)
	}

	if s.publisher != nil && len(paths) > 0 {
		if err := s.publisher.Upload(ctx, paths); err != nil {
			slog.Error("scheduler: publish charts", "error", err)
		}
	}
	return paths
}

// cronLogger adapts cron's logr-style logger to slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
