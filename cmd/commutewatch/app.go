package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/lox/commutewatch/internal/api"
	"github.com/lox/commutewatch/internal/charts"
	"github.com/lox/commutewatch/internal/config"
	"github.com/lox/commutewatch/internal/extract"
	"github.com/lox/commutewatch/internal/httputil"
	"github.com/lox/commutewatch/internal/ingest"
	"github.com/lox/commutewatch/internal/page"
	"github.com/lox/commutewatch/internal/publish"
	"github.com/lox/commutewatch/internal/stats"
	"github.com/lox/commutewatch/internal/store"
)

// app holds everything a command needs, built from the resolved config.
type app struct {
	cfg       *config.Config
	tables    *store.Tables
	store     *store.Store
	diag      *extract.DiagnosticLog
	charts    *charts.Dir
	renderer  *charts.Renderer
	scheduler *ingest.Scheduler
}

func newApp(g *Globals) (*app, error) {
	cfg, err := config.Load(g.Config, config.Overrides{
		DataDir:  g.DataDir,
		ChartDir: g.ChartDir,
		DBPath:   g.DB,
		Timezone: g.TZ,
		URLs:     g.URLs,
	})
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if len(cfg.Routes) == 0 {
		return nil, errors.New("no routes configured: set routes in the config file or " + config.EnvURLs)
	}
	loc := cfg.Location

	st, err := store.Open(cfg.DBPath, loc)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	diag, err := extract.OpenDiagnosticLog(cfg.DiagnosticsLog)
	if err != nil {
		st.Close()
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		tables: store.NewTables(cfg.DataDir, loc),
		store:  st,
		diag:   diag,
		charts: charts.NewDir(cfg.ChartDir),
	}
	a.renderer = charts.NewRenderer(a.charts, charts.Options{
		Buckets: cfg.PeakBuckets,
		Stats:   a.statsOptions(),
	})

	pipeline := extract.NewPipeline(page.NewHTTPPage(httputil.NewClient()), extract.Options{
		Selectors:         cfg.Selectors,
		CardSelector:      cfg.CardSelector,
		RetryDelay:        cfg.RetryDelay,
		NavigationTimeout: cfg.NavTimeout,
		CardWaitTimeout:   cfg.CardWait,
	}, diag)

	a.scheduler = ingest.NewScheduler(cfg.Routes, pipeline, a.tables, loc)
	a.scheduler.SetStore(st, cfg.SnapshotRetentionDays)
	a.scheduler.SetRenderer(a.renderer)
	a.scheduler.SetSnapshotPath(cfg.SnapshotPath)
	a.scheduler.SetSchedule(cfg.Schedule)
	if cfg.FTP.Enabled() {
		a.scheduler.SetPublisher(publish.NewFTP(publish.FTPConfig{
			Addr:      cfg.FTP.Addr,
			User:      cfg.FTP.User,
			Password:  cfg.FTP.Password,
			RemoteDir: cfg.FTP.RemoteDir,
		}))
	}

	slog.Debug("config resolved",
		"routes", len(cfg.Routes),
		"data_dir", cfg.DataDir,
		"chart_dir", cfg.ChartDir,
		"db", cfg.DBPath,
		"tz", loc.String(),
		"ftp", cfg.FTP.Enabled(),
	)
	return a, nil
}

func (a *app) statsOptions() stats.Options {
	return stats.Options{
		BandLow:   a.cfg.BandLow,
		BandHigh:  a.cfg.BandHigh,
		MaxPoints: a.cfg.MaxPoints,
	}
}

func (a *app) server() *api.Server {
	srv := api.NewServer(a.cfg.Routes, a.tables, a.charts, a.cfg.MetricsAddr, a.cfg.Location)
	srv.SetStore(a.store)
	srv.SetAnalysis(a.cfg.PeakBuckets, a.statsOptions())
	return srv
}

func (a *app) Close() {
	if err := a.diag.Close(); err != nil {
		slog.Warn("close diagnostics log", "error", err)
	}
	if err := a.store.Close(); err != nil {
		slog.Warn("close audit database", "error", err)
	}
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}
