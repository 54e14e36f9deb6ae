package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/lox/commutewatch/internal/stats"
)

type ScrapeCmd struct {
	Render bool `help:"Re-render and publish charts after the cycle."`
}

func (c *ScrapeCmd) Run(ctx context.Context, g *Globals) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer a.Close()

	snap, err := a.scheduler.RunCycle(ctx)
	if err != nil {
		return err
	}

	t := newTable()
	t.AppendHeader(table.Row{"Route", "Tier", "Minutes", "Flags", "Error"})
	for _, e := range snap.Entries {
		minutes := "-"
		if e.DurationMinutes != nil {
			minutes = fmt.Sprintf("%.0f", *e.DurationMinutes)
		}
		route := e.Route
		if e.Direction != "" {
			route += "/" + e.Direction
		}
		t.AppendRow(table.Row{route, e.Tier, minutes, strings.Join(e.Flags, ","), e.Error})
	}
	t.Render()

	if c.Render {
		paths := a.scheduler.RenderAll(ctx)
		slog.Info("rendered charts", "count", len(paths), "dir", a.cfg.ChartDir)
	}
	return nil
}

type RunCmd struct {
	NoServe bool `help:"Do not start the HTTP server." name:"no-serve"`
}

func (c *RunCmd) Run(ctx context.Context, g *Globals) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer a.Close()

	if !c.NoServe {
		srv := a.server()
		go func() {
			if err := srv.Run(ctx); err != nil {
				slog.Error("http server", "error", err)
			}
		}()
	} else {
		slog.Info("http server disabled (--no-serve)")
	}

	return a.scheduler.Run(ctx)
}

type RenderCmd struct{}

func (c *RenderCmd) Run(ctx context.Context, g *Globals) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer a.Close()

	paths := a.scheduler.RenderAll(ctx)
	for _, p := range paths {
		fmt.Println(p)
	}
	if len(paths) < len(a.cfg.Routes) {
		return fmt.Errorf("rendered %d of %d charts", len(paths), len(a.cfg.Routes))
	}
	return nil
}

type StatsCmd struct{}

func (c *StatsCmd) Run(ctx context.Context, g *Globals) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer a.Close()

	header := table.Row{"Route", "Samples", "Null", "Median", "Off-peak", fmt.Sprintf("p%d", stats.ExtremePercentile)}
	for _, b := range a.cfg.PeakBuckets {
		header = append(header, b.Label)
	}
	header = append(header, "Last sample")

	t := newTable()
	t.AppendHeader(header)
	for _, route := range a.cfg.Routes {
		series, err := a.tables.Read(route)
		if err != nil {
			return fmt.Errorf("read %s: %w", route.ID(), err)
		}
		res := stats.Compute(series, a.cfg.PeakBuckets, a.statsOptions())

		row := table.Row{route.ID(), res.Count, res.NullCount, minutesCell(res.Median, !res.Empty()),
			minutesCell(res.OffPeak, res.HasOffPeak), minutesCell(res.Extreme, !res.Empty())}
		medians := make(map[string]float64, len(res.Buckets))
		for _, b := range res.Buckets {
			medians[b.Bucket.Label] = b.Median
		}
		for _, b := range a.cfg.PeakBuckets {
			v, ok := medians[b.Label]
			row = append(row, minutesCell(v, ok))
		}
		last := "-"
		if n := len(series); n > 0 {
			last = series[n-1].Timestamp.In(a.cfg.Location).Format("2006-01-02 15:04")
		}
		row = append(row, last)
		t.AppendRow(row)
	}
	t.Render()
	return nil
}

func minutesCell(v float64, ok bool) string {
	if !ok {
		return "-"
	}
	return fmt.Sprintf("%.1f", v)
}

type HealthCmd struct {
	Days      int   `help:"Days of scrape history to summarize." default:"7"`
	Errors    int   `help:"Number of recent failures to list." default:"10"`
	Snapshots int   `help:"Number of recent page snapshots to list." default:"10"`
	Snapshot  int64 `help:"Print a stored page snapshot by id and exit." placeholder:"ID"`
}

func (c *HealthCmd) Run(ctx context.Context, g *Globals) error {
	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer a.Close()

	if c.Snapshot > 0 {
		data, err := a.store.GetRawPayload(c.Snapshot)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("snapshot %d not found", c.Snapshot)
		}
		if err != nil {
			return fmt.Errorf("snapshot %d: %w", c.Snapshot, err)
		}
		_, err = os.Stdout.Write(data)
		return err
	}

	health, err := a.store.GetIngestHealth(c.Days)
	if err != nil {
		return fmt.Errorf("ingest health: %w", err)
	}
	t := newTable()
	t.SetTitle("Scrape runs, last %d days", c.Days)
	t.AppendHeader(table.Row{"Date", "Route", "Runs", "OK", "Failed", "Degraded", "Null"})
	for _, h := range health {
		t.AppendRow(table.Row{h.Date, h.RouteID, h.TotalRuns, h.SuccessRuns, h.FailedRuns, h.Degraded, h.NullSamples})
	}
	t.Render()

	failures, err := a.store.GetRecentIngestErrors(c.Errors)
	if err != nil {
		return fmt.Errorf("recent errors: %w", err)
	}
	if len(failures) > 0 {
		t := newTable()
		t.SetTitle("Recent failures")
		t.AppendHeader(table.Row{"Started", "Route", "Error"})
		for _, f := range failures {
			t.AppendRow(table.Row{f.StartedAt.In(a.cfg.Location).Format("2006-01-02 15:04"), f.RouteID, f.ErrorMessage.String})
		}
		t.Render()
	}

	payloads, err := a.store.GetRawPayloadStats()
	if err != nil {
		return fmt.Errorf("snapshot stats: %w", err)
	}
	t = newTable()
	t.SetTitle("Degraded page snapshots")
	t.AppendHeader(table.Row{"Route", "Count", "Bytes"})
	for slug, n := range payloads.CountByRoute {
		t.AppendRow(table.Row{slug, n, payloads.SizeByRoute[slug]})
	}
	t.AppendFooter(table.Row{"total", payloads.TotalCount, payloads.TotalSizeBytes})
	t.SortBy([]table.SortBy{{Name: "Route", Mode: table.Asc}})
	t.Render()

	recent, err := a.store.ListRawPayloads("", c.Snapshots)
	if err != nil {
		return fmt.Errorf("list snapshots: %w", err)
	}
	if len(recent) > 0 {
		t := newTable()
		t.SetTitle("Recent snapshots (health --snapshot ID)")
		t.AppendHeader(table.Row{"ID", "Fetched", "Route", "Tier", "Bytes"})
		for _, p := range recent {
			t.AppendRow(table.Row{p.ID, p.FetchedAt.In(a.cfg.Location).Format("2006-01-02 15:04"), p.RouteSlug, p.Tier, p.CompressedSize})
		}
		t.Render()
	}
	return nil
}
