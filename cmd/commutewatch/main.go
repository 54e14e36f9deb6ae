package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/lmittmann/tint"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
)

type Globals struct {
	Config   string                   `help:"Path to the JSON5 config file." default:"config.json5" type:"path"`
	EnvFile  kongdotenv.ENVFileConfig `help:"Path to a .env file." name:"env-file" default:".env" optional:""`
	DataDir  string                   `help:"Directory holding route tables and run output." name:"data-dir" env:"DATA_DIR"`
	ChartDir string                   `help:"Directory for rendered charts." name:"chart-dir" env:"CHART_DIR"`
	DB       string                   `help:"Path to the sqlite audit database." name:"db" env:"DB_PATH"`
	TZ       string                   `help:"IANA timezone for timestamps and grouping." name:"tz" env:"COMMUTEWATCH_TZ"`
	URLs     string                   `help:"Routes as a JSON array or comma-separated URLs." name:"urls" env:"URLS"`
	Verbose  bool                     `help:"Enable debug logging." short:"v"`
}

type CLI struct {
	Globals

	Scrape ScrapeCmd `cmd:"" help:"Visit every route once and append the results."`
	Run    RunCmd    `cmd:"" help:"Scrape on a schedule and serve charts, health and metrics."`
	Render RenderCmd `cmd:"" help:"Re-render every route's chart from its history."`
	Stats  StatsCmd  `cmd:"" help:"Print per-route statistics."`
	Health HealthCmd `cmd:"" help:"Print scrape health from the audit database."`
}

func initSlog(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(logger)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("commutewatch"),
		kong.Description("Scrape route travel times from a map page, keep the history and chart it."),
		kong.UsageOnError(),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	initSlog(cli.Verbose)

	err := kctx.Run(&cli.Globals)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "commutewatch: %v\n", err)
		os.Exit(1)
	}
}
