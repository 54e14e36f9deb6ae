// Package config resolves the runtime configuration from config.json5, an
// optional config.local.json5 override, the URLS environment variable and
// command-line overrides.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/titanous/json5"

	"github.com/lox/commutewatch/internal/models"
)

const (
	DefaultTimezone        = "UTC"
	DefaultSchedule        = "*/15 * * * *"
	DefaultRetryDelay      = 3 * time.Second
	DefaultNavTimeout      = 60 * time.Second
	DefaultBandLow         = 10
	DefaultBandHigh        = 90
	DefaultMaxPoints       = 5000
	DefaultRetentionDays   = 30
	DefaultMetricsAddr     = ":9464"
	DefaultCardSelector    = `div[id^="section-directions-trip-"]`
	EnvURLs                = "URLS"
	snapshotFileName       = "scrape_output.json"
	diagnosticsLogFileName = "diagnostics.log"
)

// DefaultSelectors target the headline duration of the first two result cards.
var DefaultSelectors = []string{
	"#section-directions-trip-0 > div.MespJc > div > div.XdKEzd > div.Fk3sm.fontHeadlineSmall.bKVTGe",
	"#section-directions-trip-1 > div.MespJc > div > div.XdKEzd > div.Fk3sm.fontHeadlineSmall.bKVTGe",
}

type FTP struct {
	Addr      string `json:"addr"`
	User      string `json:"user"`
	Password  string `json:"password"`
	RemoteDir string `json:"remote_dir"`
}

func (f FTP) Enabled() bool {
	return f.Addr != ""
}

// File is the on-disk shape of config.json5.
type File struct {
	Timezone              string              `json:"timezone"`
	DataDir               string              `json:"data_dir"`
	ChartDir              string              `json:"chart_dir"`
	DBPath                string              `json:"db_path"`
	DiagnosticsLog        string              `json:"diagnostics_log"`
	Selectors             []string            `json:"selectors"`
	CardSelector          string              `json:"card_selector"`
	RetryDelayMS          int                 `json:"retry_delay_ms"`
	NavigationTimeoutS    int                 `json:"navigation_timeout_s"`
	// CardWaitS bounds the wait for the first result card; 0 skips it.
	CardWaitS             int                 `json:"card_wait_s"`
	PeakBuckets           []models.PeakBucket `json:"peak_buckets"`
	Routes                []models.Route      `json:"routes"`
	BandLow               float64             `json:"band_low"`
	BandHigh              float64             `json:"band_high"`
	MaxPoints             int                 `json:"max_points"`
	Schedule              string              `json:"schedule"`
	MetricsAddr           string              `json:"metrics_addr"`
	SnapshotRetentionDays int                 `json:"snapshot_retention_days"`
	FTP                   FTP                 `json:"ftp"`
}

// Overrides come from flags and take precedence over the file.
type Overrides struct {
	DataDir  string
	ChartDir string
	DBPath   string
	Timezone string
	URLs     string
}

// Config is resolved once at startup and not modified afterwards.
type Config struct {
	Location              *time.Location
	DataDir               string
	ChartDir              string
	DBPath                string
	DiagnosticsLog        string
	SnapshotPath          string
	Selectors             []string
	CardSelector          string
	RetryDelay            time.Duration
	NavTimeout            time.Duration
	CardWait              time.Duration
	PeakBuckets           []models.PeakBucket
	Routes                []models.Route
	BandLow               float64
	BandHigh              float64
	MaxPoints             int
	Schedule              string
	MetricsAddr           string
	SnapshotRetentionDays int
	FTP                   FTP
}

// ReadFile reads name and merges name.local.<ext> over it. A missing base
// file is not an error; the zero File is returned.
func ReadFile(name string) (File, error) {
	var out File
	if name == "" {
		return out, nil
	}

	data, err := os.ReadFile(name)
	if err != nil && !os.IsNotExist(err) {
		return out, err
	}
	if len(data) > 0 {
		if err := json5.Unmarshal(data, &out); err != nil {
			return out, fmt.Errorf("parse %s: %w", name, err)
		}
	}

	local := localName(name)
	data, err = os.ReadFile(local)
	if err != nil && !os.IsNotExist(err) {
		return out, err
	}
	if len(data) > 0 {
		var override File
		if err := json5.Unmarshal(data, &override); err != nil {
			return out, fmt.Errorf("parse %s: %w", local, err)
		}
		if err := mergo.Merge(&out, override, mergo.WithOverride); err != nil {
			return out, fmt.Errorf("merge %s: %w", local, err)
		}
		slog.Info("config: merged local overrides", "local", local)
	}
	return out, nil
}

func localName(name string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + ".local" + ext
}

// Load reads the config file and resolves it with overrides.
func Load(name string, o Overrides) (*Config, error) {
	f, err := ReadFile(name)
	if err != nil {
		return nil, err
	}
	return Resolve(f, o)
}

// Resolve applies defaults and overrides to f.
func Resolve(f File, o Overrides) (*Config, error) {
	tz := first(o.Timezone, f.Timezone, DefaultTimezone)
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tz, err)
	}

	cfg := &Config{
		Location:              loc,
		DataDir:               first(o.DataDir, f.DataDir, "data"),
		Selectors:             f.Selectors,
		CardSelector:          first(f.CardSelector, DefaultCardSelector),
		RetryDelay:            millis(f.RetryDelayMS, DefaultRetryDelay),
		NavTimeout:            seconds(f.NavigationTimeoutS, DefaultNavTimeout),
		PeakBuckets:           f.PeakBuckets,
		BandLow:               f.BandLow,
		BandHigh:              f.BandHigh,
		MaxPoints:             f.MaxPoints,
		Schedule:              first(f.Schedule, DefaultSchedule),
		MetricsAddr:           first(f.MetricsAddr, DefaultMetricsAddr),
		SnapshotRetentionDays: f.SnapshotRetentionDays,
		FTP:                   f.FTP,
	}
	cfg.ChartDir = first(o.ChartDir, f.ChartDir, filepath.Join(cfg.DataDir, "charts"))
	cfg.DBPath = first(o.DBPath, f.DBPath, filepath.Join(cfg.DataDir, "commutewatch.db"))
	cfg.DiagnosticsLog = first(f.DiagnosticsLog, filepath.Join(cfg.DataDir, diagnosticsLogFileName))
	cfg.SnapshotPath = filepath.Join(cfg.DataDir, snapshotFileName)

	if f.CardWaitS > 0 {
		cfg.CardWait = time.Duration(f.CardWaitS) * time.Second
	}
	if len(cfg.Selectors) == 0 {
		cfg.Selectors = DefaultSelectors
	}
	if cfg.PeakBuckets == nil {
		cfg.PeakBuckets = models.DefaultPeakBuckets
	}
	if cfg.BandLow == 0 && cfg.BandHigh == 0 {
		cfg.BandLow, cfg.BandHigh = DefaultBandLow, DefaultBandHigh
	}
	if cfg.MaxPoints <= 0 {
		cfg.MaxPoints = DefaultMaxPoints
	}
	if cfg.SnapshotRetentionDays <= 0 {
		cfg.SnapshotRetentionDays = DefaultRetentionDays
	}

	cfg.Routes = f.Routes
	if o.URLs != "" {
		cfg.Routes = append(cfg.Routes, ParseURLs(o.URLs)...)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.BandLow < 0 || c.BandHigh > 100 || c.BandLow >= c.BandHigh {
		errs = append(errs, fmt.Errorf("percentile band %v-%v must satisfy 0 <= low < high <= 100", c.BandLow, c.BandHigh))
	}
	for _, b := range c.PeakBuckets {
		if b.StartHour < 0 || b.StartHour > 23 || b.EndHour < 0 || b.EndHour > 24 {
			errs = append(errs, fmt.Errorf("peak bucket %q: hours out of range", b.Label))
		}
	}
	seen := make(map[string]string)
	for i, r := range c.Routes {
		if r.URL == "" {
			errs = append(errs, fmt.Errorf("route %d (%s): missing url", i, r.ID()))
			continue
		}
		if prev, ok := seen[r.Slug()]; ok {
			errs = append(errs, fmt.Errorf("routes %q and %q share the table %q", prev, r.ID(), r.Slug()))
		}
		seen[r.Slug()] = r.ID()
	}
	return errors.Join(errs...)
}

// ParseURLs accepts a JSON array of URLs or route objects, a single JSON
// string, or a comma-separated list. Bare URLs get a name derived from the
// URL itself.
func ParseURLs(raw string) []models.Route {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &items); err == nil {
		var routes []models.Route
		for _, item := range items {
			var u string
			if err := json.Unmarshal(item, &u); err == nil {
				if u = strings.TrimSpace(u); u != "" {
					routes = append(routes, models.RouteFromURL(u))
				}
				continue
			}
			var r models.Route
			if err := json.Unmarshal(item, &r); err == nil && r.URL != "" {
				if r.Name == "" {
					r.Name = models.RouteFromURL(r.URL).Name
				}
				routes = append(routes, r)
			}
		}
		return routes
	}

	var single string
	if err := json.Unmarshal([]byte(raw), &single); err == nil {
		if single = strings.TrimSpace(single); single != "" {
			return []models.Route{models.RouteFromURL(single)}
		}
		return nil
	}

	var routes []models.Route
	for _, u := range strings.Split(raw, ",") {
		if u = strings.TrimSpace(u); u != "" {
			routes = append(routes, models.RouteFromURL(u))
		}
	}
	return routes
}

func first(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func millis(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

func seconds(s int, def time.Duration) time.Duration {
	if s <= 0 {
		return def
	}
	return time.Duration(s) * time.Second
}
