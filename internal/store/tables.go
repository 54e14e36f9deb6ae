package store

import (
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lox/commutewatch/internal/models"
)

// Header is the fixed column order of a route table.
var Header = []string{"timestamp_local", "weekday", "name", "page_title", "duration_minutes"}

// Timestamps without zone information are read in the table's location.
var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

var zonedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
}

// Tables keeps one append-only CSV table per route.
type Tables struct {
	dir string
	loc *time.Location

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewTables(dir string, loc *time.Location) *Tables {
	return &Tables{dir: dir, loc: loc, locks: make(map[string]*sync.Mutex)}
}

func (t *Tables) Path(route models.Route) string {
	return filepath.Join(t.dir, route.Slug()+".csv")
}

func (t *Tables) lock(route models.Route) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := route.Slug()
	l, ok := t.locks[key]
	if !ok {
		l = &sync.Mutex{}
		t.locks[key] = l
	}
	return l
}

// Append writes one row, creating the table with its header if needed.
// Appends to the same route are serialized so rows never interleave.
func (t *Tables) Append(route models.Route, row models.Row) error {
	l := t.lock(route)
	l.Lock()
	defer l.Unlock()

	if err := os.MkdirAll(t.dir, 0755); err != nil {
		return fmt.Errorf("create table dir: %w", err)
	}

	path := t.Path(route)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open table %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat table %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(Header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	if err := w.Write(t.encode(row)); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	w.Flush()
	return w.Error()
}

func (t *Tables) encode(row models.Row) []string {
	ts := row.Timestamp.In(t.loc)
	minutes := ""
	if row.DurationMinutes.Valid && row.DurationMinutes.Float64 > 0 {
		minutes = strconv.FormatFloat(row.DurationMinutes.Float64, 'f', -1, 64)
	}
	return []string{
		ts.Format(time.RFC3339),
		ts.Format("Mon"),
		row.Name,
		row.PageTitle,
		minutes,
	}
}

// Read returns the route's full history in ascending time order. A missing
// table is an empty history.
func (t *Tables) Read(route models.Route) ([]models.Sample, error) {
	f, err := os.Open(t.Path(route))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadSamples(f, t.loc)
}

// ReadSamples parses a route table. Rows with an unparseable timestamp or a
// non-numeric or non-positive duration are skipped. An empty duration cell is
// kept as a null sample.
func ReadSamples(r io.Reader, loc *time.Location) ([]models.Sample, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	tsCol, durCol := -1, -1
	for i, h := range header {
		switch strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")) {
		case "timestamp_local":
			tsCol = i
		case "duration_minutes":
			durCol = i
		}
	}
	if tsCol < 0 || durCol < 0 {
		return nil, fmt.Errorf("table header %v lacks timestamp_local or duration_minutes", header)
	}

	var samples []models.Sample
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				continue
			}
			return nil, err
		}
		if tsCol >= len(rec) || durCol >= len(rec) {
			continue
		}
		ts, ok := ParseTimestamp(rec[tsCol], loc)
		if !ok {
			continue
		}
		minutes, ok := parseMinutes(rec[durCol])
		if !ok {
			continue
		}
		samples = append(samples, models.NewSample(ts, minutes))
	}

	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})
	return samples, nil
}

// ParseTimestamp accepts ISO-8601 with or without an offset. The result is
// expressed in loc.
func ParseTimestamp(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.In(loc), true
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseMinutes(s string) (sql.NullFloat64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullFloat64{}, true
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return sql.NullFloat64{}, false
	}
	return sql.NullFloat64{Float64: v, Valid: true}, true
}
