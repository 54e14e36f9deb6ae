package models

import (
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Route is one logical, continuously measured path.
type Route struct {
	Name      string `json:"name"`
	Direction string `json:"direction"`
	URL       string `json:"url"`
}

// ID is the human readable identity used in logs and diagnostics.
func (r Route) ID() string {
	if r.Direction == "" {
		return r.Name
	}
	return r.Name + "/" + r.Direction
}

// Slug returns a stable, filename-safe identifier derived from the route identity.
func (r Route) Slug() string {
	s := slugify(r.Name)
	if d := slugify(r.Direction); d != "" {
		s += "_" + d
	}
	if s == "" {
		return "route"
	}
	return s
}

func slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, c := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			b.WriteRune(c)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// RouteFromURL builds a route for a bare URL. The name follows the
// host-firstpath-hash pattern so it stays stable when the list is reordered.
func RouteFromURL(raw string) Route {
	host, first := "url", "path"
	if u, err := url.Parse(raw); err == nil {
		if h := u.Hostname(); h != "" {
			host = strings.ReplaceAll(h, " ", "-")
		}
		if p := strings.Trim(u.Path, "/"); p != "" {
			first = strings.ReplaceAll(strings.Split(p, "/")[0], " ", "-")
		}
	}
	sum := sha1.Sum([]byte(raw))
	return Route{
		Name: fmt.Sprintf("%s-%s-%s", host, first, hex.EncodeToString(sum[:])[:8]),
		URL:  raw,
	}
}

// Sample is one measurement of a route. DurationMinutes is either strictly
// positive or null.
type Sample struct {
	Timestamp       time.Time
	DurationMinutes sql.NullFloat64
	Weekday         time.Weekday
}

func NewSample(ts time.Time, minutes sql.NullFloat64) Sample {
	if minutes.Valid && minutes.Float64 <= 0 {
		minutes = sql.NullFloat64{}
	}
	return Sample{Timestamp: ts, DurationMinutes: minutes, Weekday: ts.Weekday()}
}

// Row is what a measurement cycle appends to a route's table.
type Row struct {
	Timestamp       time.Time
	Name            string
	PageTitle       string
	DurationMinutes sql.NullFloat64
}

// PeakBucket is a half-open [StartHour, EndHour) range of the day. A bucket
// with StartHour > EndHour wraps past midnight.
type PeakBucket struct {
	Label     string `json:"label"`
	StartHour int    `json:"start_hour"`
	EndHour   int    `json:"end_hour"`
}

func (b PeakBucket) Contains(hour int) bool {
	if b.StartHour <= b.EndHour {
		return hour >= b.StartHour && hour < b.EndHour
	}
	return hour >= b.StartHour || hour < b.EndHour
}

var DefaultPeakBuckets = []PeakBucket{
	{Label: "AM peak", StartHour: 7, EndHour: 10},
	{Label: "PM peak", StartHour: 16, EndHour: 19},
}
