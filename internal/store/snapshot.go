package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// RunEntry is one route's outcome within a scrape cycle.
type RunEntry struct {
	Route           string   `json:"route"`
	Direction       string   `json:"direction"`
	URL             string   `json:"url"`
	TimestampLocal  string   `json:"timestamp_local"`
	PageTitle       string   `json:"page_title"`
	DurationMinutes *float64 `json:"duration_minutes"`
	Tier            string   `json:"tier,omitempty"`
	Flags           []string `json:"flags,omitempty"`
	Error           string   `json:"error,omitempty"`
}

// RunSnapshot is the combined output of one scrape cycle.
type RunSnapshot struct {
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	Entries    []RunEntry `json:"entries"`
}

// WriteRunSnapshot replaces path with snap. The file is written to a temp
// name first so readers never see a partial document.
func WriteRunSnapshot(path string, snap RunSnapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

// ReadRunSnapshot loads the last cycle's snapshot.
func ReadRunSnapshot(path string) (*RunSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snap RunSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", path, err)
	}
	return &snap, nil
}
