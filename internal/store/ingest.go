package store

import (
	"database/sql"
	"time"

	"github.com/lox/commutewatch/internal/models"
)

// IngestRun is the audit record of one route visit.
type IngestRun struct {
	ID              int64
	StartedAt       time.Time
	FinishedAt      sql.NullTime
	RouteID         string
	RouteSlug       string
	URL             string
	Tier            sql.NullString // "primary", "retry", "single_card", "multi_card", "failed"
	DurationMinutes sql.NullFloat64
	Fragment        sql.NullString
	PageTitle       sql.NullString
	QualityFlags    sql.NullString // JSON array
	Success         bool
	ErrorMessage    sql.NullString
}

// StartIngestRun creates a new ingest run record and returns it.
func (s *Store) StartIngestRun(route models.Route) (*IngestRun, error) {
	run := &IngestRun{
		StartedAt: time.Now().UTC(),
		RouteID:   route.ID(),
		RouteSlug: route.Slug(),
		URL:       route.URL,
	}

	result, err := s.db.Exec(`
		INSERT INTO ingest_runs (started_at, route_id, route_slug, url, success)
		VALUES (?, ?, ?, ?, FALSE)
	`, run.StartedAt, run.RouteID, run.RouteSlug, run.URL)
	if err != nil {
		return nil, err
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return run, nil
}

// CompleteIngestRun updates the ingest run with results.
func (s *Store) CompleteIngestRun(run *IngestRun) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.db.Exec(`
		UPDATE ingest_runs SET
			finished_at = ?,
			tier = ?,
			duration_minutes = ?,
			fragment = ?,
			page_title = ?,
			quality_flags = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.Tier, run.DurationMinutes, run.Fragment, run.PageTitle,
		run.QualityFlags, run.Success, run.ErrorMessage, run.ID)
	return err
}

// IngestHealthSummary is one day of runs for one route.
type IngestHealthSummary struct {
	Date        string
	RouteID     string
	TotalRuns   int
	SuccessRuns int
	FailedRuns  int
	Degraded    int
	NullSamples int
}

// GetIngestHealth returns per-route daily summaries for the last N days.
// A run counts as degraded when any tier other than primary produced the
// outcome, and as a null sample when it succeeded without a duration.
func (s *Store) GetIngestHealth(days int) ([]IngestHealthSummary, error) {
	rows, err := s.db.Query(`
		SELECT 
			DATE(SUBSTR(started_at, 1, 19)) as date,
			route_id,
			COUNT(*) as total_runs,
			SUM(CASE WHEN success THEN 1 ELSE 0 END) as success_runs,
			SUM(CASE WHEN NOT success THEN 1 ELSE 0 END) as failed_runs,
			SUM(CASE WHEN success AND tier != 'primary' THEN 1 ELSE 0 END) as degraded,
			SUM(CASE WHEN success AND duration_minutes IS NULL THEN 1 ELSE 0 END) as null_samples
		FROM ingest_runs
		WHERE SUBSTR(started_at, 1, 19) > datetime('now', '-' || ? || ' days')
		GROUP BY date, route_id
		ORDER BY date DESC, route_id
	`, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []IngestHealthSummary
	for rows.Next() {
		var h IngestHealthSummary
		if err := rows.Scan(&h.Date, &h.RouteID, &h.TotalRuns,
			&h.SuccessRuns, &h.FailedRuns, &h.Degraded, &h.NullSamples); err != nil {
			return nil, err
		}
		results = append(results, h)
	}
	return results, rows.Err()
}

// GetRecentIngestErrors returns recent failed ingest runs.
func (s *Store) GetRecentIngestErrors(limit int) ([]IngestRun, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at, route_id, route_slug, url, tier,
			   duration_minutes, fragment, page_title, quality_flags,
			   success, error_message
		FROM ingest_runs
		WHERE success = FALSE
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []IngestRun
	for rows.Next() {
		var r IngestRun
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.RouteID, &r.RouteSlug,
			&r.URL, &r.Tier, &r.DurationMinutes, &r.Fragment, &r.PageTitle,
			&r.QualityFlags, &r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
