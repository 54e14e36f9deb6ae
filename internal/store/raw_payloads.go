package store

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"time"
)

// RawPayload describes a page snapshot kept for a degraded extraction. The
// body is read separately with GetRawPayload.
type RawPayload struct {
	ID             int64         `json:"id"`
	IngestRunID    sql.NullInt64 `json:"-"`
	FetchedAt      time.Time     `json:"fetched_at"`
	RouteSlug      string        `json:"route"`
	Tier           string        `json:"tier"`
	CompressedSize int64         `json:"compressed_size"`
	PayloadHash    string        `json:"hash"`
	SchemaVersion  int           `json:"schema_version"`
}

// StoreRawPayload stores a compressed page snapshot.
// Returns the payload ID, or 0 if the payload was a duplicate (same hash).
func (s *Store) StoreRawPayload(runID *int64, routeSlug, tier string, payload []byte) (int64, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return 0, fmt.Errorf("compress payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return 0, fmt.Errorf("close gzip: %w", err)
	}
	compressed := buf.Bytes()

	hash := sha256.Sum256(payload)
	hashHex := hex.EncodeToString(hash[:])

	var ingestRunID sql.NullInt64
	if runID != nil {
		ingestRunID = sql.NullInt64{Int64: *runID, Valid: true}
	}

	result, err := s.db.Exec(`
		INSERT INTO raw_payloads 
		(ingest_run_id, fetched_at, route_slug, tier, payload_compressed, payload_hash, schema_version)
		VALUES (?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(payload_hash) DO NOTHING
	`, ingestRunID, time.Now().UTC(), routeSlug, tier, compressed, hashHex)
	if err != nil {
		return 0, fmt.Errorf("insert raw payload: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	return result.LastInsertId()
}

// GetRawPayload retrieves and decompresses a stored payload by ID.
func (s *Store) GetRawPayload(id int64) ([]byte, error) {
	var compressed []byte
	err := s.db.QueryRow(`SELECT payload_compressed FROM raw_payloads WHERE id = ?`, id).
		Scan(&compressed)
	if err != nil {
		return nil, err
	}

	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()

	return io.ReadAll(gz)
}

// ListRawPayloads returns the newest snapshots first, without their bodies.
// A route slug of "" lists every route.
func (s *Store) ListRawPayloads(routeSlug string, limit int) ([]RawPayload, error) {
	rows, err := s.db.Query(`
		SELECT id, ingest_run_id, fetched_at, route_slug, tier,
		       LENGTH(payload_compressed), payload_hash, schema_version
		FROM raw_payloads
		WHERE ? = '' OR route_slug = ?
		ORDER BY id DESC
		LIMIT ?
	`, routeSlug, routeSlug, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RawPayload
	for rows.Next() {
		var p RawPayload
		if err := rows.Scan(&p.ID, &p.IngestRunID, &p.FetchedAt, &p.RouteSlug, &p.Tier,
			&p.CompressedSize, &p.PayloadHash, &p.SchemaVersion); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RawPayloadStats contains storage statistics for page snapshots.
type RawPayloadStats struct {
	TotalCount     int
	TotalSizeBytes int64
	CountByRoute   map[string]int
	SizeByRoute    map[string]int64
}

// GetRawPayloadStats returns storage statistics for page snapshots.
func (s *Store) GetRawPayloadStats() (*RawPayloadStats, error) {
	stats := &RawPayloadStats{
		CountByRoute: make(map[string]int),
		SizeByRoute:  make(map[string]int64),
	}

	row := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(LENGTH(payload_compressed)), 0)
		FROM raw_payloads
	`)
	if err := row.Scan(&stats.TotalCount, &stats.TotalSizeBytes); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT route_slug, COUNT(*), SUM(LENGTH(payload_compressed))
		FROM raw_payloads
		GROUP BY route_slug
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var slug string
		var count int
		var size int64
		if err := rows.Scan(&slug, &count, &size); err != nil {
			return nil, err
		}
		stats.CountByRoute[slug] = count
		stats.SizeByRoute[slug] = size
	}

	return stats, rows.Err()
}

// CleanupOldRawPayloads deletes snapshots older than the specified number of days.
// Returns the number of deleted records.
func (s *Store) CleanupOldRawPayloads(retentionDays int) (int64, error) {
	result, err := s.db.Exec(`
		DELETE FROM raw_payloads
		WHERE fetched_at < DATE('now', '-' || ? || ' days')
	`, retentionDays)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
