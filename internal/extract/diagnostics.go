package extract

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// DiagnosticLog appends one logfmt line per degraded extraction.
type DiagnosticLog struct {
	logger *slog.Logger
	closer io.Closer
}

// OpenDiagnosticLog opens path for appending, creating parent directories.
func OpenDiagnosticLog(path string) (*DiagnosticLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create diagnostics dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open diagnostics log: %w", err)
	}
	d := NewDiagnosticLog(f)
	d.closer = f
	return d, nil
}

// NewDiagnosticLog writes to w.
func NewDiagnosticLog(w io.Writer) *DiagnosticLog {
	return &DiagnosticLog{
		logger: slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})),
	}
}

func (d *DiagnosticLog) Record(ctx context.Context, r *Result) error {
	level := slog.LevelWarn
	msg := "extraction degraded"
	if !r.Minutes.Valid {
		level = slog.LevelError
		msg = "extraction failed"
	}
	attrs := []slog.Attr{
		slog.String("route", r.Route.ID()),
		slog.String("url", r.Route.URL),
		slog.String("tier", r.Tier.String()),
	}
	if r.Minutes.Valid {
		attrs = append(attrs, slog.Float64("minutes", r.Minutes.Float64), slog.String("fragment", r.Fragment))
	}
	for _, t := range []Tier{TierPrimary, TierRetry, TierSingleCard, TierMultiCard} {
		attrs = append(attrs, slog.String(t.String(), r.Raw(t)))
	}
	attrs = append(attrs, slog.String("snapshot", r.Snapshot))
	d.logger.LogAttrs(ctx, level, msg, attrs...)
	return nil
}

func (d *DiagnosticLog) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer.Close()
}
