// Package postgres stores quality reports in PostgreSQL, one row per report
// ID with the full report kept as JSONB.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/couchcryptid/nightlight-qc/internal/domain"
)

// Schema creates the reports table. It is safe to apply repeatedly.
const Schema = `CREATE TABLE IF NOT EXISTS qc_reports (
	id              TEXT PRIMARY KEY,
	scene           TEXT NOT NULL,
	variant         TEXT NOT NULL,
	region          TEXT,
	scene_date      DATE,
	night_only      BOOLEAN NOT NULL,
	status          TEXT NOT NULL,
	total_pixels    INTEGER NOT NULL,
	usable_pixels   INTEGER NOT NULL,
	usable_percent  DOUBLE PRECISION NOT NULL,
	mean_radiance   DOUBLE PRECISION,
	median_radiance DOUBLE PRECISION,
	warnings        TEXT[],
	report          JSONB NOT NULL,
	processed_at    TIMESTAMPTZ NOT NULL
)`

const upsertSQL = `INSERT INTO qc_reports (
	id, scene, variant, region, scene_date, night_only, status,
	total_pixels, usable_pixels, usable_percent, mean_radiance, median_radiance,
	warnings, report, processed_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status,
	total_pixels = EXCLUDED.total_pixels,
	usable_pixels = EXCLUDED.usable_pixels,
	usable_percent = EXCLUDED.usable_percent,
	mean_radiance = EXCLUDED.mean_radiance,
	median_radiance = EXCLUDED.median_radiance,
	warnings = EXCLUDED.warnings,
	report = EXCLUDED.report,
	processed_at = EXCLUDED.processed_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store upserts reports. It implements pipeline.BatchLoader.
type Store struct {
	db execer
}

// Open connects to dsn with the lib/pq driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewStore wraps db, usually a *sql.DB or *sql.Tx.
func NewStore(db execer) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the reports table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) LoadBatch(ctx context.Context, events []domain.OutputEvent) error {
	for _, e := range events {
		r, raw, err := decode(e)
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, upsertSQL, args(r, raw)...); err != nil {
			return fmt.Errorf("upsert report %s: %w", r.ID, err)
		}
	}
	return nil
}

func decode(e domain.OutputEvent) (domain.Report, []byte, error) {
	if e.Report != nil {
		return *e.Report, e.Value, nil
	}
	var r domain.Report
	if err := json.Unmarshal(e.Value, &r); err != nil {
		return domain.Report{}, nil, fmt.Errorf("decode report %s: %w", e.Key, err)
	}
	return r, e.Value, nil
}

func args(r domain.Report, raw []byte) []any {
	var mean, median sql.NullFloat64
	if r.Filtered != nil {
		mean = sql.NullFloat64{Float64: r.Filtered.Mean, Valid: true}
		median = sql.NullFloat64{Float64: r.Filtered.Median, Valid: true}
	}
	return []any{
		r.ID,
		r.Scene,
		string(r.Variant),
		nullString(r.Region),
		nullString(r.Date),
		r.NightOnly,
		r.Status,
		r.TotalPixels,
		r.UsablePixels,
		r.UsablePercent,
		mean,
		median,
		pq.Array(r.Warnings),
		string(raw),
		r.ProcessedAt,
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
