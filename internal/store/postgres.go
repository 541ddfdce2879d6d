package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store keeps an append-only delivery audit log in Postgres. It is
// observability plumbing: nothing in the dispatch path depends on it.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Delivery is one recorded job outcome.
type Delivery struct {
	JobID      string        `json:"job_id"`
	Category   string        `json:"category"`
	Outcome    string        `json:"outcome"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration_ms"`
	RecordedAt time.Time     `json:"recorded_at"`
}

// RecordDelivery appends one outcome row.
func (s *Store) RecordDelivery(ctx context.Context, d Delivery) error {
	_, err := s.pool.Exec(ctx, `
        INSERT INTO deliveries (job_id, category, outcome, error, duration_ms, recorded_at)
        VALUES ($1, $2, $3, $4, $5, now())`,
		d.JobID, d.Category, d.Outcome, d.Error, d.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

// RecentDeliveries returns the newest outcome rows, newest first.
func (s *Store) RecentDeliveries(ctx context.Context, limit int) ([]Delivery, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
        SELECT job_id, category, outcome, error, duration_ms, recorded_at
        FROM deliveries ORDER BY recorded_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query deliveries: %w", err)
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		var d Delivery
		var durationMs int64
		if err := rows.Scan(&d.JobID, &d.Category, &d.Outcome, &d.Error, &durationMs, &d.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		d.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, d)
	}
	return out, rows.Err()
}
