package store

import "context"

// RunMigrations applies the audit-log schema. Idempotent.
func (s *Store) RunMigrations(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS deliveries (
            id          BIGSERIAL PRIMARY KEY,
            job_id      TEXT NOT NULL,
            category    TEXT NOT NULL,
            outcome     TEXT NOT NULL,
            error       TEXT NOT NULL DEFAULT '',
            duration_ms BIGINT NOT NULL DEFAULT 0,
            recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
        );
        CREATE INDEX IF NOT EXISTS deliveries_recorded_at_idx ON deliveries (recorded_at DESC);
    `)
	return err
}
