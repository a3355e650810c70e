package database

import (
	"context"
	"fmt"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS benchmark_runs (
    id                    UUID PRIMARY KEY,
    warehouse_name        TEXT NOT NULL,
    warehouse_id          TEXT,
    warehouse_type        TEXT NOT NULL,
    warehouse_size        TEXT NOT NULL,
    benchmark_choice      TEXT NOT NULL,
    concurrency           INT NOT NULL,
    repetitions           INT NOT NULL,
    results_cache_enabled BOOLEAN NOT NULL DEFAULT FALSE,
    provisioned           BOOLEAN NOT NULL DEFAULT FALSE,
    status                TEXT NOT NULL,
    peak_clusters         INT,
    avg_clusters          DOUBLE PRECISION,
    started_at            TIMESTAMPTZ,
    completed_at          TIMESTAMPTZ,
    created_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS query_metrics (
    id                   BIGSERIAL PRIMARY KEY,
    run_id               UUID NOT NULL REFERENCES benchmark_runs(id) ON DELETE CASCADE,
    query_key            TEXT NOT NULL,
    warehouse_name       TEXT NOT NULL,
    query_text           TEXT NOT NULL,
    query_id             TEXT NOT NULL,
    total_time_ms        DOUBLE PRECISION NOT NULL,
    compilation_time_ms  DOUBLE PRECISION,
    execution_time_ms    DOUBLE PRECISION,
    result_fetch_time_ms DOUBLE PRECISION,
    read_bytes           BIGINT,
    rows_produced_count  BIGINT,
    result_from_cache    BOOLEAN,
    created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS query_metrics_run_id_idx ON query_metrics (run_id);
`

// EnsureSchema creates the tables if they do not exist.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
