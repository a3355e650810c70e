package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides database operations for benchmark data.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new Repository with a connection pool.
func NewRepository(ctx context.Context, connString string) (*Repository, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Repository{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repository) Close() {
	r.pool.Close()
}

// CreateBenchmarkRun inserts a new benchmark run and returns its ID. The
// caller's ID is kept when set so log lines and stored rows share one key.
func (r *Repository) CreateBenchmarkRun(ctx context.Context, run *BenchmarkRun) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx,
		`INSERT INTO benchmark_runs
		    (id, warehouse_name, warehouse_type, warehouse_size, benchmark_choice,
		     concurrency, repetitions, results_cache_enabled, status)
		 VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()),$2,$3,$4,$5,$6,$7,$8,$9)
		 RETURNING id`,
		run.ID, run.WarehouseName, run.WarehouseType, run.WarehouseSize, run.Choice,
		run.Concurrency, run.Repetitions, run.ResultsCache, run.Status,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert benchmark run: %w", err)
	}
	return id, nil
}

// UpdateRunStatus updates the status and optional timestamps of a benchmark run.
func (r *Repository) UpdateRunStatus(ctx context.Context, runID, status string) error {
	var query string
	switch status {
	case StatusRunning:
		query = `UPDATE benchmark_runs SET status = $1, started_at = $2 WHERE id = $3`
	case StatusCompleted, StatusFailed:
		query = `UPDATE benchmark_runs SET status = $1, completed_at = $2 WHERE id = $3`
	default:
		query = `UPDATE benchmark_runs SET status = $1 WHERE id = $2`
		_, err := r.pool.Exec(ctx, query, status, runID)
		return err
	}
	_, err := r.pool.Exec(ctx, query, status, time.Now(), runID)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	return nil
}

var metricColumns = []string{
	"run_id", "query_key", "warehouse_name", "query_text", "query_id", "total_time_ms",
	"compilation_time_ms", "execution_time_ms", "result_fetch_time_ms",
	"read_bytes", "rows_produced_count", "result_from_cache",
}

// PersistMetrics inserts a run's query metrics and marks the run as completed
// within a single transaction. It verifies the write by counting the rows
// stored for the run before committing.
func (r *Repository) PersistMetrics(ctx context.Context, runID string, m *RunMetrics) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	n, err := tx.CopyFrom(ctx, pgx.Identifier{"query_metrics"}, metricColumns,
		pgx.CopyFromSlice(len(m.Queries), func(i int) ([]any, error) {
			q := m.Queries[i]
			return []any{
				runID, q.QueryKey, q.WarehouseName, q.Query, q.QueryID, q.TotalTimeMs,
				q.CompilationTimeMs, q.ExecutionTimeMs, q.ResultFetchTimeMs,
				q.ReadBytes, q.RowsProducedCount, q.ResultFromCache,
			}, nil
		}))
	if err != nil {
		return fmt.Errorf("insert metrics: %w", err)
	}

	// Verify the write by reading it back.
	var stored int64
	err = tx.QueryRow(ctx,
		`SELECT count(*) FROM query_metrics WHERE run_id = $1`, runID,
	).Scan(&stored)
	if err != nil {
		return fmt.Errorf("verify metrics write: %w", err)
	}
	if stored != n {
		return fmt.Errorf("metrics verification failed: expected %d rows for run %s, got %d", n, runID, stored)
	}

	_, err = tx.Exec(ctx,
		`UPDATE benchmark_runs
		 SET status = 'completed', completed_at = $1, warehouse_id = $2,
		     provisioned = $3, peak_clusters = $4, avg_clusters = $5
		 WHERE id = $6`,
		time.Now(), m.WarehouseID, m.Provisioned, m.PeakClusters, m.AvgClusters, runID,
	)
	if err != nil {
		return fmt.Errorf("update run to completed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

const runColumns = `id, warehouse_name, warehouse_id, warehouse_type, warehouse_size,
	benchmark_choice, concurrency, repetitions, results_cache_enabled, provisioned,
	status, peak_clusters, avg_clusters, started_at, completed_at, created_at`

func scanRun(row pgx.Row, run *BenchmarkRun) error {
	return row.Scan(&run.ID, &run.WarehouseName, &run.WarehouseID, &run.WarehouseType, &run.WarehouseSize,
		&run.Choice, &run.Concurrency, &run.Repetitions, &run.ResultsCache, &run.Provisioned,
		&run.Status, &run.PeakClusters, &run.AvgClusters, &run.StartedAt, &run.CompletedAt, &run.CreatedAt)
}

// GetBenchmarkRun returns a benchmark run by ID, or nil if not found.
func (r *Repository) GetBenchmarkRun(ctx context.Context, runID string) (*BenchmarkRun, error) {
	var run BenchmarkRun
	err := scanRun(r.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM benchmark_runs WHERE id = $1`, runID), &run)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query benchmark run: %w", err)
	}
	return &run, nil
}

// GetMetricsByRunID returns a run's query metrics in insertion order.
func (r *Repository) GetMetricsByRunID(ctx context.Context, runID string) ([]QueryMetric, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT run_id, query_key, warehouse_name, query_text, query_id, total_time_ms,
		        compilation_time_ms, execution_time_ms, result_fetch_time_ms,
		        read_bytes, rows_produced_count, result_from_cache, created_at
		 FROM query_metrics WHERE run_id = $1 ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	var out []QueryMetric
	for rows.Next() {
		var q QueryMetric
		if err := rows.Scan(&q.RunID, &q.QueryKey, &q.WarehouseName, &q.Query, &q.QueryID, &q.TotalTimeMs,
			&q.CompilationTimeMs, &q.ExecutionTimeMs, &q.ResultFetchTimeMs,
			&q.ReadBytes, &q.RowsProducedCount, &q.ResultFromCache, &q.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan metric row: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}
