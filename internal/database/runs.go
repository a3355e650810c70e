package database

import (
	"context"
	"fmt"
	"strings"
)

// RunFilter holds optional filters for listing benchmark runs.
type RunFilter struct {
	Status    string // "pending", "running", "completed", "failed", or ""
	Warehouse string // ILIKE filter on warehouse_name
	Limit     int
	Offset    int
}

// ListRuns returns benchmark runs matching the given filter, newest first.
func (r *Repository) ListRuns(ctx context.Context, f RunFilter) ([]BenchmarkRun, error) {
	var (
		conditions []string
		args       []any
		argIdx     int
	)

	if f.Status != "" {
		argIdx++
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, f.Status)
	}
	if f.Warehouse != "" {
		argIdx++
		conditions = append(conditions, fmt.Sprintf("warehouse_name ILIKE $%d", argIdx))
		args = append(args, "%"+f.Warehouse+"%")
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	// Pagination.
	argIdx++
	limitClause := fmt.Sprintf("LIMIT $%d", argIdx)
	args = append(args, pageLimit(f.Limit))

	offsetClause := ""
	if f.Offset > 0 {
		argIdx++
		offsetClause = fmt.Sprintf("OFFSET $%d", argIdx)
		args = append(args, f.Offset)
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM benchmark_runs
		%s
		ORDER BY created_at DESC
		%s %s
	`, runColumns, where, limitClause, offsetClause)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var items []BenchmarkRun
	for rows.Next() {
		var item BenchmarkRun
		if err := scanRun(rows, &item); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func pageLimit(n int) int {
	if n > 0 && n <= 200 {
		return n
	}
	return 50
}

// DeleteRun removes a benchmark run and its associated metrics.
func (r *Repository) DeleteRun(ctx context.Context, runID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM query_metrics WHERE run_id = $1`, runID); err != nil {
		return fmt.Errorf("delete metrics: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM benchmark_runs WHERE id = $1`, runID); err != nil {
		return fmt.Errorf("delete run: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
