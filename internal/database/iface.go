package database

import "context"

// Repo defines the interface for benchmark result storage.
// The concrete *Repository satisfies this interface. Use this interface
// as a dependency in consumers to enable testing with mocks.
type Repo interface {
	EnsureSchema(ctx context.Context) error
	CreateBenchmarkRun(ctx context.Context, run *BenchmarkRun) (string, error)
	UpdateRunStatus(ctx context.Context, runID, status string) error
	PersistMetrics(ctx context.Context, runID string, m *RunMetrics) error
	GetBenchmarkRun(ctx context.Context, runID string) (*BenchmarkRun, error)
	GetMetricsByRunID(ctx context.Context, runID string) ([]QueryMetric, error)
	ListRuns(ctx context.Context, f RunFilter) ([]BenchmarkRun, error)
	DeleteRun(ctx context.Context, runID string) error
}

// Compile-time check that *Repository implements Repo.
var _ Repo = (*Repository)(nil)
