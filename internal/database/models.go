package database

import (
	"time"
)

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

type BenchmarkRun struct {
	ID            string     `json:"id"`
	WarehouseName string     `json:"warehouse_name"`
	WarehouseID   *string    `json:"warehouse_id,omitempty"`
	WarehouseType string     `json:"warehouse_type"`
	WarehouseSize string     `json:"warehouse_size"`
	Choice        string     `json:"benchmark_choice"`
	Concurrency   int        `json:"concurrency"`
	Repetitions   int        `json:"repetitions"`
	ResultsCache  bool       `json:"results_cache_enabled"`
	Provisioned   bool       `json:"provisioned"`
	Status        string     `json:"status"`
	PeakClusters  *int       `json:"peak_clusters,omitempty"`
	AvgClusters   *float64   `json:"avg_clusters,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// QueryMetric is one row of a run's combined metrics table.
type QueryMetric struct {
	RunID             string    `json:"run_id"`
	QueryKey          string    `json:"id"`
	WarehouseName     string    `json:"warehouse_name"`
	Query             string    `json:"query"`
	QueryID           string    `json:"query_id"`
	TotalTimeMs       float64   `json:"total_time_ms"`
	CompilationTimeMs *float64  `json:"compilation_time_ms,omitempty"`
	ExecutionTimeMs   *float64  `json:"execution_time_ms,omitempty"`
	ResultFetchTimeMs *float64  `json:"result_fetch_time_ms,omitempty"`
	ReadBytes         *int64    `json:"read_bytes,omitempty"`
	RowsProducedCount *int64    `json:"rows_produced_count,omitempty"`
	ResultFromCache   *bool     `json:"result_from_cache,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// RunMetrics is everything recorded when a run completes.
type RunMetrics struct {
	WarehouseID  string
	Provisioned  bool
	PeakClusters *int
	AvgClusters  *float64
	Queries      []QueryMetric
}
