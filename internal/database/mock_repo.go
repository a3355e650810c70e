package database

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MockRepo is an in-memory implementation of Repo for testing.
type MockRepo struct {
	mu      sync.Mutex
	runs    map[string]*BenchmarkRun // keyed by run ID
	order   map[string]int           // insertion sequence, for newest-first listing
	metrics map[string][]QueryMetric // keyed by run ID
	nextID  int

	// FailPersist makes PersistMetrics return this error when set.
	FailPersist error
}

// NewMockRepo creates a new MockRepo.
func NewMockRepo() *MockRepo {
	return &MockRepo{
		runs:    make(map[string]*BenchmarkRun),
		order:   make(map[string]int),
		metrics: make(map[string][]QueryMetric),
	}
}

// GetRunStatus returns the current status of a run (for test assertions).
func (m *MockRepo) GetRunStatus(runID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.runs[runID]; ok {
		return r.Status
	}
	return ""
}

func (m *MockRepo) EnsureSchema(context.Context) error { return nil }

func (m *MockRepo) CreateBenchmarkRun(_ context.Context, run *BenchmarkRun) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	if run.ID == "" {
		run.ID = fmt.Sprintf("run-%08d", m.nextID)
	}
	if _, dup := m.runs[run.ID]; dup {
		return "", fmt.Errorf("run %s already exists", run.ID)
	}
	run.CreatedAt = time.Now()
	m.runs[run.ID] = run
	m.order[run.ID] = m.nextID
	return run.ID, nil
}

func (m *MockRepo) UpdateRunStatus(_ context.Context, runID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return fmt.Errorf("run %s not found", runID)
	}
	run.Status = status
	now := time.Now()
	switch status {
	case StatusRunning:
		run.StartedAt = &now
	case StatusCompleted, StatusFailed:
		run.CompletedAt = &now
	}
	return nil
}

func (m *MockRepo) PersistMetrics(_ context.Context, runID string, rm *RunMetrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPersist != nil {
		return m.FailPersist
	}
	run, ok := m.runs[runID]
	if !ok {
		return fmt.Errorf("run %s not found", runID)
	}
	now := time.Now()
	rows := make([]QueryMetric, len(rm.Queries))
	for i, q := range rm.Queries {
		q.RunID = runID
		q.CreatedAt = now
		rows[i] = q
	}
	m.metrics[runID] = rows
	id := rm.WarehouseID
	run.WarehouseID = &id
	run.Provisioned = rm.Provisioned
	run.PeakClusters = rm.PeakClusters
	run.AvgClusters = rm.AvgClusters
	run.Status = StatusCompleted
	run.CompletedAt = &now
	return nil
}

func (m *MockRepo) GetBenchmarkRun(_ context.Context, runID string) (*BenchmarkRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[runID], nil
}

func (m *MockRepo) GetMetricsByRunID(_ context.Context, runID string) ([]QueryMetric, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.metrics[runID], nil
}

// ListRuns returns benchmark runs matching the given filter.
func (m *MockRepo) ListRuns(_ context.Context, f RunFilter) ([]BenchmarkRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var items []BenchmarkRun
	for _, run := range m.runs {
		if f.Status != "" && run.Status != f.Status {
			continue
		}
		if f.Warehouse != "" && !strings.Contains(
			strings.ToLower(run.WarehouseName),
			strings.ToLower(f.Warehouse),
		) {
			continue
		}
		items = append(items, *run)
	}
	sort.Slice(items, func(i, j int) bool {
		return m.order[items[i].ID] > m.order[items[j].ID]
	})

	if f.Offset > 0 {
		if f.Offset >= len(items) {
			return nil, nil
		}
		items = items[f.Offset:]
	}
	if limit := pageLimit(f.Limit); len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// DeleteRun removes a benchmark run and its metrics from the mock store.
func (m *MockRepo) DeleteRun(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.metrics, runID)
	delete(m.runs, runID)
	delete(m.order, runID)
	return nil
}

var _ Repo = (*MockRepo)(nil)
