package benchmark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/whbench/whbench/internal/config"
	"github.com/whbench/whbench/internal/database"
	"github.com/whbench/whbench/internal/engine"
	"github.com/whbench/whbench/internal/warehouse"
)

type fakeControl struct {
	mu        sync.Mutex
	created   []warehouse.CreateRequest
	started   []string
	stopped   []string
	stopErr   error // ctx error observed by Stop
	waitErr   error
	clusters  int
	createErr error
}

func (c *fakeControl) Get(_ context.Context, id string) (*warehouse.Warehouse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &warehouse.Warehouse{ID: id, State: warehouse.StateRunning, NumClusters: c.clusters}, nil
}

func (c *fakeControl) Create(_ context.Context, req warehouse.CreateRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.createErr != nil {
		return "", c.createErr
	}
	c.created = append(c.created, req)
	return fmt.Sprintf("new-%d", len(c.created)), nil
}

func (c *fakeControl) Start(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = append(c.started, id)
	return nil
}

func (c *fakeControl) Stop(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = append(c.stopped, id)
	c.stopErr = ctx.Err()
	return nil
}

func (c *fakeControl) WaitRunning(ctx context.Context, id string) (*warehouse.Warehouse, error) {
	if c.waitErr != nil {
		return nil, c.waitErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &warehouse.Warehouse{ID: id, State: warehouse.StateRunning}, nil
}

type stubResolver struct {
	ids map[string]string
	err error
}

func (r stubResolver) Resolve(_ context.Context, name string) (string, bool, error) {
	if r.err != nil {
		return "", false, r.err
	}
	id, ok := r.ids[name]
	return id, ok, nil
}

type fakeSession struct{ closed bool }

func (s *fakeSession) Exec(context.Context, string) (int64, error) { return 1, nil }

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

// fakeExecutor reports one query per spec with a matching history record.
type fakeExecutor struct {
	err   error
	specs []engine.Spec
}

func (e *fakeExecutor) Execute(_ context.Context, _ engine.Session, spec engine.Spec) (engine.Result, error) {
	e.specs = append(e.specs, spec)
	if e.err != nil {
		return engine.Result{}, e.err
	}
	rec := engine.QueryRecord{ID: "q1", WarehouseName: spec.WarehouseName, Query: "select 1", Repetition: 1}
	hist := json.RawMessage(fmt.Sprintf(
		`{"query_id":"h-%s","query_text":"select 1","status":"FINISHED","warehouse_id":%q,"metrics":{"total_time_ms":100,"execution_time_ms":80}}`,
		spec.WarehouseID, spec.WarehouseID))
	return engine.Result{Records: []engine.QueryRecord{rec}, History: []json.RawMessage{hist}}, nil
}

func testConfig() config.Benchmark {
	return config.Benchmark{
		Host:          "https://example.cloud.databricks.com",
		Token:         "dapi-test",
		Choice:        config.OneWarehouse,
		Prefix:        "demo",
		Type:          config.Serverless,
		Sizes:         []config.WarehouseSize{config.SizeSmall},
		Catalog:       "samples",
		Schema:        "tpch",
		Repetitions:   1,
		Concurrency:   2,
		MaxClusters:   4,
		OnLookupError: config.LookupFail,
	}
}

type harness struct {
	control  *fakeControl
	exec     *fakeExecutor
	sessions []*fakeSession
	opened   []engine.SessionConfig
	repo     *database.MockRepo
}

func newHarness(t *testing.T, r warehouse.NameResolver) (*harness, *Invoker) {
	t.Helper()
	h := &harness{control: &fakeControl{clusters: 2}, exec: &fakeExecutor{}, repo: database.NewMockRepo()}
	open := func(_ context.Context, cfg engine.SessionConfig) (engine.Session, error) {
		s := &fakeSession{}
		h.sessions = append(h.sessions, s)
		h.opened = append(h.opened, cfg)
		return s, nil
	}
	inv := NewInvoker(testConfig(), []engine.Query{{ID: "q1", Text: "select 1"}}, Deps{
		Control:  h.control,
		Resolver: r,
		Executor: h.exec,
		Open:     open,
		Repo:     h.repo,
	}, zap.NewNop())
	inv.monitorInterval = time.Millisecond
	return h, inv
}

func variant() config.Variant {
	return config.Variant{Type: config.Serverless, Size: config.SizeSmall, Name: "demo serverless Small"}
}

func TestRun_ExistingWarehouse(t *testing.T) {
	h, inv := newHarness(t, stubResolver{ids: map[string]string{"demo serverless Small": "abc123"}})

	res, err := inv.Run(context.Background(), variant())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Created {
		t.Error("existing warehouse should not be marked created")
	}
	if len(h.control.created) != 0 {
		t.Errorf("unexpected create calls: %d", len(h.control.created))
	}
	if len(h.control.started) != 1 || h.control.started[0] != "abc123" {
		t.Errorf("started = %v, want [abc123]", h.control.started)
	}
	if len(h.control.stopped) != 1 || h.control.stopped[0] != "abc123" {
		t.Errorf("stopped = %v, want [abc123]", h.control.stopped)
	}
	if h.opened[0].HTTPPath != "/sql/1.0/warehouses/abc123" {
		t.Errorf("http path = %s", h.opened[0].HTTPPath)
	}
	if h.opened[0].Hostname != "example.cloud.databricks.com" {
		t.Errorf("hostname = %s", h.opened[0].Hostname)
	}
	if !h.sessions[0].closed {
		t.Error("session not closed")
	}
	if len(res.Combined) != 1 || res.Combined[0].TotalTimeMs != 100 {
		t.Fatalf("combined = %+v", res.Combined)
	}
	if res.RunID == "" {
		t.Error("missing run id")
	}
	if got := h.repo.GetRunStatus(res.RunID); got != database.StatusCompleted {
		t.Errorf("stored status = %s, want completed", got)
	}
	stored, _ := h.repo.GetMetricsByRunID(context.Background(), res.RunID)
	if len(stored) != 1 || stored[0].ExecutionTimeMs == nil || *stored[0].ExecutionTimeMs != 80 {
		t.Errorf("stored metrics = %+v", stored)
	}
}

func TestRun_CreatesMissingWarehouse(t *testing.T) {
	h, inv := newHarness(t, stubResolver{})

	res, err := inv.Run(context.Background(), variant())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Created || res.WarehouseID != "new-1" {
		t.Errorf("result = created %v id %s", res.Created, res.WarehouseID)
	}
	if len(h.control.created) != 1 {
		t.Fatalf("expected 1 create call, got %d", len(h.control.created))
	}
	req := h.control.created[0]
	if req.Name != "demo serverless Small" || req.MaxNumClusters != 4 || req.ClusterSize != "Small" {
		t.Errorf("create request = %+v", req)
	}
	if len(h.control.started) != 0 {
		t.Error("new warehouse should not be started separately")
	}
	if len(h.control.stopped) != 1 || h.control.stopped[0] != "new-1" {
		t.Errorf("stopped = %v", h.control.stopped)
	}
}

func TestRun_ExecutionFailureTearsDown(t *testing.T) {
	h, inv := newHarness(t, stubResolver{ids: map[string]string{"demo serverless Small": "abc123"}})
	h.exec.err = errors.New("statement failed")

	res, err := inv.Run(context.Background(), variant())
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, h.exec.err) {
		t.Errorf("error %v does not wrap the execution failure", err)
	}
	if len(h.control.stopped) != 1 {
		t.Errorf("warehouse not stopped after failure")
	}
	if !h.sessions[0].closed {
		t.Error("session not closed after failure")
	}
	if got := h.repo.GetRunStatus(res.RunID); got != database.StatusFailed {
		t.Errorf("stored status = %s, want failed", got)
	}
}

func TestRun_CancelledStillStops(t *testing.T) {
	h, inv := newHarness(t, stubResolver{ids: map[string]string{"demo serverless Small": "abc123"}})
	ctx, cancel := context.WithCancel(context.Background())
	h.control.waitErr = context.Canceled
	cancel()

	if _, err := inv.Run(ctx, variant()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(h.control.stopped) != 1 {
		t.Fatal("warehouse not stopped after cancellation")
	}
	if h.control.stopErr != nil {
		t.Errorf("stop ran with a dead context: %v", h.control.stopErr)
	}
}

func TestRun_LookupFailure(t *testing.T) {
	lookupErr := errors.New("503 unavailable")
	h, inv := newHarness(t, stubResolver{err: lookupErr})

	if _, err := inv.Run(context.Background(), variant()); !errors.Is(err, lookupErr) {
		t.Fatalf("expected lookup error, got %v", err)
	}
	if len(h.control.created) != 0 || len(h.control.stopped) != 0 {
		t.Error("no warehouse should be touched when lookup fails")
	}
}

func TestRun_CreateFailure(t *testing.T) {
	h, inv := newHarness(t, stubResolver{})
	h.control.createErr = errors.New("quota exceeded")

	if _, err := inv.Run(context.Background(), variant()); !errors.Is(err, h.control.createErr) {
		t.Fatalf("expected create error, got %v", err)
	}
	if len(h.control.stopped) != 0 {
		t.Error("stop should not be sent when nothing was created")
	}
}

func TestRun_PersistFailure(t *testing.T) {
	h, inv := newHarness(t, stubResolver{ids: map[string]string{"demo serverless Small": "abc123"}})
	h.repo.FailPersist = errors.New("connection reset")

	res, err := inv.Run(context.Background(), variant())
	if !errors.Is(err, h.repo.FailPersist) {
		t.Fatalf("expected persist error, got %v", err)
	}
	if got := h.repo.GetRunStatus(res.RunID); got != database.StatusFailed {
		t.Errorf("stored status = %s, want failed", got)
	}
}

func TestRun_WithoutStore(t *testing.T) {
	h, inv := newHarness(t, stubResolver{ids: map[string]string{"demo serverless Small": "abc123"}})
	inv.deps.Repo = nil

	res, err := inv.Run(context.Background(), variant())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Combined) != 1 {
		t.Errorf("expected 1 combined row, got %d", len(res.Combined))
	}
	if runs, _ := h.repo.ListRuns(context.Background(), database.RunFilter{}); runs != nil {
		t.Error("nothing should be stored without a repo")
	}
}

func TestQueryMetricsRoundTrip(t *testing.T) {
	exec := 12.5
	_, inv := newHarness(t, stubResolver{ids: map[string]string{"demo serverless Small": "abc123"}})
	res, err := inv.Run(context.Background(), variant())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	res.Combined[0].ExecutionTimeMs = &exec

	back := CombinedRows(QueryMetrics(res.Combined))
	if back[0].ID != "q1" || back[0].QueryID != res.Combined[0].QueryID {
		t.Errorf("round trip lost keys: %+v", back[0])
	}
	if back[0].ExecutionTimeMs == nil || *back[0].ExecutionTimeMs != exec {
		t.Errorf("round trip lost execution time")
	}
}
