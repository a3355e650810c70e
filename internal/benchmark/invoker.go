package benchmark

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/whbench/whbench/internal/config"
	"github.com/whbench/whbench/internal/database"
	"github.com/whbench/whbench/internal/engine"
	"github.com/whbench/whbench/internal/logging"
	"github.com/whbench/whbench/internal/metrics"
	"github.com/whbench/whbench/internal/warehouse"
)

const (
	defaultStopTimeout    = 2 * time.Minute
	defaultSessionTimeout = 30 * time.Minute
)

// Control is the warehouse lifecycle surface a run drives.
type Control interface {
	WarehouseGetter
	Create(ctx context.Context, req warehouse.CreateRequest) (string, error)
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	WaitRunning(ctx context.Context, id string) (*warehouse.Warehouse, error)
}

// Executor runs a query set on an open session.
type Executor interface {
	Execute(ctx context.Context, sess engine.Session, spec engine.Spec) (engine.Result, error)
}

// Deps are the collaborators an Invoker needs. Repo is optional.
type Deps struct {
	Control  Control
	Resolver warehouse.NameResolver
	Executor Executor
	Open     engine.Opener
	Repo     database.Repo
}

// ResultPair is one run's engine output plus its joined metrics table.
type ResultPair struct {
	RunID       string                `json:"run_id"`
	Variant     config.Variant        `json:"variant"`
	WarehouseID string                `json:"warehouse_id"`
	Created     bool                  `json:"created"`
	Engine      engine.Result         `json:"-"`
	Combined    []metrics.CombinedRow `json:"combined"`
	Clusters    *ClusterStats         `json:"clusters,omitempty"`
	StartedAt   time.Time             `json:"started_at"`
	CompletedAt time.Time             `json:"completed_at"`
}

// Invoker runs one benchmark against one warehouse variant.
type Invoker struct {
	cfg     config.Benchmark
	queries []engine.Query
	deps    Deps
	log     *zap.Logger

	monitorInterval time.Duration
	stopTimeout     time.Duration
}

// NewInvoker creates an Invoker for the given configuration and query set.
func NewInvoker(cfg config.Benchmark, queries []engine.Query, deps Deps, log *zap.Logger) *Invoker {
	return &Invoker{
		cfg:             cfg,
		queries:         queries,
		deps:            deps,
		log:             log,
		monitorInterval: defaultMonitorInterval,
		stopTimeout:     defaultStopTimeout,
	}
}

// Run selects or provisions the variant's warehouse, starts it, executes the
// query set and reshapes the metrics. The warehouse is stopped and the
// session closed on every exit path.
func (i *Invoker) Run(ctx context.Context, v config.Variant) (ResultPair, error) {
	runID := uuid.NewString()
	log := i.log.With(logging.RunID(runID), zap.String("warehouse", v.Name))
	out := ResultPair{RunID: runID, Variant: v, StartedAt: time.Now()}

	if err := i.recordStart(ctx, runID, v); err != nil {
		return out, err
	}

	target, err := warehouse.Select(ctx, i.deps.Resolver, i.cfg, v, log)
	if err != nil {
		i.markFailed(runID, log)
		return out, fmt.Errorf("select warehouse %q: %w", v.Name, err)
	}

	id := target.WarehouseID
	if target.NeedsCreate() {
		log.Info("creating warehouse", zap.String("size", string(v.Size)), zap.Int("max_clusters", i.cfg.MaxClusters))
		id, err = i.deps.Control.Create(ctx, target.NewWarehouse.CreateRequest())
		if err != nil {
			i.markFailed(runID, log)
			return out, fmt.Errorf("create warehouse %q: %w", v.Name, err)
		}
		out.Created = true
	}
	out.WarehouseID = id

	// Ensure teardown happens regardless of outcome.
	defer i.teardown(id, log)

	if !out.Created {
		log.Info("starting warehouse", zap.String("id", id))
		if err := i.deps.Control.Start(ctx, id); err != nil {
			i.markFailed(runID, log)
			return out, fmt.Errorf("start warehouse %s: %w", id, err)
		}
	}
	if _, err := i.deps.Control.WaitRunning(ctx, id); err != nil {
		i.markFailed(runID, log)
		return out, fmt.Errorf("wait for warehouse %s: %w", id, err)
	}

	sess, err := i.deps.Open(ctx, engine.SessionConfig{
		Hostname:     i.cfg.Hostname(),
		HTTPPath:     warehouse.HTTPPath(id),
		Token:        i.cfg.Token,
		Catalog:      i.cfg.Catalog,
		Schema:       i.cfg.Schema,
		ResultsCache: i.cfg.ResultsCache,
		Concurrency:  i.cfg.Concurrency,
		Timeout:      defaultSessionTimeout,
	})
	if err != nil {
		i.markFailed(runID, log)
		return out, fmt.Errorf("open session: %w", err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.Warn("close session", zap.Error(err))
		}
	}()

	mon := NewClusterMonitor(i.deps.Control, id, i.monitorInterval, log)
	mon.Start(ctx)

	log.Info("executing queries",
		zap.Int("queries", len(i.queries)),
		zap.Int("concurrency", i.cfg.Concurrency),
		zap.Int("repetitions", i.cfg.Repetitions))
	res, err := i.deps.Executor.Execute(ctx, sess, engine.Spec{
		WarehouseID:   id,
		WarehouseName: v.Name,
		Hostname:      i.cfg.Hostname(),
		Queries:       i.queries,
		Concurrency:   i.cfg.Concurrency,
		Repetitions:   i.cfg.Repetitions,
	})
	out.Clusters = mon.Stop()
	if err != nil {
		i.markFailed(runID, log)
		return out, fmt.Errorf("execute benchmark on %q: %w", v.Name, err)
	}
	out.Engine = res

	combined, err := metrics.Reshape(res)
	if err != nil {
		i.markFailed(runID, log)
		return out, fmt.Errorf("reshape metrics for %q: %w", v.Name, err)
	}
	out.Combined = combined
	out.CompletedAt = time.Now()

	if err := i.persist(ctx, out); err != nil {
		i.markFailed(runID, log)
		return out, err
	}

	log.Info("benchmark complete",
		zap.Int("rows", len(combined)),
		zap.Duration("elapsed", out.CompletedAt.Sub(out.StartedAt)))
	return out, nil
}

func (i *Invoker) recordStart(ctx context.Context, runID string, v config.Variant) error {
	if i.deps.Repo == nil {
		return nil
	}
	_, err := i.deps.Repo.CreateBenchmarkRun(ctx, &database.BenchmarkRun{
		ID:            runID,
		WarehouseName: v.Name,
		WarehouseType: string(v.Type),
		WarehouseSize: string(v.Size),
		Choice:        string(i.cfg.Choice),
		Concurrency:   i.cfg.Concurrency,
		Repetitions:   i.cfg.Repetitions,
		ResultsCache:  i.cfg.ResultsCache,
		Status:        database.StatusPending,
	})
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	if err := i.deps.Repo.UpdateRunStatus(ctx, runID, database.StatusRunning); err != nil {
		return fmt.Errorf("update status to running: %w", err)
	}
	return nil
}

func (i *Invoker) persist(ctx context.Context, r ResultPair) error {
	if i.deps.Repo == nil {
		return nil
	}
	rm := &database.RunMetrics{
		WarehouseID: r.WarehouseID,
		Provisioned: r.Created,
		Queries:     QueryMetrics(r.Combined),
	}
	if r.Clusters != nil {
		peak, avg := r.Clusters.Peak, r.Clusters.Avg
		rm.PeakClusters, rm.AvgClusters = &peak, &avg
	}
	if err := i.deps.Repo.PersistMetrics(ctx, r.RunID, rm); err != nil {
		return fmt.Errorf("persist metrics: %w", err)
	}
	return nil
}

// teardown stops the warehouse with a fresh context so a cancelled run
// still releases it.
func (i *Invoker) teardown(id string, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), i.stopTimeout)
	defer cancel()
	if err := i.deps.Control.Stop(ctx, id); err != nil {
		log.Error("stop warehouse", zap.String("id", id), zap.Error(err))
		return
	}
	log.Info("warehouse stopped", zap.String("id", id))
}

func (i *Invoker) markFailed(runID string, log *zap.Logger) {
	if i.deps.Repo == nil {
		return
	}
	if err := i.deps.Repo.UpdateRunStatus(context.Background(), runID, database.StatusFailed); err != nil {
		log.Error("mark run failed", zap.Error(err))
	}
}

// QueryMetrics converts combined rows to their stored form.
func QueryMetrics(rows []metrics.CombinedRow) []database.QueryMetric {
	out := make([]database.QueryMetric, len(rows))
	for n, r := range rows {
		out[n] = database.QueryMetric{
			QueryKey:          r.ID,
			WarehouseName:     r.WarehouseName,
			Query:             r.Query,
			QueryID:           r.QueryID,
			TotalTimeMs:       r.TotalTimeMs,
			CompilationTimeMs: r.CompilationTimeMs,
			ExecutionTimeMs:   r.ExecutionTimeMs,
			ResultFetchTimeMs: r.ResultFetchTimeMs,
			ReadBytes:         r.ReadBytes,
			RowsProducedCount: r.RowsProducedCount,
			ResultFromCache:   r.ResultFromCache,
		}
	}
	return out
}

// CombinedRows converts stored metrics back to combined rows.
func CombinedRows(stored []database.QueryMetric) []metrics.CombinedRow {
	out := make([]metrics.CombinedRow, len(stored))
	for n, q := range stored {
		out[n] = metrics.CombinedRow{
			ID:            q.QueryKey,
			WarehouseName: q.WarehouseName,
			Query:         q.Query,
			QueryID:       q.QueryID,
			TotalTimeMs:   q.TotalTimeMs,
			Detail: metrics.Detail{
				CompilationTimeMs: q.CompilationTimeMs,
				ExecutionTimeMs:   q.ExecutionTimeMs,
				ResultFetchTimeMs: q.ResultFetchTimeMs,
				ReadBytes:         q.ReadBytes,
				RowsProducedCount: q.RowsProducedCount,
				ResultFromCache:   q.ResultFromCache,
			},
		}
	}
	return out
}
