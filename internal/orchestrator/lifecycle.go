package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/whbench/whbench/internal/benchmark"
	"github.com/whbench/whbench/internal/config"
	"github.com/whbench/whbench/internal/metrics"
)

// RunFunc executes one variant end to end, owning its warehouse.
type RunFunc func(ctx context.Context, v config.Variant) (benchmark.ResultPair, error)

// Orchestrator fans a benchmark out across warehouse variants.
type Orchestrator struct {
	pool int
	log  *zap.Logger
}

// New creates an Orchestrator running at most pool variants at once. A
// non-positive pool runs every variant concurrently.
func New(pool int, log *zap.Logger) *Orchestrator {
	return &Orchestrator{pool: pool, log: log}
}

// Run executes fn for every variant and blocks until all have finished.
// Results come back in submission order. A failing run never cancels its
// siblings; once all are done the failures are returned joined and no
// partial results are reported. Each variant must name a distinct
// warehouse, since a run owns its warehouse until it stops it.
func (o *Orchestrator) Run(ctx context.Context, variants []config.Variant, fn RunFunc) ([]benchmark.ResultPair, error) {
	if len(variants) == 0 {
		return nil, fmt.Errorf("orchestrate: no warehouse variants")
	}
	seen := make(map[string]bool, len(variants))
	for _, v := range variants {
		if seen[v.Name] {
			return nil, fmt.Errorf("orchestrate: warehouse %q appears more than once", v.Name)
		}
		seen[v.Name] = true
	}
	pool := o.pool
	if pool <= 0 || pool > len(variants) {
		pool = len(variants)
	}

	results := make([]benchmark.ResultPair, len(variants))
	errs := make([]error, len(variants))
	started := time.Now()

	o.log.Info("starting benchmark runs", zap.Int("variants", len(variants)), zap.Int("pool", pool))

	var g errgroup.Group
	g.SetLimit(pool)
	for i, v := range variants {
		g.Go(func() error {
			res, err := fn(ctx, v)
			if err != nil {
				o.log.Error("benchmark run failed", zap.String("warehouse", v.Name), zap.Error(err))
				errs[i] = fmt.Errorf("warehouse %q: %w", v.Name, err)
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	o.log.Info("benchmark runs complete", zap.Duration("elapsed", time.Since(started)))
	return results, nil
}

// Combine concatenates every run's combined table, keeping all rows.
func Combine(results []benchmark.ResultPair) []metrics.CombinedRow {
	tables := make([][]metrics.CombinedRow, len(results))
	for i, r := range results {
		tables[i] = r.Combined
	}
	return metrics.Concat(tables...)
}
