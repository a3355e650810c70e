package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/whbench/whbench/internal/warehouse"
)

const (
	historyPollInterval = 5 * time.Second
	historySettleTime   = 2 * time.Minute
	historyWindowSlack  = time.Second
)

var errHistoryIncomplete = errors.New("query history incomplete")

// HistorySource lists query history records for a warehouse.
type HistorySource interface {
	ListQueryHistory(ctx context.Context, f warehouse.HistoryFilter) ([]json.RawMessage, error)
}

// Spec describes one execution against an open session.
type Spec struct {
	WarehouseID   string
	WarehouseName string
	Hostname      string
	Queries       []Query
	Concurrency   int
	Repetitions   int
}

// QueryRecord is the engine's measurement of one statement execution.
type QueryRecord struct {
	ID            string    `json:"id"`
	Hostname      string    `json:"hostname"`
	WarehouseName string    `json:"warehouse_name"`
	Query         string    `json:"query"`
	Repetition    int       `json:"repetition"`
	Concurrency   int       `json:"concurrency"`
	Rows          int64     `json:"rows"`
	StartedAt     time.Time `json:"started_at"`
	ElapsedMs     float64   `json:"elapsed_ms"`
}

// Result pairs the engine's per-query records with the warehouse's query
// history for the same window.
type Result struct {
	Records   []QueryRecord
	History   []json.RawMessage
	StartedAt time.Time
	EndedAt   time.Time
}

// Runner executes query sets and gathers their history metrics.
type Runner struct {
	history      HistorySource
	log          *zap.Logger
	pollInterval time.Duration
	settleTime   time.Duration
}

// NewRunner creates a Runner reading history from h.
func NewRunner(h HistorySource, log *zap.Logger) *Runner {
	return &Runner{
		history:      h,
		log:          log,
		pollInterval: historyPollInterval,
		settleTime:   historySettleTime,
	}
}

// Execute runs every query spec.Repetitions times with spec.Concurrency
// statements in flight, then collects the warehouse's history records for
// the run window. The first failing statement cancels the rest.
func (r *Runner) Execute(ctx context.Context, sess Session, spec Spec) (Result, error) {
	if len(spec.Queries) == 0 {
		return Result{}, fmt.Errorf("execute: no queries")
	}
	concurrency := max(1, spec.Concurrency)
	repetitions := max(1, spec.Repetitions)

	type job struct {
		query Query
		rep   int
	}
	jobs := make([]job, 0, len(spec.Queries)*repetitions)
	for rep := 1; rep <= repetitions; rep++ {
		for _, q := range spec.Queries {
			jobs = append(jobs, job{query: q, rep: rep})
		}
	}

	records := make([]QueryRecord, len(jobs))
	started := time.Now()

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(concurrency)
	for i, j := range jobs {
		eg.Go(func() error {
			t0 := time.Now()
			rows, err := sess.Exec(egCtx, j.query.Text)
			if err != nil {
				return fmt.Errorf("query %s (repetition %d): %w", j.query.ID, j.rep, err)
			}
			records[i] = QueryRecord{
				ID:            j.query.ID,
				Hostname:      spec.Hostname,
				WarehouseName: spec.WarehouseName,
				Query:         j.query.Text,
				Repetition:    j.rep,
				Concurrency:   concurrency,
				Rows:          rows,
				StartedAt:     t0,
				ElapsedMs:     float64(time.Since(t0).Microseconds()) / 1000,
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return Result{}, err
	}
	ended := time.Now()

	r.log.Info("queries executed",
		zap.String("warehouse", spec.WarehouseName),
		zap.Int("statements", len(records)),
		zap.Duration("elapsed", ended.Sub(started)))

	history, err := r.collectHistory(ctx, spec, records, started, ended)
	if err != nil {
		return Result{}, err
	}
	return Result{Records: records, History: history, StartedAt: started, EndedAt: ended}, nil
}

// collectHistory polls query history until every executed statement shows
// up or the settle time runs out. History lags execution, so a short result
// after the deadline is logged and returned as is.
func (r *Runner) collectHistory(ctx context.Context, spec Spec, records []QueryRecord, started, ended time.Time) ([]json.RawMessage, error) {
	want := make(map[string]int)
	for _, rec := range records {
		want[rec.Query]++
	}
	filter := warehouse.HistoryFilter{
		WarehouseIDs: []string{spec.WarehouseID},
		StartTime:    started.Add(-historyWindowSlack),
		EndTime:      ended.Add(historyWindowSlack),
	}

	var last []json.RawMessage
	op := func() ([]json.RawMessage, error) {
		raw, err := r.history.ListQueryHistory(ctx, filter)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		last = raw
		if missing := countMissing(want, raw); missing > 0 {
			return nil, fmt.Errorf("%w: %d statements not yet recorded", errHistoryIncomplete, missing)
		}
		return raw, nil
	}
	history, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(r.pollInterval)),
		backoff.WithMaxElapsedTime(r.settleTime),
	)
	switch {
	case err == nil:
		return history, nil
	case errors.Is(err, errHistoryIncomplete):
		r.log.Warn("query history incomplete after settle time",
			zap.String("warehouse", spec.WarehouseName), zap.Error(err))
		return last, nil
	default:
		return nil, fmt.Errorf("collect query history: %w", err)
	}
}

func countMissing(want map[string]int, raw []json.RawMessage) int {
	seen := make(map[string]int, len(want))
	for _, rec := range raw {
		var r struct {
			QueryText string `json:"query_text"`
		}
		if json.Unmarshal(rec, &r) == nil {
			seen[r.QueryText]++
		}
	}
	missing := 0
	for text, n := range want {
		if seen[text] < n {
			missing += n - seen[text]
		}
	}
	return missing
}
