package benchmark

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/whbench/whbench/internal/warehouse"
)

const defaultMonitorInterval = 15 * time.Second

// ClusterStats summarizes the cluster counts observed during a run.
type ClusterStats struct {
	Peak    int     `json:"peak_clusters"`
	Avg     float64 `json:"avg_clusters"`
	Samples int     `json:"samples"`
}

// WarehouseGetter reads the current warehouse resource.
type WarehouseGetter interface {
	Get(ctx context.Context, id string) (*warehouse.Warehouse, error)
}

// ClusterMonitor periodically samples a warehouse's num_clusters while a
// benchmark executes, so autoscaling under concurrency can be reported.
type ClusterMonitor struct {
	getter   WarehouseGetter
	id       string
	interval time.Duration
	log      *zap.Logger

	mu      sync.Mutex
	samples []int
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewClusterMonitor creates a monitor for warehouse id.
func NewClusterMonitor(g WarehouseGetter, id string, interval time.Duration, log *zap.Logger) *ClusterMonitor {
	if interval <= 0 {
		interval = defaultMonitorInterval
	}
	return &ClusterMonitor{
		getter:   g,
		id:       id,
		interval: interval,
		log:      log,
		done:     make(chan struct{}),
	}
}

// Start begins sampling in a background goroutine. It is safe to call
// Start only once.
func (m *ClusterMonitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	go m.loop(ctx)
}

// Stop stops the monitor and returns the aggregated stats, or nil if no
// samples were collected.
func (m *ClusterMonitor) Stop() *ClusterStats {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.samples) == 0 {
		return nil
	}
	var sum, peak int
	for _, n := range m.samples {
		sum += n
		peak = max(peak, n)
	}
	return &ClusterStats{
		Peak:    peak,
		Avg:     float64(sum) / float64(len(m.samples)),
		Samples: len(m.samples),
	}
}

func (m *ClusterMonitor) loop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	// Sample immediately on start.
	m.sample(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample(ctx)
		}
	}
}

func (m *ClusterMonitor) sample(ctx context.Context) {
	wh, err := m.getter.Get(ctx, m.id)
	if err != nil {
		if ctx.Err() == nil {
			m.log.Debug("cluster sample failed", zap.Error(err))
		}
		return
	}
	m.mu.Lock()
	m.samples = append(m.samples, wh.NumClusters)
	m.mu.Unlock()
}
