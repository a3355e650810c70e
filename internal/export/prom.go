package export

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/whbench/whbench/internal/metrics"
)

// SummaryGauges holds the per-warehouse gauges written for node_exporter's
// textfile collector.
type SummaryGauges struct {
	TotalTime *prometheus.GaugeVec
	Queries   *prometheus.GaugeVec
	CacheHits *prometheus.GaugeVec
}

// Register creates the gauges and registers them with r.
func (g *SummaryGauges) Register(r prometheus.Registerer) {
	g.TotalTime = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "whbench_query_total_time_ms",
		Help: "Query total_time_ms statistics per warehouse for the last benchmark",
	}, []string{"warehouse", "stat"})
	r.MustRegister(g.TotalTime)

	g.Queries = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "whbench_queries",
		Help: "Number of joined query executions per warehouse",
	}, []string{"warehouse"})
	r.MustRegister(g.Queries)

	g.CacheHits = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "whbench_result_cache_hits",
		Help: "Query executions served from the result cache",
	}, []string{"warehouse"})
	r.MustRegister(g.CacheHits)
}

// Observe sets the gauges from summaries. Percentiles that could not be
// computed are left unset.
func (g *SummaryGauges) Observe(summaries []metrics.WarehouseSummary) {
	for _, s := range summaries {
		set := func(stat string, v float64) {
			g.TotalTime.WithLabelValues(s.WarehouseName, stat).Set(v)
		}
		set("mean", s.MeanMs)
		set("stddev", s.StddevMs)
		set("min", s.MinMs)
		set("max", s.MaxMs)
		for stat, p := range map[string]*float64{"p50": s.P50Ms, "p90": s.P90Ms, "p95": s.P95Ms, "p99": s.P99Ms} {
			if p != nil {
				set(stat, *p)
			}
		}
		g.Queries.WithLabelValues(s.WarehouseName).Set(float64(s.Queries))
		g.CacheHits.WithLabelValues(s.WarehouseName).Set(float64(s.CacheHits))
	}
}

// WriteTextfile writes summaries to path in the Prometheus text format.
func WriteTextfile(path string, summaries []metrics.WarehouseSummary) error {
	reg := prometheus.NewRegistry()
	var g SummaryGauges
	g.Register(reg)
	g.Observe(summaries)
	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("write prometheus textfile: %w", err)
	}
	return nil
}
