package metrics

import (
	"math"
	"sort"
)

// WarehouseSummary is the total_time_ms distribution of every joined row of
// one warehouse.
type WarehouseSummary struct {
	WarehouseName string   `json:"warehouse_name" yaml:"warehouse_name"`
	Queries       int      `json:"queries" yaml:"queries"`
	MeanMs        float64  `json:"mean_ms" yaml:"mean_ms"`
	StddevMs      float64  `json:"stddev_ms" yaml:"stddev_ms"`
	MinMs         float64  `json:"min_ms" yaml:"min_ms"`
	MaxMs         float64  `json:"max_ms" yaml:"max_ms"`
	P50Ms         *float64 `json:"p50_ms,omitempty" yaml:"p50_ms,omitempty"`
	P90Ms         *float64 `json:"p90_ms,omitempty" yaml:"p90_ms,omitempty"`
	P95Ms         *float64 `json:"p95_ms,omitempty" yaml:"p95_ms,omitempty"`
	P99Ms         *float64 `json:"p99_ms,omitempty" yaml:"p99_ms,omitempty"`
	CacheHits     int      `json:"cache_hits" yaml:"cache_hits"`
}

// Summarize computes one summary per warehouse, ordered by warehouse name.
func Summarize(rows []CombinedRow) []WarehouseSummary {
	byWarehouse := make(map[string][]CombinedRow)
	for _, r := range rows {
		byWarehouse[r.WarehouseName] = append(byWarehouse[r.WarehouseName], r)
	}
	names := make([]string, 0, len(byWarehouse))
	for name := range byWarehouse {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]WarehouseSummary, 0, len(names))
	for _, name := range names {
		group := byWarehouse[name]
		vals := make([]float64, len(group))
		var hits int
		for i, r := range group {
			vals[i] = r.TotalTimeMs
			if r.ResultFromCache != nil && *r.ResultFromCache {
				hits++
			}
		}
		p50, p90, p95, p99 := percentiles(vals)
		lo, hi := minMax(vals)
		out = append(out, WarehouseSummary{
			WarehouseName: name,
			Queries:       len(vals),
			MeanMs:        mean(vals),
			StddevMs:      stddev(vals),
			MinMs:         lo,
			MaxMs:         hi,
			P50Ms:         p50,
			P90Ms:         p90,
			P95Ms:         p95,
			P99Ms:         p99,
			CacheHits:     hits,
		})
	}
	return out
}

// percentiles computes p50, p90, p95, p99 from a slice of float64 values.
// Returns nil pointers if the slice is empty.
func percentiles(vals []float64) (p50, p90, p95, p99 *float64) {
	if len(vals) == 0 {
		return nil, nil, nil, nil
	}
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)

	p50v := percentile(sorted, 50)
	p90v := percentile(sorted, 90)
	p95v := percentile(sorted, 95)
	p99v := percentile(sorted, 99)
	return &p50v, &p90v, &p95v, &p99v
}

// percentile computes the p-th percentile from a sorted slice using
// the nearest-rank method.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := (p / 100.0) * float64(len(sorted))
	idx := int(math.Ceil(rank)) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// stddev is the population standard deviation.
func stddev(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	m := mean(vals)
	var sq float64
	for _, v := range vals {
		sq += (v - m) * (v - m)
	}
	return math.Sqrt(sq / float64(len(vals)))
}

func minMax(vals []float64) (lo, hi float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	lo, hi = vals[0], vals[0]
	for _, v := range vals[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}
