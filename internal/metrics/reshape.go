package metrics

import (
	"fmt"
	"sort"

	"github.com/whbench/whbench/internal/engine"
)

// HistoryRow is a history record with its metrics promoted to top-level
// columns.
type HistoryRow struct {
	QueryID     string  `json:"query_id" yaml:"query_id"`
	QueryText   string  `json:"query_text" yaml:"query_text"`
	WarehouseID string  `json:"warehouse_id,omitempty" yaml:"warehouse_id,omitempty"`
	TotalTimeMs float64 `json:"total_time_ms" yaml:"total_time_ms"`
	Detail      `yaml:",inline"`
}

// CombinedRow joins one engine record with one history row for the same
// statement text.
type CombinedRow struct {
	ID            string  `json:"id" yaml:"id"`
	WarehouseName string  `json:"warehouse_name" yaml:"warehouse_name"`
	Query         string  `json:"query" yaml:"query"`
	QueryID       string  `json:"query_id" yaml:"query_id"`
	WarehouseID   string  `json:"warehouse_id,omitempty" yaml:"warehouse_id,omitempty"`
	TotalTimeMs   float64 `json:"total_time_ms" yaml:"total_time_ms"`
	Detail        `yaml:",inline"`
}

// GroupMean is the mean total time of one query on one warehouse.
type GroupMean struct {
	ID              string  `json:"id" yaml:"id"`
	WarehouseName   string  `json:"warehouse_name" yaml:"warehouse_name"`
	Count           int     `json:"count" yaml:"count"`
	MeanTotalTimeMs float64 `json:"mean_total_time_ms" yaml:"mean_total_time_ms"`
}

// Reshape turns one engine result into its combined table: history is
// validated and flattened, then joined with the engine's records.
func Reshape(res engine.Result) ([]CombinedRow, error) {
	records, err := ParseHistory(res.History)
	if err != nil {
		return nil, fmt.Errorf("reshape: %w", err)
	}
	return Join(res.Records, Flatten(records)), nil
}

// Flatten promotes each record's metrics to top-level columns alongside its
// query text and ID. Records must have passed ParseHistory.
func Flatten(records []HistoryRecord) []HistoryRow {
	rows := make([]HistoryRow, 0, len(records))
	for _, rec := range records {
		row := HistoryRow{
			QueryID:     string(rec.QueryID),
			QueryText:   rec.QueryText,
			WarehouseID: rec.WarehouseID,
		}
		if rec.Metrics != nil {
			if rec.Metrics.TotalTimeMs != nil {
				row.TotalTimeMs = *rec.Metrics.TotalTimeMs
			}
			row.Detail = rec.Metrics.Detail
		}
		rows = append(rows, row)
	}
	return rows
}

type recordKey struct {
	id, warehouse, query string
}

// Join deduplicates records on (id, warehouse name, query) and inner-joins
// them with history rows on query text. Rows without a partner on either
// side are dropped. Output follows record order, then history order.
func Join(records []engine.QueryRecord, rows []HistoryRow) []CombinedRow {
	byText := make(map[string][]HistoryRow)
	for _, r := range rows {
		byText[r.QueryText] = append(byText[r.QueryText], r)
	}

	seen := make(map[recordKey]bool)
	var out []CombinedRow
	for _, rec := range records {
		k := recordKey{rec.ID, rec.WarehouseName, rec.Query}
		if seen[k] {
			continue
		}
		seen[k] = true
		for _, h := range byText[rec.Query] {
			out = append(out, CombinedRow{
				ID:            rec.ID,
				WarehouseName: rec.WarehouseName,
				Query:         rec.Query,
				QueryID:       h.QueryID,
				WarehouseID:   h.WarehouseID,
				TotalTimeMs:   h.TotalTimeMs,
				Detail:        h.Detail,
			})
		}
	}
	return out
}

// Concat appends combined tables in order, keeping every row.
func Concat(tables ...[]CombinedRow) []CombinedRow {
	var n int
	for _, t := range tables {
		n += len(t)
	}
	out := make([]CombinedRow, 0, n)
	for _, t := range tables {
		out = append(out, t...)
	}
	return out
}

type groupKey struct {
	id, warehouse string
}

// Aggregate groups rows by (id, warehouse name) and averages total_time_ms.
// Groups are ordered by warehouse name, then by query id.
func Aggregate(rows []CombinedRow) []GroupMean {
	sums := make(map[groupKey][]float64)
	var keys []groupKey
	for _, r := range rows {
		k := groupKey{r.ID, r.WarehouseName}
		if _, ok := sums[k]; !ok {
			keys = append(keys, k)
		}
		sums[k] = append(sums[k], r.TotalTimeMs)
	}

	out := make([]GroupMean, 0, len(keys))
	for _, k := range keys {
		vals := sums[k]
		out = append(out, GroupMean{
			ID:              k.id,
			WarehouseName:   k.warehouse,
			Count:           len(vals),
			MeanTotalTimeMs: mean(vals),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].WarehouseName != out[j].WarehouseName {
			return out[i].WarehouseName < out[j].WarehouseName
		}
		return engine.CompareIDs(out[i].ID, out[j].ID) < 0
	})
	return out
}
