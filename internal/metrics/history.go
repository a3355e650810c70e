package metrics

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrMetricsShape is wrapped by every ShapeError.
var ErrMetricsShape = errors.New("malformed query history metrics")

// ShapeError describes a history record that does not match the expected
// schema.
type ShapeError struct {
	Index   int
	QueryID string
	Field   string
	Reason  string
}

func (e *ShapeError) Error() string {
	loc := fmt.Sprintf("record %d", e.Index)
	if e.QueryID != "" {
		loc += fmt.Sprintf(" (query %s)", e.QueryID)
	}
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s: %s", ErrMetricsShape, loc, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrMetricsShape, loc, e.Reason)
}

func (e *ShapeError) Unwrap() error { return ErrMetricsShape }

// QueryID accepts either a JSON string or a JSON number.
type QueryID string

func (q *QueryID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*q = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*q = QueryID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("query_id must be a string or number: %w", err)
	}
	*q = QueryID(n.String())
	return nil
}

// Detail holds the optional per-query metrics the warehouse reports.
type Detail struct {
	CompilationTimeMs *float64 `json:"compilation_time_ms,omitempty" yaml:"compilation_time_ms,omitempty"`
	ExecutionTimeMs   *float64 `json:"execution_time_ms,omitempty" yaml:"execution_time_ms,omitempty"`
	ResultFetchTimeMs *float64 `json:"result_fetch_time_ms,omitempty" yaml:"result_fetch_time_ms,omitempty"`
	PhotonTotalTimeMs *float64 `json:"photon_total_time_ms,omitempty" yaml:"photon_total_time_ms,omitempty"`
	TaskTotalTimeMs   *float64 `json:"task_total_time_ms,omitempty" yaml:"task_total_time_ms,omitempty"`
	ReadBytes         *int64   `json:"read_bytes,omitempty" yaml:"read_bytes,omitempty"`
	ReadRemoteBytes   *int64   `json:"read_remote_bytes,omitempty" yaml:"read_remote_bytes,omitempty"`
	ReadCacheBytes    *int64   `json:"read_cache_bytes,omitempty" yaml:"read_cache_bytes,omitempty"`
	SpillToDiskBytes  *int64   `json:"spill_to_disk_bytes,omitempty" yaml:"spill_to_disk_bytes,omitempty"`
	NetworkSentBytes  *int64   `json:"network_sent_bytes,omitempty" yaml:"network_sent_bytes,omitempty"`
	RowsProducedCount *int64   `json:"rows_produced_count,omitempty" yaml:"rows_produced_count,omitempty"`
	RowsReadCount     *int64   `json:"rows_read_count,omitempty" yaml:"rows_read_count,omitempty"`
	ReadFilesCount    *int64   `json:"read_files_count,omitempty" yaml:"read_files_count,omitempty"`
	PrunedFilesCount  *int64   `json:"pruned_files_count,omitempty" yaml:"pruned_files_count,omitempty"`
	ResultFromCache   *bool    `json:"result_from_cache,omitempty" yaml:"result_from_cache,omitempty"`
}

// HistoryMetrics is the nested metrics object of a history record.
type HistoryMetrics struct {
	TotalTimeMs *float64 `json:"total_time_ms"`
	Detail
}

// HistoryRecord is one query history entry.
type HistoryRecord struct {
	QueryID     QueryID         `json:"query_id"`
	QueryText   string          `json:"query_text"`
	Status      string          `json:"status"`
	WarehouseID string          `json:"warehouse_id"`
	StartTimeMs int64           `json:"query_start_time_ms"`
	Metrics     *HistoryMetrics `json:"metrics"`
}

const statusFinished = "FINISHED"

// ParseHistory decodes and validates raw history records. Records carrying
// a status other than FINISHED are skipped since they have no complete
// timing. Every remaining record must have query text and a non-negative
// total_time_ms; the first violation is returned as a *ShapeError.
func ParseHistory(raw []json.RawMessage) ([]HistoryRecord, error) {
	out := make([]HistoryRecord, 0, len(raw))
	for i, data := range raw {
		var rec HistoryRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, &ShapeError{Index: i, Reason: err.Error()}
		}
		if rec.Status != "" && rec.Status != statusFinished {
			continue
		}
		if err := validate(i, rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func validate(i int, rec HistoryRecord) error {
	shapeErr := func(field, reason string) error {
		return &ShapeError{Index: i, QueryID: string(rec.QueryID), Field: field, Reason: reason}
	}
	switch {
	case rec.QueryText == "":
		return shapeErr("query_text", "missing")
	case rec.Metrics == nil:
		return shapeErr("metrics", "missing")
	case rec.Metrics.TotalTimeMs == nil:
		return shapeErr("metrics.total_time_ms", "missing")
	case *rec.Metrics.TotalTimeMs < 0 || math.IsNaN(*rec.Metrics.TotalTimeMs):
		return shapeErr("metrics.total_time_ms", fmt.Sprintf("invalid value %v", *rec.Metrics.TotalTimeMs))
	}
	return nil
}
