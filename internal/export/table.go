package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/whbench/whbench/internal/metrics"
)

// CombinedHeaders are the CSV columns of a combined metrics table.
var CombinedHeaders = []string{
	"id", "warehouse_name", "query_id", "total_time_ms",
	"compilation_time_ms", "execution_time_ms", "result_fetch_time_ms",
	"read_bytes", "rows_produced_count", "result_from_cache", "query",
}

// CombinedRecords renders rows as string records aligned with CombinedHeaders.
// Missing optional metrics are left empty.
func CombinedRecords(rows []metrics.CombinedRow) [][]string {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = []string{
			r.ID,
			r.WarehouseName,
			r.QueryID,
			fmtFloat(&r.TotalTimeMs),
			fmtFloat(r.CompilationTimeMs),
			fmtFloat(r.ExecutionTimeMs),
			fmtFloat(r.ResultFetchTimeMs),
			fmtInt(r.ReadBytes),
			fmtInt(r.RowsProducedCount),
			fmtBool(r.ResultFromCache),
			r.Query,
		}
	}
	return out
}

// EncodeCSV renders a combined table as CSV with a header row.
func EncodeCSV(rows []metrics.CombinedRow) ([]byte, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write(CombinedHeaders); err != nil {
		return nil, err
	}
	if err := cw.WriteAll(CombinedRecords(rows)); err != nil {
		return nil, fmt.Errorf("encode csv: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeJSON renders a combined table as an indented JSON array.
func EncodeJSON(rows []metrics.CombinedRow) ([]byte, error) {
	if rows == nil {
		rows = []metrics.CombinedRow{}
	}
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return append(data, '\n'), nil
}

// DecodeCombined reads a combined table previously written as JSON or YAML.
// The format follows the file extension; anything other than .yaml or .yml
// is treated as JSON.
func DecodeCombined(name string, data []byte) ([]metrics.CombinedRow, error) {
	var rows []metrics.CombinedRow
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &rows); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
	default:
		if err := json.Unmarshal(data, &rows); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
	}
	return rows, nil
}

func fmtFloat(p *float64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatFloat(*p, 'f', -1, 64)
}

func fmtInt(p *int64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatInt(*p, 10)
}

func fmtBool(p *bool) string {
	if p == nil {
		return ""
	}
	return strconv.FormatBool(*p)
}
