package export

import (
	"encoding/json"
	"fmt"
	"path"

	"github.com/whbench/whbench/internal/engine"
)

// RawArtifacts renders one run's statement records and its query history
// as they stood before the join, under raw/<run>/. History records the
// join drops, such as failed statements, are kept.
func RawArtifacts(run string, res engine.Result) ([]Artifact, error) {
	records := res.Records
	if records == nil {
		records = []engine.QueryRecord{}
	}
	history := res.History
	if history == nil {
		history = []json.RawMessage{}
	}

	recData, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode records: %w", err)
	}
	histData, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode history: %w", err)
	}
	dir := path.Join("raw", run)
	return []Artifact{
		{Name: path.Join(dir, "records.json"), ContentType: "application/json", Body: append(recData, '\n')},
		{Name: path.Join(dir, "history.json"), ContentType: "application/json", Body: append(histData, '\n')},
	}, nil
}
