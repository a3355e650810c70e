package cmd

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/whbench/whbench/internal/chart"
	"github.com/whbench/whbench/internal/export"
	"github.com/whbench/whbench/internal/metrics"
)

var chartCmd = &cobra.Command{
	Use:   "chart",
	Short: "Redraw the query chart from an exported combined table",
	Long: `Read a combined metrics table written by "whbench export" (JSON or YAML,
chosen by file extension) and draw mean total time per query and warehouse.

Examples:
  whbench chart --input results.json
  whbench chart --input results.yaml --html chart.html`,
	RunE: runChart,
}

var (
	chartInput string
	chartHTML  string
)

func init() {
	chartCmd.Flags().StringVar(&chartInput, "input", "", "Exported combined table (.json, .yaml or .yml)")
	chartCmd.Flags().StringVar(&chartHTML, "html", "", "Write an HTML chart to this path instead of drawing text")
	_ = chartCmd.MarkFlagRequired("input")
	RootCmd.AddCommand(chartCmd)
}

func runChart(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(chartInput)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	rows, err := export.DecodeCombined(chartInput, data)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("%s has no rows", chartInput)
	}
	means := metrics.Aggregate(rows)

	if chartHTML == "" {
		return chart.RenderText(cmd.OutOrStdout(), means)
	}
	var buf bytes.Buffer
	if err := chart.RenderHTML(&buf, means); err != nil {
		return err
	}
	if err := os.WriteFile(chartHTML, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write chart: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Chart written to %s\n", chartHTML)
	return nil
}
