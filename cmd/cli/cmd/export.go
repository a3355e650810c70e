package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/whbench/whbench/cmd/cli/format"
	"github.com/whbench/whbench/internal/benchmark"
	"github.com/whbench/whbench/internal/config"
	"github.com/whbench/whbench/internal/export"
	"github.com/whbench/whbench/internal/metrics"
)

var exportCmd = &cobra.Command{
	Use:   "export <run-id>...",
	Short: "Export the combined metrics of stored runs",
	Long: `Export the combined metrics table of one or more stored runs in JSON,
YAML or CSV format. Several runs are concatenated in argument order.

By default exports to stdout. Use --file to write to a file, or --s3-uri to
upload the table and its chart.

Examples:
  whbench export 3f2c9a1e -o csv --file results.csv
  whbench export 3f2c9a1e 7b41d0c2 -o json > results.json
  whbench export 3f2c9a1e --s3-uri s3://bench-results/whbench`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExport,
}

var (
	exportFile  string
	exportS3URI string
)

func init() {
	exportCmd.Flags().StringVar(&exportFile, "file", "", "Output file path (default: stdout)")
	exportCmd.Flags().StringVar(&exportS3URI, "s3-uri", "", "Upload to s3://bucket/prefix instead of writing locally")
	RootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	repo, closeStore, err := requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	tables := make([][]metrics.CombinedRow, 0, len(args))
	for _, id := range args {
		run, err := repo.GetBenchmarkRun(ctx, id)
		if err != nil {
			return err
		}
		if run == nil {
			return fmt.Errorf("run %s not found", id)
		}
		stored, err := repo.GetMetricsByRunID(ctx, run.ID)
		if err != nil {
			return err
		}
		tables = append(tables, benchmark.CombinedRows(stored))
	}
	rows := metrics.Concat(tables...)

	if exportS3URI != "" {
		return uploadExport(cmd, args[0], rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(os.Stderr, "No results to export.")
		return nil
	}

	// Determine output destination.
	var out io.Writer = cmd.OutOrStdout()
	if exportFile != "" {
		f, err := os.Create(exportFile)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	switch f := getFormat(); f {
	case format.FormatCSV:
		return format.CSV(out, export.CombinedHeaders, export.CombinedRecords(rows))
	case format.FormatYAML:
		return format.YAMLTo(out, rows)
	default:
		// Default to JSON for export.
		return format.JSONTo(out, rows)
	}
}

func uploadExport(cmd *cobra.Command, runID string, rows []metrics.CombinedRow) error {
	ctx := commandContext(cmd)
	loc, err := export.ParseS3URI(exportS3URI)
	if err != nil {
		return err
	}
	loc.Prefix = loc.Key(runID)

	csvData, err := export.EncodeCSV(rows)
	if err != nil {
		return err
	}
	jsonData, err := export.EncodeJSON(rows)
	if err != nil {
		return err
	}
	client, err := newS3Client(ctx, v.GetString(config.KeyAWSRegion))
	if err != nil {
		return err
	}
	uris, err := export.NewS3Exporter(client, loc, logger).UploadAll(ctx, []export.Artifact{
		{Name: "combined.csv", ContentType: "text/csv", Body: csvData},
		{Name: "combined.json", ContentType: "application/json", Body: jsonData},
	})
	if err != nil {
		return err
	}
	for _, uri := range uris {
		fmt.Fprintln(cmd.OutOrStdout(), uri)
	}
	return nil
}
