package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/whbench/whbench/cmd/cli/format"
	"github.com/whbench/whbench/internal/benchmark"
	"github.com/whbench/whbench/internal/chart"
	"github.com/whbench/whbench/internal/config"
	"github.com/whbench/whbench/internal/database"
	"github.com/whbench/whbench/internal/engine"
	"github.com/whbench/whbench/internal/export"
	"github.com/whbench/whbench/internal/logging"
	"github.com/whbench/whbench/internal/metrics"
	"github.com/whbench/whbench/internal/orchestrator"
	"github.com/whbench/whbench/internal/warehouse"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the query benchmark against one or more warehouses",
	Long: `Resolve or create the configured warehouses, run the query set on each,
then print per-warehouse summaries and a chart of mean total time per query.

Examples:
  whbench run --type serverless --size Small --queries ./queries
  whbench run --choice multiple-warehouses --concurrency 4 --repetitions 3
  whbench run --choice multiple-warehouses-size --type pro --size Small,Medium,Large --chart-file chart.html`,
	RunE: runBenchmark,
}

// runFlags maps each run flag to its configuration key.
var runFlags = []struct {
	name, key, usage string
	def              any
}{
	{"choice", config.KeyBenchmarkChoice, "one-warehouse, multiple-warehouses or multiple-warehouses-size", string(config.OneWarehouse)},
	{"prefix", config.KeyWarehousePrefix, "Warehouse name prefix", "whbench"},
	{"type", config.KeyWarehouseType, "Warehouse type: serverless, pro, classic", string(config.Serverless)},
	{"size", config.KeyWarehouseSize, "Warehouse size, or a comma separated list for size variation", string(config.SizeSmall)},
	{"catalog", config.KeyCatalog, "Catalog queries run in", "samples"},
	{"schema", config.KeySchema, "Schema queries run in", "tpch"},
	{"queries", config.KeyQueryPath, "Query file or directory of .sql files", "queries"},
	{"repetitions", config.KeyRepetitions, "Times each query is executed", 1},
	{"concurrency", config.KeyConcurrency, "Statements in flight per warehouse", 1},
	{"max-clusters", config.KeyMaxClusters, "max_num_clusters for created warehouses", 1},
	{"results-cache", config.KeyResultsCache, "Allow the warehouse result cache", false},
	{"on-lookup-error", config.KeyOnLookupError, "fail or create when the warehouse lookup fails", string(config.LookupFail)},
	{"chart-file", config.KeyChartFile, "Write an HTML chart to this path", ""},
	{"s3-uri", config.KeyS3URI, "Upload results to s3://bucket/prefix", ""},
	{"prom-textfile", config.KeyPromTextfile, "Write summary gauges to this Prometheus textfile", ""},
	{"token-secret-id", config.KeyTokenSecretID, "Secrets Manager id holding the access token", ""},
	{"aws-region", config.KeyAWSRegion, "AWS region for Secrets Manager and S3", ""},
}

func init() {
	f := runCmd.Flags()
	for _, rf := range runFlags {
		switch d := rf.def.(type) {
		case string:
			f.String(rf.name, d, rf.usage)
		case int:
			f.Int(rf.name, d, rf.usage)
		case bool:
			f.Bool(rf.name, d, rf.usage)
		}
		_ = v.BindPFlag(rf.key, f.Lookup(rf.name))
	}
	RootCmd.AddCommand(runCmd)
}

// runReport is the structured output of a run.
type runReport struct {
	Runs      []runInfo                  `json:"runs" yaml:"runs"`
	Summaries []metrics.WarehouseSummary `json:"summaries" yaml:"summaries"`
	Means     []metrics.GroupMean        `json:"means" yaml:"means"`
}

type runInfo struct {
	RunID       string                  `json:"run_id" yaml:"run_id"`
	Warehouse   string                  `json:"warehouse" yaml:"warehouse"`
	WarehouseID string                  `json:"warehouse_id" yaml:"warehouse_id"`
	Created     bool                    `json:"created" yaml:"created"`
	Rows        int                     `json:"rows" yaml:"rows"`
	Clusters    *benchmark.ClusterStats `json:"clusters,omitempty" yaml:"clusters,omitempty"`
	Elapsed     string                  `json:"elapsed" yaml:"elapsed"`
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadBenchmark(ctx)
	if err != nil {
		return err
	}
	queries, err := engine.LoadQueries(cfg.QueryPath)
	if err != nil {
		return err
	}

	var repo database.Repo
	if cfg.StoreDSN != "" {
		r, closeStore, err := openStore(ctx, cfg.StoreDSN)
		if err != nil {
			return fmt.Errorf("open results store: %w", err)
		}
		defer closeStore()
		repo = r
	}

	client := newWarehouseClient(cfg)
	inv := benchmark.NewInvoker(cfg, queries, benchmark.Deps{
		Control:  client,
		Resolver: warehouse.NewResolver(client, logger),
		Executor: engine.NewRunner(client, logger),
		Open:     openSession,
		Repo:     repo,
	}, logger)

	variants := cfg.Variants()
	logger.Info("benchmark configured",
		zap.String("choice", string(cfg.Choice)),
		zap.Int("warehouses", len(variants)),
		zap.Int("queries", len(queries)))

	results, err := orchestrator.New(cfg.PoolSize(), logger).Run(ctx, variants, inv.Run)
	if err != nil {
		return err
	}

	combined := orchestrator.Combine(results)
	report := runReport{
		Summaries: metrics.Summarize(combined),
		Means:     metrics.Aggregate(combined),
	}
	for _, r := range results {
		report.Runs = append(report.Runs, runInfo{
			RunID:       r.RunID,
			Warehouse:   r.Variant.Name,
			WarehouseID: r.WarehouseID,
			Created:     r.Created,
			Rows:        len(r.Combined),
			Clusters:    r.Clusters,
			Elapsed:     r.CompletedAt.Sub(r.StartedAt).Round(time.Second).String(),
		})
	}

	if err := writeArtifacts(ctx, cfg, results, combined, report); err != nil {
		return err
	}
	return printReport(cmd.OutOrStdout(), report)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// writeArtifacts renders the chart file, the Prometheus textfile and the S3
// upload, each only when configured.
func writeArtifacts(ctx context.Context, cfg config.Benchmark, results []benchmark.ResultPair, combined []metrics.CombinedRow, report runReport) error {
	var html bytes.Buffer
	if cfg.ChartFile != "" || cfg.S3URI != "" {
		if err := chart.RenderHTML(&html, report.Means); err != nil {
			return err
		}
	}
	if cfg.ChartFile != "" {
		if err := os.WriteFile(cfg.ChartFile, html.Bytes(), 0o644); err != nil {
			return fmt.Errorf("write chart: %w", err)
		}
		logger.Info("chart written", zap.String("path", cfg.ChartFile))
	}
	if cfg.PromTextfile != "" {
		if err := export.WriteTextfile(cfg.PromTextfile, report.Summaries); err != nil {
			return err
		}
	}
	if cfg.S3URI == "" {
		return nil
	}

	loc, err := export.ParseS3URI(cfg.S3URI)
	if err != nil {
		return err
	}
	if len(results) > 0 {
		loc.Prefix = loc.Key(logging.Short(results[0].RunID))
	}
	csvData, err := export.EncodeCSV(combined)
	if err != nil {
		return err
	}
	jsonData, err := export.EncodeJSON(combined)
	if err != nil {
		return err
	}
	client, err := newS3Client(ctx, cfg.AWSRegion)
	if err != nil {
		return err
	}
	artifacts := []export.Artifact{
		{Name: "combined.csv", ContentType: "text/csv", Body: csvData},
		{Name: "combined.json", ContentType: "application/json", Body: jsonData},
		{Name: "chart.html", ContentType: "text/html", Body: html.Bytes()},
	}
	for _, r := range results {
		raw, err := export.RawArtifacts(logging.Short(r.RunID), r.Engine)
		if err != nil {
			return err
		}
		artifacts = append(artifacts, raw...)
	}
	_, err = export.NewS3Exporter(client, loc, logger).UploadAll(ctx, artifacts)
	return err
}

func printReport(w io.Writer, report runReport) error {
	f := getFormat()
	if f == format.FormatJSON || f == format.FormatYAML {
		return format.Write(w, f, nil, nil, report)
	}

	if f == format.FormatTable {
		runRows := make([][]string, len(report.Runs))
		for i, r := range report.Runs {
			peak := "-"
			if r.Clusters != nil {
				peak = strconv.Itoa(r.Clusters.Peak)
			}
			runRows[i] = []string{logging.Short(r.RunID), r.Warehouse, r.WarehouseID, strconv.FormatBool(r.Created), strconv.Itoa(r.Rows), peak, r.Elapsed}
		}
		format.TableTo(w, []string{"Run", "Warehouse", "ID", "Created", "Rows", "Peak Clusters", "Elapsed"}, runRows)
		fmt.Fprintln(w)
	}

	if err := format.Write(w, f, summaryHeaders, summaryRows(report.Summaries), nil); err != nil {
		return err
	}
	if f == format.FormatTable {
		fmt.Fprintln(w)
		return chart.RenderText(w, report.Means)
	}
	return nil
}

var summaryHeaders = []string{"Warehouse", "Queries", "Mean ms", "Stddev ms", "P50 ms", "P90 ms", "P95 ms", "P99 ms", "Cache Hits"}

func summaryRows(summaries []metrics.WarehouseSummary) [][]string {
	rows := make([][]string, len(summaries))
	for i, s := range summaries {
		rows[i] = []string{
			s.WarehouseName,
			strconv.Itoa(s.Queries),
			fmt.Sprintf("%.1f", s.MeanMs),
			fmt.Sprintf("%.1f", s.StddevMs),
			format.PtrF64(s.P50Ms, 1),
			format.PtrF64(s.P90Ms, 1),
			format.PtrF64(s.P95Ms, 1),
			format.PtrF64(s.P99Ms, 1),
			strconv.Itoa(s.CacheHits),
		}
	}
	return rows
}
