package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/whbench/whbench/cmd/cli/format"
	"github.com/whbench/whbench/internal/benchmark"
	"github.com/whbench/whbench/internal/database"
	"github.com/whbench/whbench/internal/export"
	"github.com/whbench/whbench/internal/logging"
	"github.com/whbench/whbench/internal/metrics"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Browse benchmark runs kept in the results store",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored benchmark runs, newest first",
	Long: `List stored benchmark runs, newest first.

Examples:
  whbench runs list --status completed
  whbench runs list --warehouse serverless --limit 10 -o json`,
	RunE: runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run with its per-query metrics",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete a run and its metrics",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsDelete,
}

var (
	runsStatus    string
	runsWarehouse string
	runsLimit     int
	runsOffset    int
)

func init() {
	runsListCmd.Flags().StringVar(&runsStatus, "status", "", "Filter by status: pending, running, completed, failed")
	runsListCmd.Flags().StringVar(&runsWarehouse, "warehouse", "", "Filter by warehouse name (substring, case-insensitive)")
	runsListCmd.Flags().IntVar(&runsLimit, "limit", 50, "Maximum runs to return (1-200)")
	runsListCmd.Flags().IntVar(&runsOffset, "offset", 0, "Runs to skip")
	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsDeleteCmd)
	RootCmd.AddCommand(runsCmd)
}

func runRunsList(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	repo, closeStore, err := requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	runs, err := repo.ListRuns(ctx, database.RunFilter{
		Status:    runsStatus,
		Warehouse: runsWarehouse,
		Limit:     runsLimit,
		Offset:    runsOffset,
	})
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	f := getFormat()
	if len(runs) == 0 && f == format.FormatTable {
		fmt.Fprintln(w, "No runs found.")
		return nil
	}
	if runs == nil {
		runs = []database.BenchmarkRun{}
	}

	headers := []string{"ID", "Warehouse", "Type", "Size", "Status", "Concurrency", "Repetitions", "Created"}
	rows := make([][]string, len(runs))
	for i, r := range runs {
		id := r.ID
		if f == format.FormatTable {
			id = logging.Short(id)
		}
		rows[i] = []string{
			id,
			r.WarehouseName,
			r.WarehouseType,
			r.WarehouseSize,
			r.Status,
			strconv.Itoa(r.Concurrency),
			strconv.Itoa(r.Repetitions),
			r.CreatedAt.Format(time.RFC3339),
		}
	}
	return format.Write(w, f, headers, rows, runs)
}

// runDetail is a stored run with its metrics.
type runDetail struct {
	Run     *database.BenchmarkRun     `json:"run" yaml:"run"`
	Summary []metrics.WarehouseSummary `json:"summary" yaml:"summary"`
	Metrics []metrics.CombinedRow      `json:"metrics" yaml:"metrics"`
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	repo, closeStore, err := requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	run, err := repo.GetBenchmarkRun(ctx, args[0])
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run %s not found", args[0])
	}
	stored, err := repo.GetMetricsByRunID(ctx, run.ID)
	if err != nil {
		return err
	}
	rows := benchmark.CombinedRows(stored)
	detail := runDetail{Run: run, Summary: metrics.Summarize(rows), Metrics: rows}

	w := cmd.OutOrStdout()
	switch f := getFormat(); f {
	case format.FormatJSON, format.FormatYAML:
		return format.Write(w, f, nil, nil, detail)
	case format.FormatCSV:
		return format.CSV(w, export.CombinedHeaders, export.CombinedRecords(rows))
	}

	fmt.Fprintf(w, "Run:          %s\n", run.ID)
	fmt.Fprintf(w, "Warehouse:    %s (%s %s)\n", run.WarehouseName, run.WarehouseType, run.WarehouseSize)
	fmt.Fprintf(w, "Warehouse ID: %s\n", format.Ptr(run.WarehouseID, "%s"))
	fmt.Fprintf(w, "Status:       %s\n", run.Status)
	fmt.Fprintf(w, "Provisioned:  %t\n", run.Provisioned)
	fmt.Fprintf(w, "Concurrency:  %d x %d repetitions\n", run.Concurrency, run.Repetitions)
	fmt.Fprintf(w, "Clusters:     peak %s, avg %s\n", format.Ptr(run.PeakClusters, "%d"), format.PtrF64(run.AvgClusters, 2))
	if run.StartedAt != nil && run.CompletedAt != nil {
		fmt.Fprintf(w, "Duration:     %s\n", run.CompletedAt.Sub(*run.StartedAt).Round(time.Second))
	}
	if len(rows) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	if err := format.Write(w, format.FormatTable, summaryHeaders, summaryRows(detail.Summary), nil); err != nil {
		return err
	}
	fmt.Fprintln(w)
	format.TableTo(w, export.CombinedHeaders, export.CombinedRecords(rows))
	return nil
}

func runRunsDelete(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	repo, closeStore, err := requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	run, err := repo.GetBenchmarkRun(ctx, args[0])
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run %s not found", args[0])
	}
	if run.Status == database.StatusRunning || run.Status == database.StatusPending {
		return fmt.Errorf("run %s is %s", run.ID, run.Status)
	}
	if err := repo.DeleteRun(ctx, run.ID); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", run.ID)
	return nil
}
