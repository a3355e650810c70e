package cmd

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/whbench/whbench/cmd/cli/format"
	"github.com/whbench/whbench/internal/warehouse"
)

var warehousesCmd = &cobra.Command{
	Use:     "warehouses",
	Aliases: []string{"wh"},
	Short:   "Inspect SQL warehouses in the workspace",
}

var warehousesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List SQL warehouses",
	RunE:  runWarehousesList,
}

var warehousesResolveCmd = &cobra.Command{
	Use:   "resolve <name>",
	Short: "Print the ID of the warehouse with an exact name",
	Long: `Resolve a warehouse name the same way a benchmark run does: the first
warehouse whose name matches exactly wins.

Examples:
  whbench warehouses resolve "whbench serverless Small"`,
	Args: cobra.ExactArgs(1),
	RunE: runWarehousesResolve,
}

func init() {
	warehousesCmd.AddCommand(warehousesListCmd, warehousesResolveCmd)
	RootCmd.AddCommand(warehousesCmd)
}

func runWarehousesList(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	cfg, err := loadBenchmark(ctx)
	if err != nil {
		return err
	}
	list, err := newWarehouseClient(cfg).List(ctx)
	if err != nil {
		return err
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].Name < list[j].Name })

	w := cmd.OutOrStdout()
	if len(list) == 0 && getFormat() == format.FormatTable {
		fmt.Fprintln(w, "No warehouses found.")
		return nil
	}
	if list == nil {
		list = []warehouse.Warehouse{}
	}

	headers := []string{"ID", "Name", "State", "Size", "Type", "Serverless", "Clusters", "Max Clusters"}
	rows := make([][]string, len(list))
	for i, wh := range list {
		rows[i] = []string{
			wh.ID,
			wh.Name,
			wh.State,
			wh.ClusterSize,
			wh.WarehouseType,
			strconv.FormatBool(wh.EnableServerlessCompute),
			strconv.Itoa(wh.NumClusters),
			strconv.Itoa(wh.MaxNumClusters),
		}
	}
	return format.Write(w, getFormat(), headers, rows, list)
}

func runWarehousesResolve(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	cfg, err := loadBenchmark(ctx)
	if err != nil {
		return err
	}
	id, found, err := warehouse.NewResolver(newWarehouseClient(cfg), logger).Resolve(ctx, args[0])
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no warehouse named %q", args[0])
	}

	w := cmd.OutOrStdout()
	switch f := getFormat(); f {
	case format.FormatJSON, format.FormatYAML:
		return format.Write(w, f, nil, nil, map[string]string{
			"name":      args[0],
			"id":        id,
			"http_path": warehouse.HTTPPath(id),
		})
	default:
		fmt.Fprintln(w, id)
		return nil
	}
}
