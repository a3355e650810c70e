package chart

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/whbench/whbench/internal/engine"
	"github.com/whbench/whbench/internal/metrics"
)

const (
	Title      = "Query Metrics by Warehouse"
	XAxisTitle = "ID"
	YAxisTitle = "Total Time (ms)"

	textBarWidth = 40
)

// Series is one warehouse's bars, aligned with the chart's ids. A nil value
// marks a query the warehouse has no data for.
type Series struct {
	Name   string
	Values []*float64
}

// Build arranges group means into the x axis ids and one series per
// warehouse, both in stable order.
func Build(means []metrics.GroupMean) (ids []string, series []Series) {
	idSet := make(map[string]bool)
	byWarehouse := make(map[string]map[string]float64)
	for _, m := range means {
		if !idSet[m.ID] {
			idSet[m.ID] = true
			ids = append(ids, m.ID)
		}
		if byWarehouse[m.WarehouseName] == nil {
			byWarehouse[m.WarehouseName] = make(map[string]float64)
		}
		byWarehouse[m.WarehouseName][m.ID] = m.MeanTotalTimeMs
	}
	sort.SliceStable(ids, func(i, j int) bool { return engine.CompareIDs(ids[i], ids[j]) < 0 })

	names := make([]string, 0, len(byWarehouse))
	for name := range byWarehouse {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		s := Series{Name: name, Values: make([]*float64, len(ids))}
		for i, id := range ids {
			if v, ok := byWarehouse[name][id]; ok {
				s.Values[i] = &v
			}
		}
		series = append(series, s)
	}
	return ids, series
}

// RenderHTML writes a grouped bar chart page with one trace per warehouse.
func RenderHTML(w io.Writer, means []metrics.GroupMean) error {
	ids, series := Build(means)

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: Title, Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: Title}),
		charts.WithXAxisOpts(opts.XAxis{Name: XAxisTitle}),
		charts.WithYAxisOpts(opts.YAxis{Name: YAxisTitle}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
	)
	bar.SetXAxis(ids)
	for _, s := range series {
		data := make([]opts.BarData, len(s.Values))
		for i, v := range s.Values {
			if v == nil {
				// "-" is rendered as a gap.
				data[i] = opts.BarData{Name: ids[i], Value: "-"}
				continue
			}
			data[i] = opts.BarData{Name: ids[i], Value: math.Round(*v*100) / 100}
		}
		bar.AddSeries(s.Name, data)
	}
	if err := bar.Render(w); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}

// RenderText draws the same grouped bars for a terminal.
func RenderText(w io.Writer, means []metrics.GroupMean) error {
	ids, series := Build(means)
	var peak float64
	for _, s := range series {
		for _, v := range s.Values {
			if v != nil && *v > peak {
				peak = *v
			}
		}
	}

	fmt.Fprintln(w, Title)
	fmt.Fprintf(w, "%s by %s\n\n", YAxisTitle, XAxisTitle)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for idx, id := range ids {
		for j, s := range series {
			label := ""
			if j == 0 {
				label = id
			}
			v := s.Values[idx]
			if v == nil {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", label, s.Name, "-")
				continue
			}
			fmt.Fprintf(tw, "%s\t%s\t%s %.1f\n", label, s.Name, bar(*v, peak), *v)
		}
	}
	return tw.Flush()
}

func bar(v, peak float64) string {
	if peak <= 0 {
		return ""
	}
	n := int(math.Round(v / peak * textBarWidth))
	if n == 0 && v > 0 {
		n = 1
	}
	return strings.Repeat("#", n)
}
