package series

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"isstrack/pkg/model"
)

// ChartOptions controls chart rendering.
type ChartOptions struct {
	// AssetsHost overrides where the echarts javascript is loaded from. Empty uses the library default.
	AssetsHost string
	Theme      string
}

// RenderCharts writes an HTML page with the altitude and velocity charts of w.
func RenderCharts(out io.Writer, w *model.TrendWindow, o ChartOptions) error {
	if o.Theme == "" {
		o.Theme = "dark"
	}
	page := components.NewPage()
	page.PageTitle = "ISS trend"
	if o.AssetsHost != "" {
		page.SetAssetsHost(o.AssetsHost)
	}
	page.AddCharts(
		lineChart(Altitude(w), w, o, "#60a5fa"),
		lineChart(Velocity(w), w, o, "#f59e0b"),
	)
	if err := page.Render(out); err != nil {
		return fmt.Errorf("failed to render charts: %w", err)
	}
	return nil
}

func lineChart(s Series, w *model.TrendWindow, o ChartOptions, color string) *charts.Line {
	hours := 0
	if w != nil {
		hours = w.Hours
	}
	init := opts.Initialization{Theme: o.Theme, Width: "900px", Height: "320px"}
	if o.AssetsHost != "" {
		init.AssetsHost = o.AssetsHost
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(init),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("%s (%s)", s.Name, s.Unit),
			Subtitle: fmt.Sprintf("last %dh, %d samples", hours, len(s.Points)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "UTC"}),
		charts.WithYAxisOpts(opts.YAxis{Name: s.Unit, Scale: opts.Bool(true)}),
	)

	data := make([]opts.LineData, 0, len(s.Points))
	for _, v := range s.Values() {
		data = append(data, opts.LineData{Value: v})
	}
	line.SetXAxis(s.Labels()).AddSeries(s.Name, data,
		charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true), ShowSymbol: opts.Bool(false)}),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: color}),
	)
	return line
}
