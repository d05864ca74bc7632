package backtest

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorEquity        = "#3b82f6"
	colorBaseline      = "#9ca3af"

	chartWidthPx  = 1400
	chartHeightPx = 560
)

// writeEquityReport 把一次回放的净值曲线落成自包含 HTML，返回文件路径。
func writeEquityReport(dir string, stats RunStats, points []equityPoint) (string, error) {
	if len(points) == 0 {
		return "", fmt.Errorf("没有净值数据可绘制")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", chartWidthPx),
			Height:          fmt.Sprintf("%dpx", chartHeightPx),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:         fmt.Sprintf("%s 净值曲线", stats.Symbol),
			Subtitle:      fmt.Sprintf("PnL %.2f (%.2f%%) | 胜率 %.1f%% | 最大回撤 %.2f%%", stats.Profit, stats.ReturnPct*100, stats.WinRate*100, stats.MaxDrawdownPct*100),
			Left:          "left",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	line.SetSeriesOptions(
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)

	xAxis := make([]string, len(points))
	equity := make([]opts.LineData, len(points))
	baseline := make([]opts.LineData, len(points))
	for i, p := range points {
		xAxis[i] = time.UnixMilli(p.TS).UTC().Format("01-02 15:04")
		equity[i] = opts.LineData{Value: round(p.NetWorth, 2)}
		baseline[i] = opts.LineData{Value: round(stats.InitialBalance, 2)}
	}
	line.SetXAxis(xAxis)
	line.AddSeries("NetWorth", equity, charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}))
	line.AddSeries("Initial", baseline, charts.WithLineStyleOpts(opts.LineStyle{Color: colorBaseline, Width: 1, Type: "dashed"}))

	path := filepath.Join(dir, fmt.Sprintf("%s_%s.html", strings.ToLower(stats.Symbol), stats.RunID[:8]))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := line.Render(f); err != nil {
		return "", err
	}
	return path, nil
}

func round(val float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Round(val)
	}
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}
