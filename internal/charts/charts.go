// Package charts renders PNG snapshots attached to alarm notifications.
package charts

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"github.com/edisonibujes/CriptoIQ/internal/fetcher"
	"github.com/edisonibujes/CriptoIQ/internal/indicator"
)

// ErrTooFewPoints is returned when a series cannot be drawn.
var ErrTooFewPoints = errors.New("not enough points to draw a chart")

// DefaultEMAPeriods are the averages drawn on the EMA chart.
var DefaultEMAPeriods = []int{20, 50, 100, 200}

// Options set the image size.
type Options struct {
	Width  int
	Height int
}

func (o Options) withDefaults() Options {
	if o.Width <= 0 {
		o.Width = 1280
	}
	if o.Height <= 0 {
		o.Height = 720
	}
	return o
}

// RenderEMA draws the close price with the given EMA overlays.
// Averages with fewer than two defined points are left out.
func RenderEMA(w io.Writer, series fetcher.Series, periods []int, opts Options) error {
	opts = opts.withDefaults()
	times := series.Times()
	closes := series.Closes()

	x, y := defined(times, closes)
	if len(x) < 2 {
		return fmt.Errorf("render %s: %w", series.Ticker, ErrTooFewPoints)
	}

	plots := []chart.Series{
		chart.TimeSeries{Name: "Close", XValues: x, YValues: y},
	}
	for _, p := range periods {
		ex, ey := defined(times, indicator.EMA(closes, p))
		if len(ex) < 2 {
			continue
		}
		plots = append(plots, chart.TimeSeries{Name: fmt.Sprintf("EMA %d", p), XValues: ex, YValues: ey})
	}

	graph := chart.Chart{
		Title:  fmt.Sprintf("%s %s", series.Ticker, series.Interval),
		Width:  opts.Width,
		Height: opts.Height,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price",
			ValueFormatter: priceFormatter,
		},
		Series: plots,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}
	return graph.Render(chart.PNG, w)
}

// RenderDivergence draws the swing price with the divergence leg and the
// RSI on the secondary axis.
func RenderDivergence(w io.Writer, series fetcher.Series, prices, rsi []float64, div indicator.Divergence, opts Options) error {
	opts = opts.withDefaults()
	times := series.Times()
	if len(prices) != len(times) || len(rsi) != len(times) {
		return fmt.Errorf("render %s: price, rsi and time lengths differ", series.Ticker)
	}
	if div.Index1 < 0 || div.Index2 >= len(times) || div.Index1 >= div.Index2 {
		return fmt.Errorf("render %s: divergence indices out of range", series.Ticker)
	}

	px, py := defined(times, prices)
	rx, ry := defined(times, rsi)
	if len(px) < 2 || len(rx) < 2 {
		return fmt.Errorf("render %s: %w", series.Ticker, ErrTooFewPoints)
	}

	graph := chart.Chart{
		Title:  fmt.Sprintf("%s %s %s divergence", series.Ticker, series.Interval, div.Direction),
		Width:  opts.Width,
		Height: opts.Height,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price",
			ValueFormatter: priceFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name: "RSI",
			Range: &chart.ContinuousRange{
				Min: 0,
				Max: 100,
			},
		},
		Series: []chart.Series{
			chart.TimeSeries{Name: "Price", XValues: px, YValues: py},
			chart.TimeSeries{
				Name:    "Price swing",
				XValues: []time.Time{times[div.Index1], times[div.Index2]},
				YValues: []float64{div.Price1, div.Price2},
				Style: chart.Style{
					StrokeColor: chart.ColorRed,
					StrokeWidth: 3,
				},
			},
			chart.TimeSeries{Name: "RSI", XValues: rx, YValues: ry, YAxis: chart.YAxisSecondary},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}
	return graph.Render(chart.PNG, w)
}

// EMAPNG renders the EMA chart into memory.
func EMAPNG(series fetcher.Series, periods []int, opts Options) ([]byte, error) {
	var buf bytes.Buffer
	if err := RenderEMA(&buf, series, periods, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DivergencePNG renders the divergence chart into memory.
func DivergencePNG(series fetcher.Series, prices, rsi []float64, div indicator.Divergence, opts Options) ([]byte, error) {
	var buf bytes.Buffer
	if err := RenderDivergence(&buf, series, prices, rsi, div, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteFile renders the EMA chart to path, creating parent directories.
func WriteFile(path string, series fetcher.Series, periods []int, opts Options) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := RenderEMA(file, series, periods, opts); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func priceFormatter(v interface{}) string {
	return chart.FloatValueFormatterWithFormat(v, "%.4f")
}

func defined(times []time.Time, values []float64) ([]time.Time, []float64) {
	n := min(len(times), len(values))
	x := make([]time.Time, 0, n)
	y := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		if math.IsNaN(values[i]) || math.IsInf(values[i], 0) {
			continue
		}
		x = append(x, times[i])
		y = append(y, values[i])
	}
	return x, y
}
