package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/edisonibujes/CriptoIQ/internal/alarm"
	"github.com/edisonibujes/CriptoIQ/internal/charts"
)

// Chart renders close and EMA 20/50/100/200 for a symbol to a PNG file.
func (a *App) Chart(ctx context.Context, opts ChartOptions) error {
	if opts.Symbol == "" || opts.Output == "" {
		return errors.New("symbol and --out are required")
	}
	if !alarm.ValidInterval(opts.Interval) {
		return fmt.Errorf("unsupported interval %q", opts.Interval)
	}
	if opts.Limit <= 0 {
		opts.Limit = a.Config.Charts.Candles
	}

	c, err := a.build(ctx, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	inst, err := c.resolver.Resolve(ctx, opts.Symbol)
	if err != nil {
		return err
	}
	series, err := c.market.Candles(ctx, inst, opts.Interval, opts.Limit)
	if err != nil {
		return err
	}

	if err := charts.WriteFile(opts.Output, series, charts.DefaultEMAPeriods, charts.Options{
		Width:  a.Config.Charts.Width,
		Height: a.Config.Charts.Height,
	}); err != nil {
		return fmt.Errorf("write chart: %w", err)
	}
	a.Logger.Info().Str("instrument", inst.Key()).Int("candles", len(series.Candles)).Str("out", opts.Output).Msg("chart written")
	return nil
}
