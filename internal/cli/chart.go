package cli

import (
	"github.com/spf13/cobra"

	"github.com/edisonibujes/CriptoIQ/internal/app"
)

var (
	chartInterval string
	chartLimit    int
	chartOutput   string
)

var chartCmd = &cobra.Command{
	Use:   "chart <symbol>",
	Short: "Render close price with EMA 20/50/100/200 to a PNG file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Chart(cmd.Context(), app.ChartOptions{
			Symbol:   args[0],
			Interval: chartInterval,
			Limit:    chartLimit,
			Output:   chartOutput,
		})
	},
}

func init() {
	chartCmd.Flags().StringVar(&chartInterval, "interval", "1h", "Candle interval")
	chartCmd.Flags().IntVar(&chartLimit, "limit", 0, "Number of candles (defaults to config)")
	chartCmd.Flags().StringVar(&chartOutput, "out", "ema.png", "Path to write the PNG chart")
}
