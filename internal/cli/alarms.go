package cli

import (
	"github.com/spf13/cobra"

	"github.com/edisonibujes/CriptoIQ/internal/app"
)

var alarmsOwner string

var alarmsCmd = &cobra.Command{
	Use:   "alarms",
	Short: "Manage stored alarms",
}

var alarmsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the owner's alarms",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ListAlarms(cmd.Context(), cmd.OutOrStdout(), app.AlarmCommandOptions{Owner: alarmsOwner})
	},
}

var alarmsAddCmd = &cobra.Command{
	Use:   "add <alarm|cross|volume|ema|divergence> <symbol> [args...]",
	Short: "Create or update an alarm",
	Example: `  criptoiq alarms add alarm btc 65000 --owner 42
  criptoiq alarms add ema sol 200 4h 0.5% --owner 42
  criptoiq alarms add divergence eth bearish 1h --owner 42`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().AlarmCommand(cmd.Context(), cmd.OutOrStdout(), app.AlarmCommandOptions{Owner: alarmsOwner}, args[0], args[1:])
	},
}

var alarmsRmCmd = &cobra.Command{
	Use:   "rm <alarm|cross|volume|ema|divergence> <symbol> [colour | period interval | direction interval]",
	Short: "Remove an alarm",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().AlarmCommand(cmd.Context(), cmd.OutOrStdout(), app.AlarmCommandOptions{Owner: alarmsOwner}, "delete", args)
	},
}

func init() {
	alarmsCmd.PersistentFlags().StringVar(&alarmsOwner, "owner", "", "Chat id that owns the alarms")
	_ = alarmsCmd.MarkPersistentFlagRequired("owner")

	alarmsCmd.AddCommand(alarmsListCmd)
	alarmsCmd.AddCommand(alarmsAddCmd)
	alarmsCmd.AddCommand(alarmsRmCmd)
}
