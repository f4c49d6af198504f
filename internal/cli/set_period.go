package cli

import (
	"github.com/spf13/cobra"

	"price-history/internal/app"
)

var (
	periodChannel string
	periodDays    int
	periodPublish bool
)

var setPeriodCmd = &cobra.Command{
	Use:   "set-period",
	Short: "Change a channel's checking period and recompute its items",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.SetPeriodOptions{
			Channel: periodChannel,
			Days:    periodDays,
			Publish: periodPublish,
		}
		return getApp().SetPeriod(cmd.Context(), opts)
	},
}

func init() {
	setPeriodCmd.Flags().StringVar(&periodChannel, "channel", "", "Channel code")
	setPeriodCmd.Flags().IntVar(&periodDays, "days", 0, "Checking period in days (defaults to pricing.default_checking_period_days)")
	setPeriodCmd.Flags().BoolVar(&periodPublish, "publish", false, "Let a running service recompute instead of recomputing here")
	_ = setPeriodCmd.MarkFlagRequired("channel")
}
