package cli

import (
	"github.com/spf13/cobra"
)

var recomputeChannel string

var recomputeCmd = &cobra.Command{
	Use:   "recompute",
	Short: "Recompute the lowest price before discount of every item in a channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Recompute(cmd.Context(), recomputeChannel)
	},
}

func init() {
	recomputeCmd.Flags().StringVar(&recomputeChannel, "channel", "", "Channel code")
	_ = recomputeCmd.MarkFlagRequired("channel")
}
