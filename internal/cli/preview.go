package cli

import (
	"github.com/spf13/cobra"

	"price-history/internal/app"
)

var (
	previewChannel string
	previewProduct string
	previewDays    int
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Show lowest prices for another checking period without storing them",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.PreviewOptions{
			Channel:     previewChannel,
			ProductCode: previewProduct,
			Days:        previewDays,
		}
		return getApp().Preview(cmd.Context(), opts)
	},
}

func init() {
	previewCmd.Flags().StringVar(&previewChannel, "channel", "", "Channel code")
	previewCmd.Flags().StringVar(&previewProduct, "product", "", "Limit the preview to one product")
	previewCmd.Flags().IntVar(&previewDays, "days", 0, "Checking period to preview (defaults to the channel's)")
	_ = previewCmd.MarkFlagRequired("channel")
}
