package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"price-history/internal/app"
)

var (
	showChannel string
	showLimit   int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display a channel's items and their lowest price before discount",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Channel: showChannel,
			Limit:   showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showChannel, "channel", "", "Channel code")
	showCmd.Flags().IntVar(&showLimit, "limit", 50, "Number of items to display")
	_ = showCmd.MarkFlagRequired("channel")
}
