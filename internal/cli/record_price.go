package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"price-history/internal/app"
)

var (
	recordItemID   int64
	recordProduct  string
	recordChannel  string
	recordPrice    string
	recordOriginal string
	recordAt       string
	recordPublish  bool
)

var recordPriceCmd = &cobra.Command{
	Use:   "record-price",
	Short: "Log a new price for an item and refresh its lowest price before discount",
	RunE: func(cmd *cobra.Command, args []string) error {
		if recordItemID == 0 && (recordProduct == "" || recordChannel == "") {
			return fmt.Errorf("--item or both --product and --channel are required")
		}

		opts := app.RecordPriceOptions{
			ItemID:        recordItemID,
			ProductCode:   recordProduct,
			ChannelCode:   recordChannel,
			Price:         recordPrice,
			OriginalPrice: recordOriginal,
			Publish:       recordPublish,
		}

		if recordAt != "" {
			at, err := time.Parse(time.RFC3339, recordAt)
			if err != nil {
				return fmt.Errorf("invalid --at value: %w", err)
			}
			opts.LoggedAt = &at
		}

		return getApp().RecordPrice(cmd.Context(), opts)
	},
}

func init() {
	recordPriceCmd.Flags().Int64Var(&recordItemID, "item", 0, "Priced item id")
	recordPriceCmd.Flags().StringVar(&recordProduct, "product", "", "Product code (with --channel)")
	recordPriceCmd.Flags().StringVar(&recordChannel, "channel", "", "Channel code (with --product)")
	recordPriceCmd.Flags().StringVar(&recordPrice, "price", "", "New price in major units, e.g. 19.99")
	recordPriceCmd.Flags().StringVar(&recordOriginal, "original-price", "", "Original price in major units; empty when there is none")
	recordPriceCmd.Flags().StringVar(&recordAt, "at", "", "Observation time (RFC3339, defaults to now)")
	recordPriceCmd.Flags().BoolVar(&recordPublish, "publish", false, "Publish the change to a running service instead of applying it")
	_ = recordPriceCmd.MarkFlagRequired("price")
}
