package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"price-history/internal/pricing"
)

// Show prints a channel's items with their lowest price before discount.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	cfg, err := store.GetWindowConfig(ctx, opts.Channel)
	if err != nil {
		return err
	}
	items, err := store.ListChannelItems(ctx, opts.Channel, opts.Limit)
	if err != nil {
		return err
	}

	if cfg == nil {
		fmt.Fprintf(os.Stdout, "channel %s: no price history configuration\n", opts.Channel)
	} else {
		fmt.Fprintf(os.Stdout, "channel %s: checking period %d days\n", cfg.ChannelCode, cfg.CheckingPeriodDays)
	}
	if len(items) == 0 {
		fmt.Fprintln(os.Stdout, "no items found")
		return nil
	}

	return writeItemsTable(os.Stdout, items, a.Config.Pricing.CurrencyExponent)
}

func writeItemsTable(out io.Writer, items []pricing.PricedItem, exp int32) error {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tProduct\tPrice\tOriginal\tLowest before discount\tLog ID\tUpdated (UTC)")

	for _, item := range items {
		logID := "-"
		if item.LowestPriceLogID != nil {
			logID = strconv.FormatInt(*item.LowestPriceLogID, 10)
		}
		fmt.Fprintf(
			writer,
			"%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			item.ID,
			item.ProductCode,
			pricing.FormatMinor(item.Price, exp),
			pricing.FormatOptional(item.OriginalPrice, exp),
			pricing.FormatOptional(item.LowestPriceBeforeDiscount, exp),
			logID,
			item.UpdatedAt.UTC().Format(time.RFC3339),
		)
	}

	return writer.Flush()
}
