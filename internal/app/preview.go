package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"price-history/internal/pricing"
	"price-history/internal/storage"
)

var (
	historyStart = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	historyEnd   = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
)

type previewRow struct {
	item    pricing.PricedItem
	preview *int64
}

// Preview computes lowest prices for another checking period without storing them.
func (a *App) Preview(ctx context.Context, opts PreviewOptions) error {
	loc, err := a.Config.Location()
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	days := opts.Days
	if days <= 0 {
		cfg, err := store.GetWindowConfig(ctx, opts.Channel)
		if err != nil {
			return err
		}
		if cfg == nil {
			return fmt.Errorf("channel %s has no checking period, pass --days", opts.Channel)
		}
		days = cfg.CheckingPeriodDays
	}
	window, err := pricing.NewWindow(days, loc)
	if err != nil {
		return err
	}

	var items []pricing.PricedItem
	if opts.ProductCode != "" {
		item, err := store.FindItem(ctx, opts.ProductCode, opts.Channel)
		if err != nil {
			return err
		}
		items = append(items, item)
	} else if items, err = store.ListChannelItems(ctx, opts.Channel, 0); err != nil {
		return err
	}

	rows, err := previewItems(ctx, store, items, window)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "channel %s: preview with %d days (%s)\n", opts.Channel, days, window.LocationName())
	return writePreviewTable(os.Stdout, rows, a.Config.Pricing.CurrencyExponent)
}

func previewItems(ctx context.Context, log storage.PriceLogStore, items []pricing.PricedItem, window pricing.Window) ([]previewRow, error) {
	rows := make([]previewRow, 0, len(items))
	for _, item := range items {
		entries, err := log.ListEntries(ctx, item.ID, historyStart, historyEnd)
		if err != nil {
			return nil, err
		}
		lowest, err := pricing.Resolve(item, entries, window)
		if err != nil {
			return nil, fmt.Errorf("preview item %d: %w", item.ID, err)
		}
		rows = append(rows, previewRow{item: item, preview: lowest})
	}
	return rows, nil
}

func writePreviewTable(out io.Writer, rows []previewRow, exp int32) error {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tProduct\tPrice\tOriginal\tStored\tPreview\tChange")

	for _, row := range rows {
		change := ""
		if !pricing.EqualPrice(row.item.LowestPriceBeforeDiscount, row.preview) {
			change = "*"
		}
		fmt.Fprintf(
			writer,
			"%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			row.item.ID,
			row.item.ProductCode,
			pricing.FormatMinor(row.item.Price, exp),
			pricing.FormatOptional(row.item.OriginalPrice, exp),
			pricing.FormatOptional(row.item.LowestPriceBeforeDiscount, exp),
			pricing.FormatOptional(row.preview, exp),
			change,
		)
	}
	return writer.Flush()
}
