package app

import (
	"context"
	"fmt"
	"os"

	"price-history/internal/events"
	"price-history/internal/pricing"
	"price-history/internal/service"
	"price-history/internal/storage"
)

// RecordPrice logs one price observation and refreshes the item's lowest price,
// or only publishes it for a running service when Publish is set.
func (a *App) RecordPrice(ctx context.Context, opts RecordPriceOptions) error {
	change, err := a.priceChange(opts)
	if err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if opts.Publish {
		publisher := events.NewPublisher(store, a.Config.Events.Channel)
		if err := publisher.Publish(ctx, eventFromPriceChange(change)); err != nil {
			return err
		}
		a.Logger.Info().Str("channel", a.Config.Events.Channel).Msg("price change published")
		return nil
	}

	svc, err := a.newService(store)
	if err != nil {
		return err
	}
	item, outcome, err := svc.RecordPriceChange(ctx, change)
	if err != nil {
		return err
	}

	exp := a.Config.Pricing.CurrencyExponent
	fmt.Fprintf(os.Stdout, "item %d (%s/%s): price %s, original %s, lowest before discount %s [%s]\n",
		item.ID, item.ProductCode, item.ChannelCode,
		pricing.FormatMinor(item.Price, exp),
		pricing.FormatOptional(item.OriginalPrice, exp),
		pricing.FormatOptional(item.LowestPriceBeforeDiscount, exp),
		outcome.Status,
	)
	return nil
}

func (a *App) priceChange(opts RecordPriceOptions) (storage.PriceChange, error) {
	exp := a.Config.Pricing.CurrencyExponent

	price, err := pricing.ParseMajor(opts.Price, exp)
	if err != nil {
		return storage.PriceChange{}, fmt.Errorf("invalid price: %w", err)
	}
	change := storage.PriceChange{
		ItemID:      opts.ItemID,
		ProductCode: opts.ProductCode,
		ChannelCode: opts.ChannelCode,
		Price:       price,
	}
	if opts.OriginalPrice != "" {
		original, err := pricing.ParseMajor(opts.OriginalPrice, exp)
		if err != nil {
			return storage.PriceChange{}, fmt.Errorf("invalid original price: %w", err)
		}
		change.OriginalPrice = &original
	}
	if opts.LoggedAt != nil {
		change.LoggedAt = opts.LoggedAt.UTC()
	}
	return change, nil
}

// SetPeriod changes a channel's checking period and recomputes it when the value changed.
func (a *App) SetPeriod(ctx context.Context, opts SetPeriodOptions) error {
	days := opts.Days
	if days <= 0 {
		days = a.Config.Pricing.DefaultCheckingPeriodDays
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if opts.Publish {
		changed, err := store.SetCheckingPeriod(ctx, opts.Channel, days)
		if err != nil {
			return err
		}
		if !changed {
			fmt.Fprintf(os.Stdout, "channel %s already uses %d days\n", opts.Channel, days)
			return nil
		}
		publisher := events.NewPublisher(store, a.Config.Events.Channel)
		if err := publisher.Publish(ctx, events.CheckingPeriodChanged{ChannelCode: opts.Channel}); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "channel %s set to %d days, recompute published\n", opts.Channel, days)
		return nil
	}

	svc, err := a.newService(store)
	if err != nil {
		return err
	}
	report, changed, err := svc.ChangeCheckingPeriod(ctx, opts.Channel, days)
	if err != nil {
		return err
	}
	if !changed {
		fmt.Fprintf(os.Stdout, "channel %s already uses %d days\n", opts.Channel, days)
		return nil
	}
	printReport(report)
	return nil
}

// Recompute refreshes every item of a channel.
func (a *App) Recompute(ctx context.Context, channel string) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	svc, err := a.newService(store)
	if err != nil {
		return err
	}
	report, err := svc.RecomputeChannel(ctx, channel)
	if err != nil {
		return err
	}
	if report.Skipped {
		fmt.Fprintf(os.Stdout, "channel %s has no price history configuration\n", channel)
		return nil
	}
	printReport(report)
	return nil
}

func printReport(report service.RecomputeReport) {
	fmt.Fprintf(os.Stdout, "channel %s (%d days, %s mode): %d items, %d updated, %d stale, %d failed in %s\n",
		report.Channel, report.PeriodDays, report.Mode,
		report.Items, report.Updated, report.Stale, report.Failed, report.Duration)
}
