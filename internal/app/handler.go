package app

import (
	"context"

	"price-history/internal/events"
	"price-history/internal/pricing"
	"price-history/internal/service"
	"price-history/internal/storage"
)

type priceService interface {
	RecordPriceChange(ctx context.Context, change storage.PriceChange) (pricing.PricedItem, service.Outcome, error)
	HandleCheckingPeriodChanged(ctx context.Context, channelCode string) (service.RecomputeReport, error)
}

// eventHandler routes listener events into the service.
type eventHandler struct {
	svc priceService
}

func (h eventHandler) HandlePriceChanged(ctx context.Context, event events.PriceChanged) error {
	_, _, err := h.svc.RecordPriceChange(ctx, priceChangeFromEvent(event))
	return err
}

func (h eventHandler) HandleCheckingPeriodChanged(ctx context.Context, event events.CheckingPeriodChanged) error {
	_, err := h.svc.HandleCheckingPeriodChanged(ctx, event.ChannelCode)
	return err
}

func priceChangeFromEvent(event events.PriceChanged) storage.PriceChange {
	change := storage.PriceChange{
		ItemID:        event.ItemID,
		ProductCode:   event.ProductCode,
		ChannelCode:   event.ChannelCode,
		Price:         event.Price,
		OriginalPrice: event.OriginalPrice,
	}
	if event.LoggedAt != nil {
		change.LoggedAt = *event.LoggedAt
	}
	return change
}

func eventFromPriceChange(change storage.PriceChange) events.PriceChanged {
	event := events.PriceChanged{
		ItemID:        change.ItemID,
		ProductCode:   change.ProductCode,
		ChannelCode:   change.ChannelCode,
		Price:         change.Price,
		OriginalPrice: change.OriginalPrice,
	}
	if !change.LoggedAt.IsZero() {
		loggedAt := change.LoggedAt
		event.LoggedAt = &loggedAt
	}
	return event
}

var (
	_ events.Handler = eventHandler{}
	_ priceService   = (*service.Service)(nil)
)
