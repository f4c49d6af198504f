package pricing

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidWindow indicates a checking period that is not a positive number of days.
	ErrInvalidWindow = errors.New("pricing: checking period must be positive")
	// ErrForeignEntry indicates a log entry that belongs to another priced item.
	ErrForeignEntry = errors.New("pricing: log entry belongs to another item")
	// ErrUnorderedLog indicates a log whose ids or timestamps are not ascending.
	ErrUnorderedLog = errors.New("pricing: log entries out of order")
	// ErrInvalidItem indicates a priced item without an identity.
	ErrInvalidItem = errors.New("pricing: priced item has no id")
)

// Resolution is the outcome of resolving one item.
type Resolution struct {
	// Lowest is the lowest price before discount, nil when there is none to show.
	Lowest *int64
	// LatestID is the newest log entry taken into account, nil for an empty log.
	LatestID *int64
	Window   Window
}

// Resolve computes the lowest price before discount of item from its ordered log.
func Resolve(item PricedItem, entries []LogEntry, window Window) (*int64, error) {
	log, err := NewEntryLog(item.ID, entries)
	if err != nil {
		return nil, err
	}
	res, err := LowestBeforeDiscount(context.Background(), log, item, window)
	if err != nil {
		return nil, err
	}
	return res.Lowest, nil
}

// LowestBeforeDiscount applies the windowing rule to item using reader.
//
// The result is the minimum of two optional candidates: the price of the last entry logged
// before the window starts, and the lowest price logged inside the window other than the
// latest entry. The window ends at the latest entry and starts window.Days calendar days
// earlier; an entry logged exactly at the start is inside.
func LowestBeforeDiscount(ctx context.Context, reader LogReader, item PricedItem, window Window) (Resolution, error) {
	return lowestBeforeDiscount(ctx, reader, item, window, false)
}

// LowestBeforeDiscountAtLatest is LowestBeforeDiscount with the discount state taken from
// the latest log entry instead of item. The result then describes exactly the log state
// named by LatestID, which is what a write guarded on that id must store.
func LowestBeforeDiscountAtLatest(ctx context.Context, reader LogReader, item PricedItem, window Window) (Resolution, error) {
	return lowestBeforeDiscount(ctx, reader, item, window, true)
}

func lowestBeforeDiscount(ctx context.Context, reader LogReader, item PricedItem, window Window, atLatest bool) (Resolution, error) {
	if item.ID == 0 {
		return Resolution{}, ErrInvalidItem
	}
	if err := window.Validate(); err != nil {
		return Resolution{}, err
	}

	latest, err := reader.FindLatest(ctx, item.ID)
	if err != nil {
		return Resolution{}, fmt.Errorf("find latest log entry: %w", err)
	}
	if latest == nil {
		return Resolution{Window: window}, nil
	}
	if latest.PricedItemID != item.ID {
		return Resolution{}, fmt.Errorf("%w: entry %d", ErrForeignEntry, latest.ID)
	}

	if atLatest {
		item.Price = latest.Price
		item.OriginalPrice = latest.OriginalPrice
	}

	res := Resolution{LatestID: Int64(latest.ID), Window: window}
	if !item.IsDiscounted() {
		return res, nil
	}

	startDate := window.StartDate(latest.LoggedAt)

	boundary, err := reader.FindBoundaryPrice(ctx, item.ID, startDate)
	if err != nil {
		return Resolution{}, fmt.Errorf("find boundary price: %w", err)
	}
	inWindow, err := reader.FindLowestInWindow(ctx, latest.ID, item.ID, startDate)
	if err != nil {
		return Resolution{}, fmt.Errorf("find lowest price in window: %w", err)
	}

	res.Lowest = minPrice(boundary, inWindow)
	return res, nil
}

func minPrice(a, b *int64) *int64 {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case *b < *a:
		return b
	default:
		return a
	}
}
