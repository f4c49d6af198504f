package pricing

import (
	"time"
)

// PricedItem is the price of one product in one sales channel.
type PricedItem struct {
	ID            int64
	ProductCode   string
	ChannelCode   string
	Price         int64
	OriginalPrice *int64

	// LowestPriceBeforeDiscount is derived; nil means nothing to display.
	LowestPriceBeforeDiscount *int64
	// LowestPriceLogID is the latest log entry the derived value was computed from.
	LowestPriceLogID *int64
	UpdatedAt        time.Time
}

// IsDiscounted reports whether the current price is below the merchant's original price.
func (i PricedItem) IsDiscounted() bool {
	return i.OriginalPrice != nil && i.Price < *i.OriginalPrice
}

// LogEntry is one immutable observation of a priced item's price.
type LogEntry struct {
	ID            int64
	PricedItemID  int64
	Price         int64
	OriginalPrice *int64
	LoggedAt      time.Time
}

// NewLogEntry builds an unsaved entry for item. The id is assigned by the log on append.
func NewLogEntry(item PricedItem, loggedAt time.Time, price int64, originalPrice *int64) LogEntry {
	return LogEntry{
		PricedItemID:  item.ID,
		Price:         price,
		OriginalPrice: originalPrice,
		LoggedAt:      loggedAt.Truncate(time.Microsecond),
	}
}

// WindowConfig is the per channel price history configuration.
type WindowConfig struct {
	ChannelCode        string
	CheckingPeriodDays int
	UpdatedAt          time.Time
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 {
	return &v
}

// EqualPrice compares two optional prices.
func EqualPrice(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
