package pricing

import (
	"context"
	"fmt"
	"time"
)

// LogReader answers the three questions the resolver asks of an item's price log.
type LogReader interface {
	// FindLatest returns the entry with the highest id, or nil when the log is empty.
	FindLatest(ctx context.Context, itemID int64) (*LogEntry, error)
	// FindLowestInWindow returns the minimum price among entries logged at or after
	// startDate, excluding the entry excludeID.
	FindLowestInWindow(ctx context.Context, excludeID, itemID int64, startDate time.Time) (*int64, error)
	// FindBoundaryPrice returns the price of the highest id entry logged before startDate.
	FindBoundaryPrice(ctx context.Context, itemID int64, startDate time.Time) (*int64, error)
}

// EntryLog is an in memory log of one item, ordered by ascending id.
type EntryLog []LogEntry

// NewEntryLog checks that entries belong to itemID and are strictly ordered by id and time.
func NewEntryLog(itemID int64, entries []LogEntry) (EntryLog, error) {
	for i, entry := range entries {
		if entry.PricedItemID != itemID {
			return nil, fmt.Errorf("%w: entry %d belongs to item %d, not %d", ErrForeignEntry, entry.ID, entry.PricedItemID, itemID)
		}
		if i == 0 {
			continue
		}
		prev := entries[i-1]
		if entry.ID <= prev.ID || entry.LoggedAt.Before(prev.LoggedAt) {
			return nil, fmt.Errorf("%w: entry %d after %d", ErrUnorderedLog, entry.ID, prev.ID)
		}
	}
	return EntryLog(entries), nil
}

// FindLatest implements LogReader.
func (l EntryLog) FindLatest(_ context.Context, itemID int64) (*LogEntry, error) {
	for i := len(l) - 1; i >= 0; i-- {
		if l[i].PricedItemID == itemID {
			latest := l[i]
			return &latest, nil
		}
	}
	return nil, nil
}

// FindLowestInWindow implements LogReader.
func (l EntryLog) FindLowestInWindow(_ context.Context, excludeID, itemID int64, startDate time.Time) (*int64, error) {
	var lowest *int64
	for _, entry := range l {
		if entry.PricedItemID != itemID || entry.ID == excludeID || entry.LoggedAt.Before(startDate) {
			continue
		}
		if lowest == nil || entry.Price < *lowest {
			lowest = Int64(entry.Price)
		}
	}
	return lowest, nil
}

// FindBoundaryPrice implements LogReader.
func (l EntryLog) FindBoundaryPrice(_ context.Context, itemID int64, startDate time.Time) (*int64, error) {
	for i := len(l) - 1; i >= 0; i-- {
		entry := l[i]
		if entry.PricedItemID == itemID && entry.LoggedAt.Before(startDate) {
			return Int64(entry.Price), nil
		}
	}
	return nil, nil
}

var _ LogReader = EntryLog(nil)
