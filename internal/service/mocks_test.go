package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"price-history/internal/alerting"
	"price-history/internal/pricing"
	"price-history/internal/storage"
)

type fakeStore struct {
	mu        sync.Mutex
	items     map[int64]*pricing.PricedItem
	entries   map[int64][]pricing.LogEntry
	channels  map[string]int
	nextItem  int64
	nextEntry int64
	locks     []int64
	held      map[int64]bool
	bulkCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		items:    make(map[int64]*pricing.PricedItem),
		entries:  make(map[int64][]pricing.LogEntry),
		channels: make(map[string]int),
		held:     make(map[int64]bool),
	}
}

func (f *fakeStore) GetItem(_ context.Context, id int64) (pricing.PricedItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return pricing.PricedItem{}, storage.ErrItemNotFound
	}
	return *item, nil
}

func (f *fakeStore) FindItem(_ context.Context, productCode, channelCode string) (pricing.PricedItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if item := f.findLocked(productCode, channelCode); item != nil {
		return *item, nil
	}
	return pricing.PricedItem{}, storage.ErrItemNotFound
}

func (f *fakeStore) findLocked(productCode, channelCode string) *pricing.PricedItem {
	for _, item := range f.items {
		if item.ProductCode == productCode && item.ChannelCode == channelCode {
			return item
		}
	}
	return nil
}

func (f *fakeStore) ListChannelItems(_ context.Context, channelCode string, limit int) ([]pricing.PricedItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []pricing.PricedItem
	for id := int64(1); id <= f.nextItem; id++ {
		item, ok := f.items[id]
		if !ok || item.ChannelCode != channelCode {
			continue
		}
		out = append(out, *item)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) ApplyPriceChange(_ context.Context, change storage.PriceChange) (pricing.PricedItem, pricing.LogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var item *pricing.PricedItem
	if change.ItemID != 0 {
		item = f.items[change.ItemID]
		if item == nil {
			return pricing.PricedItem{}, pricing.LogEntry{}, fmt.Errorf("%w: %d", storage.ErrItemNotFound, change.ItemID)
		}
	} else if item = f.findLocked(change.ProductCode, change.ChannelCode); item == nil {
		f.nextItem++
		item = &pricing.PricedItem{ID: f.nextItem, ProductCode: change.ProductCode, ChannelCode: change.ChannelCode}
		f.items[item.ID] = item
	}

	entry := pricing.NewLogEntry(*item, change.LoggedAt, change.Price, change.OriginalPrice)
	if log := f.entries[item.ID]; len(log) > 0 && entry.LoggedAt.Before(log[len(log)-1].LoggedAt) {
		return pricing.PricedItem{}, pricing.LogEntry{}, storage.ErrBackdatedEntry
	}

	item.Price = change.Price
	item.OriginalPrice = change.OriginalPrice
	f.nextEntry++
	entry.ID = f.nextEntry
	f.entries[item.ID] = append(f.entries[item.ID], entry)
	return *item, entry, nil
}

func (f *fakeStore) UpdateLowestPrice(_ context.Context, itemID int64, lowest, latestID *int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updateLocked(itemID, lowest, latestID), nil
}

// updateLocked mirrors the guarded UPDATE of the postgres store.
func (f *fakeStore) updateLocked(itemID int64, lowest, latestID *int64) bool {
	item, ok := f.items[itemID]
	if !ok {
		return false
	}
	var next int64
	if latestID != nil {
		next = *latestID
	}
	if item.LowestPriceLogID != nil && *item.LowestPriceLogID > next {
		return false
	}
	item.LowestPriceBeforeDiscount = lowest
	item.LowestPriceLogID = latestID
	return true
}

func (f *fakeStore) log(itemID int64) pricing.EntryLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append(pricing.EntryLog(nil), f.entries[itemID]...)
}

func (f *fakeStore) FindLatest(ctx context.Context, itemID int64) (*pricing.LogEntry, error) {
	return f.log(itemID).FindLatest(ctx, itemID)
}

func (f *fakeStore) FindLowestInWindow(ctx context.Context, excludeID, itemID int64, startDate time.Time) (*int64, error) {
	return f.log(itemID).FindLowestInWindow(ctx, excludeID, itemID, startDate)
}

func (f *fakeStore) FindBoundaryPrice(ctx context.Context, itemID int64, startDate time.Time) (*int64, error) {
	return f.log(itemID).FindBoundaryPrice(ctx, itemID, startDate)
}

func (f *fakeStore) ListEntries(_ context.Context, itemID int64, from, to time.Time) ([]pricing.LogEntry, error) {
	var out []pricing.LogEntry
	for _, entry := range f.log(itemID) {
		if !entry.LoggedAt.Before(from) && entry.LoggedAt.Before(to) {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (f *fakeStore) GetWindowConfig(_ context.Context, channelCode string) (*pricing.WindowConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	days, ok := f.channels[channelCode]
	if !ok {
		return nil, nil
	}
	return &pricing.WindowConfig{ChannelCode: channelCode, CheckingPeriodDays: days}, nil
}

func (f *fakeStore) SetCheckingPeriod(_ context.Context, channelCode string, days int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	previous, ok := f.channels[channelCode]
	f.channels[channelCode] = days
	return !ok || previous != days, nil
}

func (f *fakeStore) RecomputeChannel(ctx context.Context, channelCode string, window pricing.Window) (int64, int64, error) {
	items, _ := f.ListChannelItems(ctx, channelCode, 0)

	f.mu.Lock()
	f.bulkCalls++
	f.mu.Unlock()

	var updated int64
	for _, item := range items {
		res, err := pricing.LowestBeforeDiscountAtLatest(ctx, f.log(item.ID), item, window)
		if err != nil {
			return 0, 0, err
		}
		f.mu.Lock()
		if f.updateLocked(item.ID, res.Lowest, res.LatestID) {
			updated++
		}
		f.mu.Unlock()
	}
	return int64(len(items)), updated, nil
}

func (f *fakeStore) AdvisoryLock(_ context.Context, key int64) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[key] {
		return nil, fmt.Errorf("lock %d already held", key)
	}
	f.held[key] = true
	f.locks = append(f.locks, key)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.held, key)
	}, nil
}

func (f *fakeStore) setLowest(itemID int64, lowest, logID *int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[itemID].LowestPriceBeforeDiscount = lowest
	f.items[itemID].LowestPriceLogID = logID
}

type fakeNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (n *fakeNotifier) Notify(_ context.Context, note alerting.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	return nil
}

var (
	_ storage.ItemStore         = (*fakeStore)(nil)
	_ storage.PriceLogStore     = (*fakeStore)(nil)
	_ storage.ChannelStore      = (*fakeStore)(nil)
	_ storage.ChannelRecomputer = (*fakeStore)(nil)
	_ storage.AdvisoryLocker    = (*fakeStore)(nil)
)
