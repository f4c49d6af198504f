package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"price-history/internal/config"
	"price-history/internal/events"
	"price-history/internal/pricing"
	"price-history/internal/service"
	"price-history/internal/storage"
)

func testApp() *App {
	return NewApp(&config.Config{
		Pricing: config.PricingConfig{DefaultCheckingPeriodDays: 30, Timezone: "UTC", CurrencyExponent: 2},
		Export:  config.ExportConfig{MaxDataPoints: 100},
	}, zerolog.Nop())
}

type fakeService struct {
	changes  []storage.PriceChange
	channels []string
}

func (f *fakeService) RecordPriceChange(_ context.Context, change storage.PriceChange) (pricing.PricedItem, service.Outcome, error) {
	f.changes = append(f.changes, change)
	return pricing.PricedItem{ID: change.ItemID}, service.Outcome{}, nil
}

func (f *fakeService) HandleCheckingPeriodChanged(_ context.Context, channelCode string) (service.RecomputeReport, error) {
	f.channels = append(f.channels, channelCode)
	return service.RecomputeReport{Channel: channelCode}, nil
}

func TestEventHandlerRoutesEvents(t *testing.T) {
	svc := &fakeService{}
	h := eventHandler{svc: svc}
	ctx := context.Background()

	at := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	payload, err := events.Encode(events.PriceChanged{ItemID: 7, Price: 1999, OriginalPrice: pricing.Int64(2500), LoggedAt: &at})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := events.Dispatch(ctx, h, []byte(payload)); err != nil {
		t.Fatalf("dispatch price change: %v", err)
	}
	if err := events.Dispatch(ctx, h, []byte(`{"type":"checking_period_changed","channel_code":"WEB"}`)); err != nil {
		t.Fatalf("dispatch period change: %v", err)
	}

	if len(svc.changes) != 1 {
		t.Fatalf("want one price change, got %d", len(svc.changes))
	}
	got := svc.changes[0]
	if got.ItemID != 7 || got.Price != 1999 || *got.OriginalPrice != 2500 || !got.LoggedAt.Equal(at) {
		t.Fatalf("unexpected change %+v", got)
	}
	if len(svc.channels) != 1 || svc.channels[0] != "WEB" {
		t.Fatalf("unexpected recomputes %v", svc.channels)
	}
}

func TestPriceChangeEventConversion(t *testing.T) {
	change := storage.PriceChange{ProductCode: "MUG", ChannelCode: "WEB", Price: 500}
	event := eventFromPriceChange(change)
	if event.LoggedAt != nil {
		t.Fatalf("zero time should be left to the service")
	}
	if back := priceChangeFromEvent(event); back != change {
		t.Fatalf("round trip changed the price change: %+v", back)
	}
}

func TestPriceChangeParsesMajorUnits(t *testing.T) {
	a := testApp()

	change, err := a.priceChange(RecordPriceOptions{ProductCode: "MUG", ChannelCode: "WEB", Price: "19.99", OriginalPrice: "24.5"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if change.Price != 1999 || change.OriginalPrice == nil || *change.OriginalPrice != 2450 {
		t.Fatalf("unexpected change %+v", change)
	}

	change, err = a.priceChange(RecordPriceOptions{ItemID: 3, Price: "5"})
	if err != nil || change.OriginalPrice != nil || change.Price != 500 {
		t.Fatalf("unexpected change %+v, %v", change, err)
	}

	if _, err := a.priceChange(RecordPriceOptions{ItemID: 3, Price: "1.999"}); err == nil {
		t.Fatal("too many decimals should be rejected")
	}
	if _, err := a.priceChange(RecordPriceOptions{ItemID: 3, Price: "10", OriginalPrice: "abc"}); err == nil {
		t.Fatal("invalid original price should be rejected")
	}
}

func TestOpenStoreRequiresDSN(t *testing.T) {
	if _, _, err := testApp().openStore(context.Background()); !errors.Is(err, errNoDatabase) {
		t.Fatalf("want errNoDatabase, got %v", err)
	}
}

func TestDownsample(t *testing.T) {
	values := make([]int, 10)
	for i := range values {
		values[i] = i
	}

	if got := downsample(values, 0); len(got) != 10 {
		t.Fatalf("no limit should keep everything, got %d", len(got))
	}
	got := downsample(values, 4)
	if len(got) != 4 || got[0] != 0 || got[3] != 9 {
		t.Fatalf("unexpected downsample %v", got)
	}
	if got := downsample(values, 1); len(got) != 1 || got[0] != 9 {
		t.Fatalf("single point should be the latest, got %v", got)
	}
}

func TestWriteEntriesCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "log.csv")
	entries := []pricing.LogEntry{
		{ID: 1, PricedItemID: 7, Price: 2500, LoggedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
		{ID: 2, PricedItemID: 7, Price: 1999, OriginalPrice: pricing.Int64(2500), LoggedAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)},
	}

	if err := writeEntriesCSV(path, entries, 2); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer file.Close()
	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("want header and two rows, got %d", len(records))
	}
	if strings.Join(records[1], ",") != "1,2024-05-01T00:00:00Z,25.00," {
		t.Fatalf("unexpected row %v", records[1])
	}
	if strings.Join(records[2], ",") != "2,2024-06-01T00:00:00Z,19.99,25.00" {
		t.Fatalf("unexpected row %v", records[2])
	}
}

func TestWriteEntriesPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.png")
	item := pricing.PricedItem{ID: 7, ProductCode: "MUG", ChannelCode: "WEB"}
	entries := []pricing.LogEntry{
		{ID: 1, Price: 2500, OriginalPrice: pricing.Int64(2500), LoggedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
		{ID: 2, Price: 1999, OriginalPrice: pricing.Int64(2500), LoggedAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)},
		{ID: 3, Price: 2100, LoggedAt: time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)},
	}

	if err := writeEntriesPNG(path, item, entries, 2); err != nil {
		t.Fatalf("write png: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		t.Fatalf("png not written: %v", err)
	}

	if err := writeEntriesPNG(path, item, entries[:1], 2); err == nil {
		t.Fatal("a single entry cannot be charted")
	}
}

func TestWriteItemsTable(t *testing.T) {
	var buf bytes.Buffer
	items := []pricing.PricedItem{
		{ID: 1, ProductCode: "MUG", Price: 1999, OriginalPrice: pricing.Int64(2500), LowestPriceBeforeDiscount: pricing.Int64(2200), LowestPriceLogID: pricing.Int64(9)},
		{ID: 2, ProductCode: "CAP", Price: 500},
	}
	if err := writeItemsTable(&buf, items, 2); err != nil {
		t.Fatalf("write table: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("want header and two rows, got %q", buf.String())
	}
	if fields := strings.Fields(lines[1]); fields[1] != "MUG" || fields[2] != "19.99" || fields[4] != "22.00" || fields[5] != "9" {
		t.Fatalf("unexpected row %q", lines[1])
	}
	if fields := strings.Fields(lines[2]); fields[3] != "-" || fields[4] != "-" {
		t.Fatalf("absent prices should render as '-', got %q", lines[2])
	}
}

func TestPreviewItemsUsesAlternateWindow(t *testing.T) {
	day0 := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	item := pricing.PricedItem{ID: 7, ProductCode: "A", Price: 50, OriginalPrice: pricing.Int64(100), LowestPriceBeforeDiscount: pricing.Int64(60)}
	log := memLog{7: {
		{ID: 1, PricedItemID: 7, Price: 60, LoggedAt: day0.AddDate(0, 0, -20)},
		{ID: 2, PricedItemID: 7, Price: 75, LoggedAt: day0.AddDate(0, 0, -10)},
		{ID: 3, PricedItemID: 7, Price: 50, LoggedAt: day0},
	}}

	rows, err := previewItems(context.Background(), log, []pricing.PricedItem{item}, pricing.Window{Days: 7})
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if len(rows) != 1 || rows[0].preview == nil || *rows[0].preview != 75 {
		t.Fatalf("want preview 75, got %+v", rows)
	}

	var buf bytes.Buffer
	if err := writePreviewTable(&buf, rows, 2); err != nil {
		t.Fatalf("write table: %v", err)
	}
	if !strings.Contains(buf.String(), "0.75") || !strings.HasSuffix(strings.TrimSpace(buf.String()), "*") {
		t.Fatalf("changed preview should be flagged:\n%s", buf.String())
	}
}

type memLog map[int64][]pricing.LogEntry

func (m memLog) FindLatest(ctx context.Context, itemID int64) (*pricing.LogEntry, error) {
	return pricing.EntryLog(m[itemID]).FindLatest(ctx, itemID)
}

func (m memLog) FindLowestInWindow(ctx context.Context, excludeID, itemID int64, startDate time.Time) (*int64, error) {
	return pricing.EntryLog(m[itemID]).FindLowestInWindow(ctx, excludeID, itemID, startDate)
}

func (m memLog) FindBoundaryPrice(ctx context.Context, itemID int64, startDate time.Time) (*int64, error) {
	return pricing.EntryLog(m[itemID]).FindBoundaryPrice(ctx, itemID, startDate)
}

func (m memLog) ListEntries(_ context.Context, itemID int64, _, _ time.Time) ([]pricing.LogEntry, error) {
	return m[itemID], nil
}
