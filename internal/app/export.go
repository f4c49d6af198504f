package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"price-history/internal/pricing"
)

// Export renders an item's price log as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.ItemID == 0 && (opts.ProductCode == "" || opts.ChannelCode == "") {
		return errors.New("--item or both --product and --channel must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	var item pricing.PricedItem
	if opts.ItemID != 0 {
		item, err = store.GetItem(ctx, opts.ItemID)
	} else {
		item, err = store.FindItem(ctx, opts.ProductCode, opts.ChannelCode)
	}
	if err != nil {
		return err
	}

	from, to := historyStart, historyEnd
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if opts.To != nil {
		to = opts.To.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	entries, err := store.ListEntries(ctx, item.ID, from, to)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		a.Logger.Info().Int64("item_id", item.ID).Msg("no log entries found for export window")
		return nil
	}

	downsampled := downsample(entries, opts.MaxPoints)
	a.Logger.Info().
		Int64("item_id", item.ID).
		Int("total", len(entries)).
		Int("exported", len(downsampled)).
		Msg("exporting price log")

	exp := a.Config.Pricing.CurrencyExponent
	if opts.CSVPath != "" {
		if err := writeEntriesCSV(opts.CSVPath, downsampled, exp); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeEntriesPNG(opts.PNGPath, item, downsampled, exp); err != nil {
			return err
		}
	}

	return nil
}

func downsample[T any](samples []T, max int) []T {
	if max <= 0 || len(samples) <= max {
		return samples
	}
	if max == 1 {
		return samples[len(samples)-1:]
	}

	result := make([]T, 0, max)
	step := float64(len(samples)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		result = append(result, samples[idx])
	}
	return result
}

func writeEntriesCSV(path string, entries []pricing.LogEntry, exp int32) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"entry_id", "logged_at", "price", "original_price"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, entry := range entries {
		original := ""
		if entry.OriginalPrice != nil {
			original = pricing.FormatMinor(*entry.OriginalPrice, exp)
		}
		record := []string{
			strconv.FormatInt(entry.ID, 10),
			entry.LoggedAt.UTC().Format(time.RFC3339Nano),
			pricing.FormatMinor(entry.Price, exp),
			original,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeEntriesPNG(path string, item pricing.PricedItem, entries []pricing.LogEntry, exp int32) error {
	if len(entries) < 2 {
		return errors.New("a chart needs at least two log entries")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(entries))
	prices := make([]float64, len(entries))
	var originalX []time.Time
	var originals []float64

	for i, entry := range entries {
		x[i] = entry.LoggedAt
		prices[i] = pricing.MajorFloat(entry.Price, exp)
		if entry.OriginalPrice != nil {
			originalX = append(originalX, entry.LoggedAt)
			originals = append(originals, pricing.MajorFloat(*entry.OriginalPrice, exp))
		}
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%."+strconv.Itoa(int(exp))+"f")
	}

	series := []chart.Series{
		chart.TimeSeries{
			Name:    "Price",
			XValues: x,
			YValues: prices,
		},
	}
	if len(originals) > 1 {
		series = append(series, chart.TimeSeries{
			Name:    "Original price",
			XValues: originalX,
			YValues: originals,
		})
	}

	graph := chart.Chart{
		Title:  item.ProductCode + " @ " + item.ChannelCode,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price",
			ValueFormatter: priceFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
