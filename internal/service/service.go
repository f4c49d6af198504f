package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"price-history/internal/alerting"
	"price-history/internal/config"
	"price-history/internal/metrics"
	"price-history/internal/pricing"
	"price-history/internal/storage"
)

// reportSampleSize bounds the items listed in a recompute notification.
const reportSampleSize = 5

// ErrInvalidPriceChange indicates a price change that cannot be applied.
var ErrInvalidPriceChange = errors.New("service: invalid price change")

// Outcome is the result of resolving one item.
type Outcome struct {
	ItemID     int64
	Resolution pricing.Resolution
	// Status is one of the metrics.Outcome* values except OutcomeError.
	Status string
}

// RecomputeReport summarises a channel recompute.
type RecomputeReport struct {
	Channel    string
	Mode       string
	PeriodDays int
	Items      int
	Updated    int64
	Stale      int
	Failed     int
	Duration   time.Duration
	// Skipped is set when the channel has no price history configuration.
	Skipped bool
}

// Service resolves lowest prices before discount and keeps them current.
type Service struct {
	items    storage.ItemStore
	log      storage.PriceLogStore
	channels storage.ChannelStore
	bulk     storage.ChannelRecomputer
	locker   storage.AdvisoryLocker
	notifier alerting.Notifier
	logger   zerolog.Logger

	location *time.Location
	mode     string
	workers  int
	lockKey  int64
	exponent int32
	alertsOn bool
	now      func() time.Time
}

// New constructs the price history service. The set oriented recompute and advisory
// locking are used when items also implements them.
func New(cfg *config.Config, items storage.ItemStore, log storage.PriceLogStore, channels storage.ChannelStore, notifier alerting.Notifier, logger zerolog.Logger) (*Service, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	var bulk storage.ChannelRecomputer
	if r, ok := items.(storage.ChannelRecomputer); ok {
		bulk = r
	}
	var locker storage.AdvisoryLocker
	if l, ok := items.(storage.AdvisoryLocker); ok {
		locker = l
	}

	mode := cfg.Recompute.Mode
	if mode == config.RecomputeModeSet && bulk == nil {
		return nil, fmt.Errorf("recompute mode %q needs a set oriented store", mode)
	}

	workers := cfg.Recompute.Workers
	if workers <= 0 {
		workers = 1
	}

	return &Service{
		items:    items,
		log:      log,
		channels: channels,
		bulk:     bulk,
		locker:   locker,
		notifier: notifier,
		logger:   logger.With().Str("component", "service").Logger(),
		location: loc,
		mode:     mode,
		workers:  workers,
		lockKey:  cfg.Recompute.LockKey,
		exponent: cfg.Pricing.CurrencyExponent,
		alertsOn: cfg.Alerting.Enabled,
		now:      time.Now,
	}, nil
}

// Window returns the checking window for a channel configuration.
func (s *Service) Window(cfg pricing.WindowConfig) pricing.Window {
	return pricing.Window{Days: cfg.CheckingPeriodDays, Location: s.location}
}

// RecordPriceChange appends a price observation and refreshes the item's lowest price.
func (s *Service) RecordPriceChange(ctx context.Context, change storage.PriceChange) (pricing.PricedItem, Outcome, error) {
	if err := validateChange(change); err != nil {
		return pricing.PricedItem{}, Outcome{}, err
	}
	if change.LoggedAt.IsZero() {
		change.LoggedAt = s.now()
	}

	item, entry, err := s.items.ApplyPriceChange(ctx, change)
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues("apply_price_change").Inc()
		return pricing.PricedItem{}, Outcome{}, fmt.Errorf("apply price change: %w", err)
	}

	s.logger.Debug().
		Int64("item_id", item.ID).
		Int64("entry_id", entry.ID).
		Int64("price", entry.Price).
		Time("logged_at", entry.LoggedAt).
		Msg("price logged")

	outcome, err := s.ResolveItem(ctx, item)
	if err != nil {
		return item, Outcome{}, err
	}
	if outcome.Status == metrics.OutcomeUpdated {
		item.LowestPriceBeforeDiscount = outcome.Resolution.Lowest
		item.LowestPriceLogID = outcome.Resolution.LatestID
	}
	return item, outcome, nil
}

func validateChange(change storage.PriceChange) error {
	if change.ItemID == 0 && (strings.TrimSpace(change.ProductCode) == "" || strings.TrimSpace(change.ChannelCode) == "") {
		return fmt.Errorf("%w: item id or product and channel codes required", ErrInvalidPriceChange)
	}
	if change.Price < 0 {
		return fmt.Errorf("%w: negative price %d", ErrInvalidPriceChange, change.Price)
	}
	if change.OriginalPrice != nil && *change.OriginalPrice < 0 {
		return fmt.Errorf("%w: negative original price %d", ErrInvalidPriceChange, *change.OriginalPrice)
	}
	return nil
}

// ResolveItem recomputes and stores the lowest price before discount of one item.
// An item whose channel has no configuration is left untouched.
func (s *Service) ResolveItem(ctx context.Context, item pricing.PricedItem) (Outcome, error) {
	cfg, err := s.channels.GetWindowConfig(ctx, item.ChannelCode)
	if err != nil {
		metrics.ResolutionsTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return Outcome{}, fmt.Errorf("get window config: %w", err)
	}
	if cfg == nil {
		s.logger.Debug().Str("channel", item.ChannelCode).Int64("item_id", item.ID).
			Msg("channel has no price history configuration, skipping item")
		metrics.ResolutionsTotal.WithLabelValues(metrics.OutcomeSkipped).Inc()
		return Outcome{ItemID: item.ID, Status: metrics.OutcomeSkipped}, nil
	}
	return s.resolve(ctx, item, s.Window(*cfg))
}

func (s *Service) resolve(ctx context.Context, item pricing.PricedItem, window pricing.Window) (Outcome, error) {
	res, err := pricing.LowestBeforeDiscountAtLatest(ctx, s.log, item, window)
	if err != nil {
		metrics.ResolutionsTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return Outcome{}, fmt.Errorf("resolve item %d: %w", item.ID, err)
	}

	applied, err := s.items.UpdateLowestPrice(ctx, item.ID, res.Lowest, res.LatestID)
	if err != nil {
		metrics.ResolutionsTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return Outcome{}, fmt.Errorf("store lowest price of item %d: %w", item.ID, err)
	}

	outcome := Outcome{ItemID: item.ID, Resolution: res, Status: metrics.OutcomeUpdated}
	if !applied {
		// a resolution from a newer log state is already stored
		outcome.Status = metrics.OutcomeStale
		s.logger.Debug().Int64("item_id", item.ID).Msg("stale resolution discarded")
	}
	metrics.ResolutionsTotal.WithLabelValues(outcome.Status).Inc()
	return outcome, nil
}

// RecomputeChannel refreshes the lowest price of every item in a channel.
// A channel without configuration is a no-op.
func (s *Service) RecomputeChannel(ctx context.Context, channelCode string) (RecomputeReport, error) {
	return s.recomputeChannel(ctx, channelCode, "manual")
}

func (s *Service) recomputeChannel(ctx context.Context, channelCode, trigger string) (RecomputeReport, error) {
	report := RecomputeReport{Channel: channelCode, Mode: s.mode}

	unlock, err := s.acquireLock(ctx, channelCode)
	if err != nil {
		return report, err
	}
	if unlock != nil {
		defer unlock()
	}

	// read after locking so a concurrent period change is not missed
	cfg, err := s.channels.GetWindowConfig(ctx, channelCode)
	if err != nil {
		return report, fmt.Errorf("get window config: %w", err)
	}
	if cfg == nil {
		s.logger.Debug().Str("channel", channelCode).Msg("channel has no price history configuration, nothing to recompute")
		report.Skipped = true
		return report, nil
	}
	report.PeriodDays = cfg.CheckingPeriodDays
	window := s.Window(*cfg)

	timer := prometheus.NewTimer(metrics.RecomputeDuration.WithLabelValues(s.mode))
	started := s.now()

	switch s.mode {
	case config.RecomputeModeSet:
		err = s.recomputeSet(ctx, window, &report)
	default:
		err = s.recomputeItems(ctx, window, &report)
	}

	timer.ObserveDuration()
	report.Duration = s.now().Sub(started)
	metrics.RecomputedItems.WithLabelValues(channelCode).Add(float64(report.Updated))

	event := s.logger.Info()
	if err != nil {
		event = s.logger.Error().Err(err)
		metrics.ErrorsTotal.WithLabelValues("recompute").Inc()
	}
	event.Str("channel", channelCode).
		Str("mode", report.Mode).
		Str("trigger", trigger).
		Int("period_days", report.PeriodDays).
		Int("items", report.Items).
		Int64("updated", report.Updated).
		Int("stale", report.Stale).
		Int("failed", report.Failed).
		Dur("duration", report.Duration).
		Msg("channel recomputed")

	if err != nil {
		return report, err
	}

	s.notify(ctx, report, trigger)
	return report, nil
}

func (s *Service) recomputeSet(ctx context.Context, window pricing.Window, report *RecomputeReport) error {
	items, updated, err := s.bulk.RecomputeChannel(ctx, report.Channel, window)
	if err != nil {
		return err
	}
	report.Items = int(items)
	report.Updated = updated
	report.Stale = int(items - updated)
	return nil
}

func (s *Service) recomputeItems(ctx context.Context, window pricing.Window, report *RecomputeReport) error {
	items, err := s.items.ListChannelItems(ctx, report.Channel, 0)
	if err != nil {
		return fmt.Errorf("list channel items: %w", err)
	}
	report.Items = len(items)

	var (
		mu   sync.Mutex
		errs []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, item := range items {
		item := item
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcome, err := s.resolve(gctx, item, window)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				report.Failed++
				errs = append(errs, err)
				s.logger.Warn().Err(err).Int64("item_id", item.ID).Msg("item recompute failed")
			case outcome.Status == metrics.OutcomeStale:
				report.Stale++
			default:
				report.Updated++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return errors.Join(errs...)
}

// ChangeCheckingPeriod stores a new checking period and recomputes the channel when
// the value changed.
func (s *Service) ChangeCheckingPeriod(ctx context.Context, channelCode string, days int) (RecomputeReport, bool, error) {
	if strings.TrimSpace(channelCode) == "" {
		return RecomputeReport{}, false, fmt.Errorf("channel code is required")
	}
	if err := (pricing.Window{Days: days}).Validate(); err != nil {
		return RecomputeReport{}, false, err
	}

	changed, err := s.channels.SetCheckingPeriod(ctx, channelCode, days)
	if err != nil {
		return RecomputeReport{}, false, err
	}
	if !changed {
		s.logger.Debug().Str("channel", channelCode).Int("days", days).Msg("checking period unchanged")
		return RecomputeReport{Channel: channelCode, Mode: s.mode, PeriodDays: days}, false, nil
	}

	report, err := s.recomputeChannel(ctx, channelCode, "checking_period_changed")
	return report, true, err
}

// HandleCheckingPeriodChanged recomputes a channel after its period changed elsewhere.
func (s *Service) HandleCheckingPeriodChanged(ctx context.Context, channelCode string) (RecomputeReport, error) {
	return s.recomputeChannel(ctx, channelCode, "checking_period_changed")
}

func (s *Service) notify(ctx context.Context, report RecomputeReport, trigger string) {
	if !s.alertsOn || s.notifier == nil {
		return
	}

	note := alerting.Notification{
		Channel:    report.Channel,
		Trigger:    trigger,
		Mode:       report.Mode,
		PeriodDays: report.PeriodDays,
		Items:      report.Items,
		Updated:    report.Updated,
		Failed:     report.Failed,
		Duration:   report.Duration,
		FinishedAt: s.now(),
		Exponent:   s.exponent,
	}
	sample, err := s.items.ListChannelItems(ctx, report.Channel, reportSampleSize)
	if err != nil {
		s.logger.Warn().Err(err).Str("channel", report.Channel).Msg("failed to load report sample")
	}
	for _, item := range sample {
		note.Sample = append(note.Sample, alerting.ItemLine{
			ProductCode: item.ProductCode,
			Price:       item.Price,
			Lowest:      item.LowestPriceBeforeDiscount,
		})
	}

	if err := s.notifier.Notify(ctx, note); err != nil {
		metrics.ErrorsTotal.WithLabelValues("notify").Inc()
		s.logger.Error().Err(err).Str("channel", report.Channel).Msg("failed to dispatch recompute report")
	}
}

// ChannelLockKey derives the advisory lock key of one channel.
func ChannelLockKey(base int64, channelCode string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(channelCode))
	return base ^ int64(h.Sum64())
}

func (s *Service) acquireLock(ctx context.Context, channelCode string) (func(), error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, nil
	}
	unlock, err := s.locker.AdvisoryLock(ctx, ChannelLockKey(s.lockKey, channelCode))
	if err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}
	return unlock, nil
}
