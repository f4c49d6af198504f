package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"price-history/internal/pricing"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrItemNotFound indicates an unknown priced item.
	ErrItemNotFound = errors.New("storage: priced item not found")
	// ErrBackdatedEntry indicates a price change logged before the item's latest entry.
	ErrBackdatedEntry = errors.New("storage: price change predates latest log entry")

	errNoEntry = errors.New("storage: no log entry")
)

const (
	itemColumns = `id, product_code, channel_code, price, original_price,
        lowest_price_before_discount, lowest_price_log_id, updated_at`

	getItemSQL = `SELECT ` + itemColumns + `
    FROM priced_items
    WHERE id = $1;`

	lockItemSQL = `SELECT ` + itemColumns + `
    FROM priced_items
    WHERE id = $1
    FOR UPDATE;`

	findItemSQL = `SELECT ` + itemColumns + `
    FROM priced_items
    WHERE product_code = $1 AND channel_code = $2;`

	listChannelItemsSQL = `SELECT ` + itemColumns + `
    FROM priced_items
    WHERE channel_code = $1
    ORDER BY id
    LIMIT $2;`

	upsertItemPriceSQL = `INSERT INTO priced_items (product_code, channel_code, price, original_price)
    VALUES ($1, $2, $3, $4)
    ON CONFLICT (product_code, channel_code) DO UPDATE
    SET price          = EXCLUDED.price,
        original_price = EXCLUDED.original_price,
        updated_at     = now()
    RETURNING id;`

	updateItemPriceSQL = `UPDATE priced_items
    SET price = $2, original_price = $3, updated_at = now()
    WHERE id = $1;`

	updateLowestPriceSQL = `UPDATE priced_items
    SET lowest_price_before_discount = $2,
        lowest_price_log_id          = $3,
        updated_at                   = now()
    WHERE id = $1
      AND (lowest_price_log_id IS NULL OR lowest_price_log_id <= COALESCE($3::bigint, 0));`

	insertLogEntrySQL = `INSERT INTO price_log_entries (priced_item_id, price, original_price, logged_at)
    VALUES ($1, $2, $3, $4)
    RETURNING id;`

	findLatestEntrySQL = `SELECT id, priced_item_id, price, original_price, logged_at
    FROM price_log_entries
    WHERE priced_item_id = $1
    ORDER BY id DESC
    LIMIT 1;`

	findLowestInWindowSQL = `SELECT MIN(price)
    FROM price_log_entries
    WHERE priced_item_id = $1
      AND logged_at >= $2
      AND id <> $3;`

	findBoundaryPriceSQL = `SELECT price
    FROM price_log_entries
    WHERE priced_item_id = $1
      AND logged_at < $2
    ORDER BY id DESC
    LIMIT 1;`

	listEntriesSQL = `SELECT id, priced_item_id, price, original_price, logged_at
    FROM price_log_entries
    WHERE priced_item_id = $1
      AND logged_at >= $2
      AND logged_at < $3
    ORDER BY id;`

	getWindowConfigSQL = `SELECT code, checking_period_days, updated_at
    FROM channels
    WHERE code = $1;`

	setCheckingPeriodSQL = `WITH previous AS (
        SELECT checking_period_days FROM channels WHERE code = $1
    )
    INSERT INTO channels (code, checking_period_days)
    VALUES ($1, $2)
    ON CONFLICT (code) DO UPDATE
    SET checking_period_days = EXCLUDED.checking_period_days,
        updated_at           = now()
    RETURNING (SELECT checking_period_days FROM previous);`

	// recomputeChannelSQL is the set oriented form of pricing.LowestBeforeDiscountAtLatest.
	// The discount state comes from the latest entry. Boundary uses "<", the window uses
	// ">=", the latest entry is excluded from the window and LEAST ignores NULL candidates.
	// It returns the number of resolved items and the number of rows written.
	recomputeChannelSQL = `WITH latest AS (
        SELECT DISTINCT ON (e.priced_item_id)
            e.priced_item_id,
            e.id,
            e.price,
            e.original_price,
            ((e.logged_at AT TIME ZONE $3) - make_interval(days => $2::int)) AT TIME ZONE $3 AS start_date
        FROM price_log_entries e
        JOIN priced_items i ON i.id = e.priced_item_id
        WHERE i.channel_code = $1
        ORDER BY e.priced_item_id, e.id DESC
    ),
    resolved AS (
        SELECT
            i.id,
            l.id AS latest_id,
            CASE
                WHEN l.id IS NULL OR l.original_price IS NULL OR l.price >= l.original_price THEN NULL
                ELSE LEAST(
                    (SELECT b.price
                       FROM price_log_entries b
                      WHERE b.priced_item_id = i.id
                        AND b.logged_at < l.start_date
                      ORDER BY b.id DESC
                      LIMIT 1),
                    (SELECT MIN(w.price)
                       FROM price_log_entries w
                      WHERE w.priced_item_id = i.id
                        AND w.logged_at >= l.start_date
                        AND w.id <> l.id)
                )
            END AS lowest
        FROM priced_items i
        LEFT JOIN latest l ON l.priced_item_id = i.id
        WHERE i.channel_code = $1
    ),
    updated AS (
        UPDATE priced_items p
        SET lowest_price_before_discount = r.lowest,
            lowest_price_log_id          = r.latest_id,
            updated_at                   = now()
        FROM resolved r
        WHERE p.id = r.id
          AND (p.lowest_price_log_id IS NULL OR p.lowest_price_log_id <= COALESCE(r.latest_id, 0))
        RETURNING p.id
    )
    SELECT (SELECT count(*) FROM resolved), (SELECT count(*) FROM updated);`

	notifySQL = `SELECT pg_notify($1, $2);`

	advisoryLockSQL   = `SELECT pg_advisory_lock($1);`
	advisoryUnlockSQL = `SELECT pg_advisory_unlock($1);`
)

// PriceLogStore is the append only price log.
type PriceLogStore interface {
	pricing.LogReader
	ListEntries(ctx context.Context, itemID int64, from, to time.Time) ([]pricing.LogEntry, error)
}

// ItemStore defines operations on priced items.
type ItemStore interface {
	GetItem(ctx context.Context, id int64) (pricing.PricedItem, error)
	FindItem(ctx context.Context, productCode, channelCode string) (pricing.PricedItem, error)
	ListChannelItems(ctx context.Context, channelCode string, limit int) ([]pricing.PricedItem, error)
	// ApplyPriceChange updates the item's price and appends a log entry in one transaction.
	ApplyPriceChange(ctx context.Context, change PriceChange) (pricing.PricedItem, pricing.LogEntry, error)
	// UpdateLowestPrice writes the derived value unless a fresher one is already stored.
	UpdateLowestPrice(ctx context.Context, itemID int64, lowest, latestID *int64) (bool, error)
}

// ChannelStore defines operations on channel price history configuration.
type ChannelStore interface {
	GetWindowConfig(ctx context.Context, channelCode string) (*pricing.WindowConfig, error)
	// SetCheckingPeriod stores days and reports whether the value changed.
	SetCheckingPeriod(ctx context.Context, channelCode string, days int) (bool, error)
}

// ChannelRecomputer recomputes a whole channel with one statement.
type ChannelRecomputer interface {
	// RecomputeChannel reports how many items were resolved and how many of them were written.
	RecomputeChannel(ctx context.Context, channelCode string, window pricing.Window) (items, updated int64, err error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	AdvisoryLock(ctx context.Context, key int64) (unlock func(), err error)
}

// Notifier publishes on a LISTEN/NOTIFY channel.
type Notifier interface {
	Notify(ctx context.Context, channel, payload string) error
}

// PriceChange is a new price for an item, addressed by id or by product and channel.
type PriceChange struct {
	ItemID        int64
	ProductCode   string
	ChannelCode   string
	Price         int64
	OriginalPrice *int64
	LoggedAt      time.Time
}

// Store aggregates access to priced items, the price log and channels.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Acquire hands out a dedicated connection, used by the LISTEN loop.
func (s *Store) Acquire(ctx context.Context) (*pgxpool.Conn, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	return pool.Acquire(ctx)
}

// AdvisoryLock blocks until the postgres advisory lock is held and returns a release func.
func (s *Store) AdvisoryLock(ctx context.Context, key int64) (func(), error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	if _, err := conn.Exec(ctx, advisoryLockSQL, key); err != nil {
		conn.Release()
		return nil, fmt.Errorf("advisory lock: %w", err)
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// the session lock dies with the connection
			conn.Conn().Close(ctxUnlock) //nolint:errcheck
		}
		conn.Release()
	}
	return unlock, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// GetItem loads a priced item by id.
func (s *Store) GetItem(ctx context.Context, id int64) (pricing.PricedItem, error) {
	pool, err := s.getPool()
	if err != nil {
		return pricing.PricedItem{}, err
	}
	item, err := scanItem(pool.QueryRow(ctx, getItemSQL, id))
	if err != nil {
		return pricing.PricedItem{}, fmt.Errorf("get priced item %d: %w", id, err)
	}
	return item, nil
}

// FindItem loads a priced item by product and channel.
func (s *Store) FindItem(ctx context.Context, productCode, channelCode string) (pricing.PricedItem, error) {
	pool, err := s.getPool()
	if err != nil {
		return pricing.PricedItem{}, err
	}
	item, err := scanItem(pool.QueryRow(ctx, findItemSQL, productCode, channelCode))
	if err != nil {
		return pricing.PricedItem{}, fmt.Errorf("find priced item %s/%s: %w", productCode, channelCode, err)
	}
	return item, nil
}

// ListChannelItems lists a channel's items by id; limit <= 0 lists all of them.
func (s *Store) ListChannelItems(ctx context.Context, channelCode string, limit int) ([]pricing.PricedItem, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var limitArg any
	if limit > 0 {
		limitArg = limit
	}

	rows, queryErr := pool.Query(ctx, listChannelItemsSQL, channelCode, limitArg)
	if queryErr != nil {
		return nil, fmt.Errorf("list channel items: %w", queryErr)
	}
	defer rows.Close()

	items := make([]pricing.PricedItem, 0)
	for rows.Next() {
		item, scanErr := scanItem(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		items = append(items, item)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return items, nil
}

// ApplyPriceChange persists a new price and appends the matching log entry.
func (s *Store) ApplyPriceChange(ctx context.Context, change PriceChange) (pricing.PricedItem, pricing.LogEntry, error) {
	pool, err := s.getPool()
	if err != nil {
		return pricing.PricedItem{}, pricing.LogEntry{}, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return pricing.PricedItem{}, pricing.LogEntry{}, fmt.Errorf("begin price change: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	itemID := change.ItemID
	if itemID == 0 {
		if err := tx.QueryRow(ctx, upsertItemPriceSQL,
			change.ProductCode, change.ChannelCode, change.Price, change.OriginalPrice,
		).Scan(&itemID); err != nil {
			return pricing.PricedItem{}, pricing.LogEntry{}, fmt.Errorf("upsert priced item: %w", err)
		}
	} else {
		tag, err := tx.Exec(ctx, updateItemPriceSQL, itemID, change.Price, change.OriginalPrice)
		if err != nil {
			return pricing.PricedItem{}, pricing.LogEntry{}, fmt.Errorf("update priced item: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return pricing.PricedItem{}, pricing.LogEntry{}, fmt.Errorf("%w: %d", ErrItemNotFound, itemID)
		}
	}

	// the row lock serialises appends for one item
	item, err := scanItem(tx.QueryRow(ctx, lockItemSQL, itemID))
	if err != nil {
		return pricing.PricedItem{}, pricing.LogEntry{}, fmt.Errorf("lock priced item: %w", err)
	}

	entry := pricing.NewLogEntry(item, change.LoggedAt, change.Price, change.OriginalPrice)

	latest, err := scanEntry(tx.QueryRow(ctx, findLatestEntrySQL, itemID))
	switch {
	case errors.Is(err, errNoEntry):
	case err != nil:
		return pricing.PricedItem{}, pricing.LogEntry{}, fmt.Errorf("find latest log entry: %w", err)
	case entry.LoggedAt.Before(latest.LoggedAt):
		return pricing.PricedItem{}, pricing.LogEntry{}, fmt.Errorf("%w: %s < %s", ErrBackdatedEntry,
			entry.LoggedAt.Format(time.RFC3339Nano), latest.LoggedAt.Format(time.RFC3339Nano))
	}

	if err := tx.QueryRow(ctx, insertLogEntrySQL,
		entry.PricedItemID, entry.Price, entry.OriginalPrice, entry.LoggedAt,
	).Scan(&entry.ID); err != nil {
		return pricing.PricedItem{}, pricing.LogEntry{}, fmt.Errorf("append log entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return pricing.PricedItem{}, pricing.LogEntry{}, fmt.Errorf("commit price change: %w", err)
	}
	return item, entry, nil
}

// UpdateLowestPrice writes the derived value guarded by the log id it was computed from.
func (s *Store) UpdateLowestPrice(ctx context.Context, itemID int64, lowest, latestID *int64) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	tag, execErr := pool.Exec(ctx, updateLowestPriceSQL, itemID, lowest, latestID)
	if execErr != nil {
		return false, fmt.Errorf("update lowest price: %w", execErr)
	}
	return tag.RowsAffected() > 0, nil
}

// FindLatest implements pricing.LogReader.
func (s *Store) FindLatest(ctx context.Context, itemID int64) (*pricing.LogEntry, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	entry, err := scanEntry(pool.QueryRow(ctx, findLatestEntrySQL, itemID))
	if errors.Is(err, errNoEntry) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find latest entry: %w", err)
	}
	return &entry, nil
}

// FindLowestInWindow implements pricing.LogReader.
func (s *Store) FindLowestInWindow(ctx context.Context, excludeID, itemID int64, startDate time.Time) (*int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	var lowest *int64
	if err := pool.QueryRow(ctx, findLowestInWindowSQL, itemID, startDate, excludeID).Scan(&lowest); err != nil {
		return nil, fmt.Errorf("find lowest in window: %w", err)
	}
	return lowest, nil
}

// FindBoundaryPrice implements pricing.LogReader.
func (s *Store) FindBoundaryPrice(ctx context.Context, itemID int64, startDate time.Time) (*int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	var price int64
	if err := pool.QueryRow(ctx, findBoundaryPriceSQL, itemID, startDate).Scan(&price); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find boundary price: %w", err)
	}
	return &price, nil
}

// ListEntries lists an item's log entries logged in [from, to).
func (s *Store) ListEntries(ctx context.Context, itemID int64, from, to time.Time) ([]pricing.LogEntry, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listEntriesSQL, itemID, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list log entries: %w", queryErr)
	}
	defer rows.Close()

	entries := make([]pricing.LogEntry, 0)
	for rows.Next() {
		entry, scanErr := scanEntry(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		entries = append(entries, entry)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entries, nil
}

// GetWindowConfig returns the channel configuration, nil when the channel is unknown.
func (s *Store) GetWindowConfig(ctx context.Context, channelCode string) (*pricing.WindowConfig, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	var cfg pricing.WindowConfig
	if err := pool.QueryRow(ctx, getWindowConfigSQL, channelCode).Scan(
		&cfg.ChannelCode,
		&cfg.CheckingPeriodDays,
		&cfg.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get window config: %w", err)
	}
	return &cfg, nil
}

// SetCheckingPeriod stores the channel's checking period.
func (s *Store) SetCheckingPeriod(ctx context.Context, channelCode string, days int) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	var previous *int
	if err := pool.QueryRow(ctx, setCheckingPeriodSQL, channelCode, days).Scan(&previous); err != nil {
		return false, fmt.Errorf("set checking period: %w", err)
	}
	return previous == nil || *previous != days, nil
}

// RecomputeChannel rewrites the lowest price of every item in the channel in one statement.
// Items whose stored value comes from a newer log entry are counted but not written.
func (s *Store) RecomputeChannel(ctx context.Context, channelCode string, window pricing.Window) (int64, int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, 0, err
	}
	if err := window.Validate(); err != nil {
		return 0, 0, err
	}
	var items, updated int64
	row := pool.QueryRow(ctx, recomputeChannelSQL, channelCode, window.Days, window.LocationName())
	if err := row.Scan(&items, &updated); err != nil {
		return 0, 0, fmt.Errorf("recompute channel %s: %w", channelCode, err)
	}
	return items, updated, nil
}

// Notify publishes payload on channel.
func (s *Store) Notify(ctx context.Context, channel, payload string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, notifySQL, channel, payload); execErr != nil {
		return fmt.Errorf("notify %s: %w", channel, execErr)
	}
	return nil
}

func scanItem(row pgx.Row) (pricing.PricedItem, error) {
	var item pricing.PricedItem
	if err := row.Scan(
		&item.ID,
		&item.ProductCode,
		&item.ChannelCode,
		&item.Price,
		&item.OriginalPrice,
		&item.LowestPriceBeforeDiscount,
		&item.LowestPriceLogID,
		&item.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pricing.PricedItem{}, ErrItemNotFound
		}
		return pricing.PricedItem{}, err
	}
	return item, nil
}

func scanEntry(row pgx.Row) (pricing.LogEntry, error) {
	var entry pricing.LogEntry
	if err := row.Scan(
		&entry.ID,
		&entry.PricedItemID,
		&entry.Price,
		&entry.OriginalPrice,
		&entry.LoggedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pricing.LogEntry{}, errNoEntry
		}
		return pricing.LogEntry{}, err
	}
	return entry, nil
}

var (
	_ PriceLogStore     = (*Store)(nil)
	_ ItemStore         = (*Store)(nil)
	_ ChannelStore      = (*Store)(nil)
	_ ChannelRecomputer = (*Store)(nil)
	_ AdvisoryLocker    = (*Store)(nil)
	_ Notifier          = (*Store)(nil)
)
