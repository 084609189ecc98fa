// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shelfwatch/shelfwatch/internal/tracker"
)

// TrackerStoreConfig controls the Postgres connection pool.
type TrackerStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// TrackerStore persists runs, items and snapshots in Postgres.
type TrackerStore struct {
	pool pool
}

// NewTrackerStore creates a Postgres-backed TrackerStore using the provided config.
func NewTrackerStore(ctx context.Context, cfg TrackerStoreConfig) (*TrackerStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &TrackerStore{pool: p}, nil
}

// NewTrackerStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewTrackerStoreWithPool(p pool) (*TrackerStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &TrackerStore{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *TrackerStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// SaveRun upserts a run row. Rejected URLs are stored as a JSONB document
// since they are only ever read back whole.
func (s *TrackerStore) SaveRun(ctx context.Context, run tracker.Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	rejected, err := json.Marshal(run.Rejected)
	if err != nil {
		return fmt.Errorf("marshal rejected urls: %w", err)
	}
	query := `
INSERT INTO scrape_runs (
	id, status, total, completed, failed, rejected, created_at, started_at, finished_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status,
	completed = EXCLUDED.completed,
	failed = EXCLUDED.failed,
	started_at = EXCLUDED.started_at,
	finished_at = EXCLUDED.finished_at`
	_, err = s.pool.Exec(ctx, query,
		run.ID,
		string(run.Status),
		run.Counters.Total,
		run.Counters.Completed,
		run.Counters.Failed,
		rejected,
		run.CreatedAt,
		run.StartedAt,
		run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}
	return nil
}

// SaveItem upserts an item row.
func (s *TrackerStore) SaveItem(ctx context.Context, item tracker.Item) error {
	if item.ID == "" {
		return fmt.Errorf("item id is required")
	}
	var errKind, errMsg *string
	if item.LastError != nil {
		kind := string(item.LastError.Kind)
		msg := item.LastError.Message
		errKind, errMsg = &kind, &msg
	}
	query := `
INSERT INTO scrape_items (
	id, run_id, url, retailer, product_type, status,
	retry_count, error_kind, error_message, snapshot_id, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (id) DO UPDATE SET
	retailer = EXCLUDED.retailer,
	status = EXCLUDED.status,
	retry_count = EXCLUDED.retry_count,
	error_kind = EXCLUDED.error_kind,
	error_message = EXCLUDED.error_message,
	snapshot_id = EXCLUDED.snapshot_id`
	_, err := s.pool.Exec(ctx, query,
		item.ID,
		item.RunID,
		item.URL,
		item.Retailer,
		string(item.ProductType),
		string(item.Status),
		item.RetryCount,
		errKind,
		errMsg,
		item.SnapshotID,
		item.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert item: %w", err)
	}
	return nil
}

// SaveSnapshot inserts a snapshot row. Snapshots are immutable, so a
// duplicate ID is an error rather than an upsert.
func (s *TrackerStore) SaveSnapshot(ctx context.Context, snap tracker.Snapshot) error {
	if snap.ID == "" {
		return fmt.Errorf("snapshot id is required")
	}
	query := `
INSERT INTO snapshots (
	id, run_id, item_id, retailer, product_id, title,
	price_regular, price_promo, price_final, currency,
	rating, reviews_count, in_stock, scraped_at, fingerprint, unchanged, raw_uri
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`
	_, err := s.pool.Exec(ctx, query,
		snap.ID,
		snap.RunID,
		snap.ItemID,
		snap.Listing.Retailer,
		snap.Listing.ProductID,
		snap.Title,
		snap.PriceRegular,
		snap.PricePromo,
		snap.PriceFinal,
		snap.Currency,
		snap.Rating,
		snap.ReviewsCount,
		snap.InStock,
		snap.ScrapedAt,
		snap.Fingerprint,
		snap.Unchanged,
		snap.RawURI,
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// GetRun fetches a run by ID. Item IDs are not materialized on the run row;
// use ListItems for the item set.
func (s *TrackerStore) GetRun(ctx context.Context, runID string) (tracker.Run, error) {
	query := `
SELECT id, status, total, completed, failed, rejected, created_at, started_at, finished_at
FROM scrape_runs WHERE id = $1`
	var (
		run      tracker.Run
		status   string
		rejected []byte
	)
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&run.ID,
		&status,
		&run.Counters.Total,
		&run.Counters.Completed,
		&run.Counters.Failed,
		&rejected,
		&run.CreatedAt,
		&run.StartedAt,
		&run.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return tracker.Run{}, tracker.Errorf(tracker.ErrKindNotFound, "run %s not found", runID)
	}
	if err != nil {
		return tracker.Run{}, fmt.Errorf("select run: %w", err)
	}
	run.Status = tracker.RunStatus(status)
	if len(rejected) > 0 {
		if err := json.Unmarshal(rejected, &run.Rejected); err != nil {
			return tracker.Run{}, fmt.Errorf("unmarshal rejected urls: %w", err)
		}
	}
	return run, nil
}

// GetItem fetches an item by ID.
func (s *TrackerStore) GetItem(ctx context.Context, itemID string) (tracker.Item, error) {
	query := itemSelect + ` WHERE id = $1`
	item, err := scanItem(s.pool.QueryRow(ctx, query, itemID))
	if errors.Is(err, pgx.ErrNoRows) {
		return tracker.Item{}, tracker.Errorf(tracker.ErrKindNotFound, "item %s not found", itemID)
	}
	if err != nil {
		return tracker.Item{}, fmt.Errorf("select item: %w", err)
	}
	return item, nil
}

// ListItems returns a run's items in creation order.
func (s *TrackerStore) ListItems(ctx context.Context, runID string) ([]tracker.Item, error) {
	query := itemSelect + ` WHERE run_id = $1 ORDER BY created_at, id`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("select run items: %w", err)
	}
	defer rows.Close()

	var out []tracker.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run items: %w", err)
	}
	return out, nil
}

// LoadLatestSnapshot returns the most recent snapshot for a listing, with
// ok=false when the listing has never been scraped.
func (s *TrackerStore) LoadLatestSnapshot(ctx context.Context, key tracker.ListingKey) (tracker.Snapshot, bool, error) {
	query := `
SELECT id, run_id, item_id, retailer, product_id, title,
	price_regular, price_promo, price_final, currency,
	rating, reviews_count, in_stock, scraped_at, fingerprint, unchanged, raw_uri
FROM snapshots
WHERE retailer = $1 AND product_id = $2
ORDER BY scraped_at DESC, id DESC
LIMIT 1`
	var snap tracker.Snapshot
	err := s.pool.QueryRow(ctx, query, key.Retailer, key.ProductID).Scan(
		&snap.ID,
		&snap.RunID,
		&snap.ItemID,
		&snap.Listing.Retailer,
		&snap.Listing.ProductID,
		&snap.Title,
		&snap.PriceRegular,
		&snap.PricePromo,
		&snap.PriceFinal,
		&snap.Currency,
		&snap.Rating,
		&snap.ReviewsCount,
		&snap.InStock,
		&snap.ScrapedAt,
		&snap.Fingerprint,
		&snap.Unchanged,
		&snap.RawURI,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return tracker.Snapshot{}, false, nil
	}
	if err != nil {
		return tracker.Snapshot{}, false, fmt.Errorf("select latest snapshot: %w", err)
	}
	return snap, true, nil
}

const itemSelect = `
SELECT id, run_id, url, retailer, product_type, status,
	retry_count, error_kind, error_message, snapshot_id, created_at
FROM scrape_items`

func scanItem(row pgx.Row) (tracker.Item, error) {
	var (
		item        tracker.Item
		productType string
		status      string
		errKind     *string
		errMsg      *string
	)
	err := row.Scan(
		&item.ID,
		&item.RunID,
		&item.URL,
		&item.Retailer,
		&productType,
		&status,
		&item.RetryCount,
		&errKind,
		&errMsg,
		&item.SnapshotID,
		&item.CreatedAt,
	)
	if err != nil {
		return tracker.Item{}, err
	}
	item.ProductType = tracker.ProductType(productType)
	item.Status = tracker.ItemStatus(status)
	if errKind != nil {
		item.LastError = &tracker.ItemError{Kind: tracker.ErrorKind(*errKind)}
		if errMsg != nil {
			item.LastError.Message = *errMsg
		}
	}
	return item, nil
}
