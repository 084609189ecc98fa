package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/shelfwatch/shelfwatch/internal/tracker"
)

func newMockStore(t *testing.T) (*TrackerStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewTrackerStoreWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestSaveRunUpsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	started := now.Add(time.Second)

	run := tracker.Run{
		ID:       "run-1",
		Status:   tracker.RunStatusProcessing,
		Counters: tracker.RunCounters{Total: 3, Completed: 1, Failed: 1},
		Rejected: []tracker.RejectedURL{
			{URL: "not a url", Reason: "invalid url: missing scheme"},
		},
		CreatedAt: now,
		StartedAt: &started,
	}

	mock.ExpectExec("INSERT INTO scrape_runs").
		WithArgs(
			run.ID,
			"processing",
			3,
			1,
			1,
			[]byte(`[{"url":"not a url","reason":"invalid url: missing scheme"}]`),
			now,
			&started,
			(*time.Time)(nil),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveRun(context.Background(), run))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRunRequiresID(t *testing.T) {
	t.Parallel()

	store, _ := newMockStore(t)
	require.Error(t, store.SaveRun(context.Background(), tracker.Run{}))
}

func TestSaveItemMapsLastError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	kind := "network_error"
	msg := "connection reset"

	item := tracker.Item{
		ID:          "item-1",
		RunID:       "run-1",
		URL:         "https://www.ozon.ru/product/moloko-166279183/",
		Retailer:    "ozon",
		ProductType: tracker.ProductTypeOwn,
		Status:      tracker.ItemStatusProcessing,
		RetryCount:  1,
		LastError:   &tracker.ItemError{Kind: tracker.ErrKindNetwork, Message: msg},
		CreatedAt:   now,
	}

	mock.ExpectExec("INSERT INTO scrape_items").
		WithArgs(
			item.ID,
			item.RunID,
			item.URL,
			"ozon",
			"own",
			"processing",
			1,
			&kind,
			&msg,
			"",
			now,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveItem(context.Background(), item))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveSnapshotInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	price := 99.90
	rating := 4.8
	reviews := 120

	snap := tracker.Snapshot{
		ID:           "snap-1",
		RunID:        "run-1",
		ItemID:       "item-1",
		Listing:      tracker.ListingKey{Retailer: "ozon", ProductID: "166279183"},
		Title:        "Молоко 930 мл",
		PriceRegular: &price,
		PriceFinal:   &price,
		Currency:     "RUB",
		Rating:       &rating,
		ReviewsCount: &reviews,
		InStock:      true,
		ScrapedAt:    now,
		Fingerprint:  "abc123",
		RawURI:       "gs://bucket/raw/ozon/166279183/abc123",
	}

	mock.ExpectExec("INSERT INTO snapshots").
		WithArgs(
			snap.ID,
			snap.RunID,
			snap.ItemID,
			"ozon",
			"166279183",
			snap.Title,
			&price,
			(*float64)(nil),
			&price,
			"RUB",
			&rating,
			&reviews,
			true,
			now,
			"abc123",
			false,
			snap.RawURI,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveSnapshot(context.Background(), snap))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunScansRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	rows := pgxmock.NewRows([]string{
		"id", "status", "total", "completed", "failed", "rejected",
		"created_at", "started_at", "finished_at",
	}).AddRow(
		"run-1", "completed_with_errors", 3, 2, 1,
		[]byte(`[{"url":"x","reason":"invalid url: missing scheme"}]`),
		now, (*time.Time)(nil), (*time.Time)(nil),
	)

	mock.ExpectQuery("FROM scrape_runs").
		WithArgs("run-1").
		WillReturnRows(rows)

	run, err := store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, tracker.RunStatusCompletedWithErrors, run.Status)
	require.Equal(t, tracker.RunCounters{Total: 3, Completed: 2, Failed: 1}, run.Counters)
	require.Len(t, run.Rejected, 1)
	require.Equal(t, "x", run.Rejected[0].URL)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM scrape_runs").
		WithArgs("ghost").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetRun(context.Background(), "ghost")
	require.Error(t, err)
	require.Equal(t, tracker.ErrKindNotFound, tracker.KindOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListItemsScansRows(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	kind := "parse_error"
	msg := "missing price node"

	rows := pgxmock.NewRows([]string{
		"id", "run_id", "url", "retailer", "product_type", "status",
		"retry_count", "error_kind", "error_message", "snapshot_id", "created_at",
	}).AddRow(
		"item-1", "run-1", "https://www.ozon.ru/product/a-1/", "ozon", "own", "completed",
		0, (*string)(nil), (*string)(nil), "snap-1", now,
	).AddRow(
		"item-2", "run-1", "https://www.wildberries.ru/catalog/2/detail.aspx", "wildberries", "competitor", "failed",
		2, &kind, &msg, "", now.Add(time.Second),
	)

	mock.ExpectQuery("FROM scrape_items").
		WithArgs("run-1").
		WillReturnRows(rows)

	items, err := store.ListItems(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, items, 2)

	require.Equal(t, tracker.ItemStatusCompleted, items[0].Status)
	require.Nil(t, items[0].LastError)
	require.Equal(t, "snap-1", items[0].SnapshotID)

	require.Equal(t, tracker.ItemStatusFailed, items[1].Status)
	require.Equal(t, tracker.ProductTypeCompetitor, items[1].ProductType)
	require.NotNil(t, items[1].LastError)
	require.Equal(t, tracker.ErrKindParse, items[1].LastError.Kind)
	require.Equal(t, msg, items[1].LastError.Message)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadLatestSnapshotNoHistory(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM snapshots").
		WithArgs("ozon", "166279183").
		WillReturnError(pgx.ErrNoRows)

	_, ok, err := store.LoadLatestSnapshot(context.Background(), tracker.ListingKey{Retailer: "ozon", ProductID: "166279183"})
	require.NoError(t, err, "an empty history is not an error")
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadLatestSnapshotScansRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	price := 185.0
	rating := 4.9
	reviews := 312

	rows := pgxmock.NewRows([]string{
		"id", "run_id", "item_id", "retailer", "product_id", "title",
		"price_regular", "price_promo", "price_final", "currency",
		"rating", "reviews_count", "in_stock", "scraped_at", "fingerprint", "unchanged", "raw_uri",
	}).AddRow(
		"snap-1", "run-1", "item-1", "vkusvill", "1234", "Сметана 20%",
		&price, (*float64)(nil), &price, "RUB",
		&rating, &reviews, true, now, "abc123", false, "",
	)

	mock.ExpectQuery("FROM snapshots").
		WithArgs("vkusvill", "1234").
		WillReturnRows(rows)

	snap, ok, err := store.LoadLatestSnapshot(context.Background(), tracker.ListingKey{Retailer: "vkusvill", ProductID: "1234"})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "snap-1", snap.ID)
	require.Equal(t, "vkusvill", snap.Listing.Retailer)
	require.NotNil(t, snap.PriceFinal)
	require.InDelta(t, 185.0, *snap.PriceFinal, 1e-9)
	require.NoError(t, mock.ExpectationsWereMet())
}
