package snapshot

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shelfwatch/shelfwatch/internal/hash/sha256"
	"github.com/shelfwatch/shelfwatch/internal/storage/memory"
	"github.com/shelfwatch/shelfwatch/internal/tracker"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type seqIDGen struct{ n int }

func (g *seqIDGen) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("snap-%04d", g.n), nil
}

type recordingSink struct {
	snaps  []tracker.Snapshot
	deltas []*tracker.Delta
	err    error
}

func (s *recordingSink) OnSnapshotPersisted(_ context.Context, snap tracker.Snapshot, delta *tracker.Delta) error {
	s.snaps = append(s.snaps, snap)
	s.deltas = append(s.deltas, delta)
	return s.err
}

type failingBlobStore struct{}

func (failingBlobStore) PutObject(context.Context, string, string, []byte) (string, error) {
	return "", errors.New("bucket unavailable")
}

func newTestStore(t *testing.T, blobs tracker.BlobStore, sink tracker.AlertSink) (*Store, *memory.TrackerStore) {
	t.Helper()
	records := memory.NewTrackerStore()
	store := New(
		records,
		sha256.New(),
		fixedClock{now: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)},
		&seqIDGen{},
		blobs,
		sink,
		Config{BlobPrefix: "raw"},
		zap.NewNop(),
	)
	return store, records
}

func fields(price float64, rating float64, reviews int, inStock bool) tracker.RawFields {
	return tracker.RawFields{
		Title:        "Молоко Простоквашино 3.2%",
		PriceRegular: fptr(price),
		Currency:     "RUB",
		Rating:       fptr(rating),
		ReviewsCount: &reviews,
		InStock:      inStock,
	}
}

func TestPersistFirstSnapshotFiresAlertWithNilDelta(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	store, records := newTestStore(t, nil, sink)
	key := tracker.ListingKey{Retailer: "ozon", ProductID: "166279183"}

	snap, err := store.Persist(context.Background(), "run-1", "item-1", key, fields(99.90, 4.8, 120, true))
	require.NoError(t, err)

	require.Equal(t, "snap-0001", snap.ID)
	require.False(t, snap.Unchanged)
	require.NotEmpty(t, snap.Fingerprint)
	require.NotNil(t, snap.PriceFinal)
	require.InDelta(t, 99.90, *snap.PriceFinal, 1e-9)

	require.Len(t, sink.snaps, 1)
	require.Nil(t, sink.deltas[0], "first snapshot has nothing to compare against")

	stored, ok, err := records.LoadLatestSnapshot(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, snap.ID, stored.ID)
}

func TestPersistUnchangedSuppressesAlert(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	store, records := newTestStore(t, nil, sink)
	key := tracker.ListingKey{Retailer: "wildberries", ProductID: "18488524"}

	first, err := store.Persist(context.Background(), "run-1", "item-1", key, fields(129.90, 4.8, 1543, true))
	require.NoError(t, err)

	// Title changes must not defeat deduplication: only the economic fields
	// feed the fingerprint.
	repeat := fields(129.90, 4.8, 1543, true)
	repeat.Title = "Молоко Простоквашино ультрапастеризованное"
	second, err := store.Persist(context.Background(), "run-2", "item-2", key, repeat)
	require.NoError(t, err)

	require.True(t, second.Unchanged)
	require.Equal(t, first.Fingerprint, second.Fingerprint)
	require.Len(t, sink.snaps, 1, "unchanged snapshot must not reach the alert sink")

	// The history is still complete.
	latest, ok, err := records.LoadLatestSnapshot(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, second.ID, latest.ID)
}

func TestPersistChangedSnapshotCarriesDelta(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	store, _ := newTestStore(t, nil, sink)
	key := tracker.ListingKey{Retailer: "vkusvill", ProductID: "1234"}

	_, err := store.Persist(context.Background(), "run-1", "item-1", key, fields(200, 4.5, 300, true))
	require.NoError(t, err)

	second, err := store.Persist(context.Background(), "run-2", "item-2", key, fields(150, 4.5, 305, false))
	require.NoError(t, err)
	require.False(t, second.Unchanged)

	require.Len(t, sink.deltas, 2)
	delta := sink.deltas[1]
	require.NotNil(t, delta)
	require.NotNil(t, delta.PriceChange)
	require.InDelta(t, -50, *delta.PriceChange, 1e-9)
	require.NotNil(t, delta.PriceChangePct)
	require.InDelta(t, -25, *delta.PriceChangePct, 1e-9)
	require.True(t, delta.StockChanged)
}

func TestPersistArchivesRawPayload(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	store, _ := newTestStore(t, blobs, nil)
	key := tracker.ListingKey{Retailer: "perekrestok", ProductID: "3748271"}

	f := fields(89.90, 4.6, 87, true)
	f.Body = []byte("<html><body>fixture</body></html>")

	snap, err := store.Persist(context.Background(), "run-1", "item-1", key, f)
	require.NoError(t, err)
	require.Contains(t, snap.RawURI, "memory://raw/perekrestok/3748271/")
}

func TestPersistBlobFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	store, records := newTestStore(t, failingBlobStore{}, nil)
	key := tracker.ListingKey{Retailer: "lavka", ProductID: "smetana-prostokvashino-20"}

	f := fields(185, 4.9, 312, true)
	f.Body = []byte("<html></html>")

	snap, err := store.Persist(context.Background(), "run-1", "item-1", key, f)
	require.NoError(t, err, "losing the raw archive must not fail the scrape")
	require.Empty(t, snap.RawURI)

	_, ok, err := records.LoadLatestSnapshot(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestPersistAlertFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{err: errors.New("broker down")}
	store, records := newTestStore(t, nil, sink)
	key := tracker.ListingKey{Retailer: "ozon", ProductID: "42"}

	snap, err := store.Persist(context.Background(), "run-1", "item-1", key, fields(50, 4.0, 10, true))
	require.NoError(t, err, "the snapshot is durable before alerting runs")

	stored, err := recordsSnapshot(records, key)
	require.NoError(t, err)
	require.Equal(t, snap.ID, stored.ID)
}

func recordsSnapshot(records *memory.TrackerStore, key tracker.ListingKey) (tracker.Snapshot, error) {
	snap, ok, err := records.LoadLatestSnapshot(context.Background(), key)
	if err != nil {
		return tracker.Snapshot{}, err
	}
	if !ok {
		return tracker.Snapshot{}, errors.New("no snapshot persisted")
	}
	return snap, nil
}
