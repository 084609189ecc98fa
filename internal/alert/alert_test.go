package alert

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	publishermemory "github.com/shelfwatch/shelfwatch/internal/publisher/memory"
	"github.com/shelfwatch/shelfwatch/internal/tracker"
)

func fptr(v float64) *float64 { return &v }

func sampleSnapshot() tracker.Snapshot {
	return tracker.Snapshot{
		ID:         "snap-1",
		RunID:      "run-1",
		Listing:    tracker.ListingKey{Retailer: "ozon", ProductID: "166279183"},
		Title:      "Молоко 930 мл",
		PriceFinal: fptr(150),
		InStock:    true,
		ScrapedAt:  time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
}

func TestEventsOfNilDelta(t *testing.T) {
	t.Parallel()

	require.Nil(t, EventsOf(sampleSnapshot(), nil), "a first snapshot has no baseline to alert against")
}

func TestEventsOfPriceChange(t *testing.T) {
	t.Parallel()

	delta := &tracker.Delta{PriceChange: fptr(-50), PriceChangePct: fptr(-25)}
	events := EventsOf(sampleSnapshot(), delta)

	require.Len(t, events, 1)
	ev := events[0]
	require.Equal(t, EventPriceChanged, ev.Type)
	require.Equal(t, "ozon", ev.Retailer)
	require.Equal(t, "166279183", ev.ProductID)
	require.Equal(t, "snap-1", ev.SnapshotID)
	require.NotNil(t, ev.PriceChange)
	require.InDelta(t, -50, *ev.PriceChange, 1e-9)
	require.NotNil(t, ev.PriceChangePct)
	require.InDelta(t, -25, *ev.PriceChangePct, 1e-9)
}

func TestEventsOfZeroChangesAreSilent(t *testing.T) {
	t.Parallel()

	delta := &tracker.Delta{PriceChange: fptr(0), RatingChange: fptr(0)}
	require.Empty(t, EventsOf(sampleSnapshot(), delta))
}

func TestEventsOfMultipleChanges(t *testing.T) {
	t.Parallel()

	delta := &tracker.Delta{
		PriceChange:  fptr(10),
		RatingChange: fptr(-0.2),
		StockChanged: true,
	}
	events := EventsOf(sampleSnapshot(), delta)
	require.Len(t, events, 3)

	types := []string{events[0].Type, events[1].Type, events[2].Type}
	require.Equal(t, []string{EventPriceChanged, EventRatingChanged, EventStockChanged}, types)
}

type failingPublisher struct {
	err error
}

func (p *failingPublisher) Publish(_ context.Context, _ any) (string, error) {
	return "", p.err
}

func TestPublisherSinkPublishesEachEvent(t *testing.T) {
	t.Parallel()

	pub := publishermemory.New()
	sink := NewPublisherSink(pub, zap.NewNop())

	delta := &tracker.Delta{PriceChange: fptr(-50), StockChanged: true}
	require.NoError(t, sink.OnSnapshotPersisted(context.Background(), sampleSnapshot(), delta))

	payloads := pub.Payloads()
	require.Len(t, payloads, 2)

	ev, ok := payloads[0].(Event)
	require.True(t, ok)
	require.Equal(t, EventPriceChanged, ev.Type)
}

func TestPublisherSinkPropagatesPublishErrors(t *testing.T) {
	t.Parallel()

	pub := &failingPublisher{err: errors.New("broker down")}
	sink := NewPublisherSink(pub, zap.NewNop())

	delta := &tracker.Delta{StockChanged: true}
	err := sink.OnSnapshotPersisted(context.Background(), sampleSnapshot(), delta)
	require.Error(t, err)
	require.Contains(t, err.Error(), "stock_changed")
}

func TestLogSinkNeverFails(t *testing.T) {
	t.Parallel()

	sink := NewLogSink(zap.NewNop())
	delta := &tracker.Delta{PriceChange: fptr(1)}
	require.NoError(t, sink.OnSnapshotPersisted(context.Background(), sampleSnapshot(), delta))
	require.NoError(t, sink.OnSnapshotPersisted(context.Background(), sampleSnapshot(), nil))
}
