package alert

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/shelfwatch/shelfwatch/internal/tracker"
)

// Publisher is the transport alert events are emitted on.
type Publisher interface {
	Publish(ctx context.Context, payload any) (string, error)
}

// LogSink writes alert events to the structured log. It is the default sink
// when no event transport is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// OnSnapshotPersisted logs one line per change event.
func (s *LogSink) OnSnapshotPersisted(_ context.Context, snap tracker.Snapshot, delta *tracker.Delta) error {
	for _, ev := range EventsOf(snap, delta) {
		fields := []zap.Field{
			zap.String("retailer", ev.Retailer),
			zap.String("product_id", ev.ProductID),
			zap.String("snapshot_id", ev.SnapshotID),
			zap.Bool("in_stock", ev.InStock),
		}
		if ev.PriceChange != nil {
			fields = append(fields, zap.Float64("price_change", *ev.PriceChange))
		}
		if ev.PriceChangePct != nil {
			fields = append(fields, zap.Float64("price_change_pct", *ev.PriceChangePct))
		}
		if ev.RatingChange != nil {
			fields = append(fields, zap.Float64("rating_change", *ev.RatingChange))
		}
		s.logger.Info(ev.Type, fields...)
	}
	return nil
}

// PublisherSink forwards alert events to a message transport.
type PublisherSink struct {
	publisher Publisher
	logger    *zap.Logger
}

// NewPublisherSink creates a PublisherSink.
func NewPublisherSink(publisher Publisher, logger *zap.Logger) *PublisherSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublisherSink{publisher: publisher, logger: logger}
}

// OnSnapshotPersisted publishes one message per change event.
func (s *PublisherSink) OnSnapshotPersisted(ctx context.Context, snap tracker.Snapshot, delta *tracker.Delta) error {
	for _, ev := range EventsOf(snap, delta) {
		id, err := s.publisher.Publish(ctx, ev)
		if err != nil {
			return fmt.Errorf("publish %s event: %w", ev.Type, err)
		}
		s.logger.Debug("alert event published",
			zap.String("type", ev.Type),
			zap.String("message_id", id),
			zap.String("retailer", ev.Retailer),
			zap.String("product_id", ev.ProductID),
		)
	}
	return nil
}
