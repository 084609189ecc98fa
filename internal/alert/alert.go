// Package alert turns persisted snapshot changes into downstream events.
package alert

import (
	"time"

	"github.com/shelfwatch/shelfwatch/internal/tracker"
)

// Event types emitted when a listing changes between snapshots.
const (
	EventPriceChanged  = "price_changed"
	EventRatingChanged = "rating_changed"
	EventStockChanged  = "stock_changed"
)

// Event describes one observed change on a tracked listing.
type Event struct {
	Type           string    `json:"type"`
	Retailer       string    `json:"retailer"`
	ProductID      string    `json:"product_id"`
	RunID          string    `json:"run_id"`
	SnapshotID     string    `json:"snapshot_id"`
	Title          string    `json:"title,omitempty"`
	PriceFinal     *float64  `json:"price_final,omitempty"`
	PriceChange    *float64  `json:"price_change,omitempty"`
	PriceChangePct *float64  `json:"price_change_pct,omitempty"`
	RatingChange   *float64  `json:"rating_change,omitempty"`
	InStock        bool      `json:"in_stock"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// EventsOf expands a snapshot delta into zero or more events. The first
// snapshot of a listing produces none: there is no baseline to compare with.
func EventsOf(snap tracker.Snapshot, delta *tracker.Delta) []Event {
	if delta == nil {
		return nil
	}
	base := Event{
		Retailer:   snap.Listing.Retailer,
		ProductID:  snap.Listing.ProductID,
		RunID:      snap.RunID,
		SnapshotID: snap.ID,
		Title:      snap.Title,
		PriceFinal: snap.PriceFinal,
		InStock:    snap.InStock,
		OccurredAt: snap.ScrapedAt,
	}

	var events []Event
	if delta.PriceChange != nil && *delta.PriceChange != 0 {
		ev := base
		ev.Type = EventPriceChanged
		ev.PriceChange = delta.PriceChange
		ev.PriceChangePct = delta.PriceChangePct
		events = append(events, ev)
	}
	if delta.RatingChange != nil && *delta.RatingChange != 0 {
		ev := base
		ev.Type = EventRatingChanged
		ev.RatingChange = delta.RatingChange
		events = append(events, ev)
	}
	if delta.StockChanged {
		ev := base
		ev.Type = EventStockChanged
		events = append(events, ev)
	}
	return events
}
