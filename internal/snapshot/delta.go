package snapshot

import (
	"github.com/shelfwatch/shelfwatch/internal/tracker"
)

// ComputeDelta derives the change between a new snapshot and the previous one
// for the same listing. It is a pure function: no side effects, no store
// access. Percentage is nil when the previous final price is zero or missing,
// never NaN or infinity.
func ComputeDelta(current, previous tracker.Snapshot) tracker.Delta {
	delta := tracker.Delta{
		StockChanged: current.InStock != previous.InStock,
	}

	if current.PriceFinal != nil && previous.PriceFinal != nil {
		change := *current.PriceFinal - *previous.PriceFinal
		delta.PriceChange = &change
		if *previous.PriceFinal != 0 {
			pct := change / *previous.PriceFinal * 100
			delta.PriceChangePct = &pct
		}
	}

	if current.Rating != nil && previous.Rating != nil {
		change := *current.Rating - *previous.Rating
		delta.RatingChange = &change
	}

	return delta
}
