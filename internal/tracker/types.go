// Package tracker defines core types shared across subsystems.
package tracker

import (
	"fmt"
	"math"
	"time"
)

// RunStatus represents the lifecycle state of a scrape run.
type RunStatus string

// Run status values persisted in the store.
const (
	RunStatusPending             RunStatus = "pending"
	RunStatusProcessing          RunStatus = "processing"
	RunStatusCompleted           RunStatus = "completed"
	RunStatusCompletedWithErrors RunStatus = "completed_with_errors"
	RunStatusFailed              RunStatus = "failed"
)

// Terminal reports whether the run has finished processing.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusCompletedWithErrors, RunStatusFailed:
		return true
	default:
		return false
	}
}

// ItemStatus represents the lifecycle state of a single scrape item.
type ItemStatus string

// Item status values. Transitions are monotonic:
// pending -> processing -> {completed | failed}.
const (
	ItemStatusPending    ItemStatus = "pending"
	ItemStatusProcessing ItemStatus = "processing"
	ItemStatusCompleted  ItemStatus = "completed"
	ItemStatusFailed     ItemStatus = "failed"
)

// Terminal reports whether the item has reached a final state.
func (s ItemStatus) Terminal() bool {
	return s == ItemStatusCompleted || s == ItemStatusFailed
}

// ProductType distinguishes the caller's own listings from competitor ones.
type ProductType string

// Supported product types.
const (
	ProductTypeOwn        ProductType = "own"
	ProductTypeCompetitor ProductType = "competitor"
)

// RunCounters tracks terminal item outcomes for a run.
type RunCounters struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// RejectedURL records a submitted URL that never became an item.
type RejectedURL struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// Run is the aggregate tracking one submitted batch of URLs.
type Run struct {
	ID         string        `json:"id"`
	ItemIDs    []string      `json:"item_ids"`
	Counters   RunCounters   `json:"counters"`
	Status     RunStatus     `json:"status"`
	Rejected   []RejectedURL `json:"rejected,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	StartedAt  *time.Time    `json:"started_at,omitempty"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}

// ItemError carries the machine-readable kind plus a human-readable message
// for a failed item.
type ItemError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Item is one URL's tracked scrape task within a run.
type Item struct {
	ID          string      `json:"id"`
	RunID       string      `json:"run_id"`
	URL         string      `json:"url"`
	Retailer    string      `json:"retailer,omitempty"`
	ProductType ProductType `json:"product_type"`
	Status      ItemStatus  `json:"status"`
	RetryCount  int         `json:"retry_count"`
	LastError   *ItemError  `json:"last_error,omitempty"`
	SnapshotID  string      `json:"snapshot_id,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// ListingKey identifies "this product at this retailer". Snapshots for a key
// form an append-only history ordered by scrape time.
type ListingKey struct {
	Retailer  string `json:"retailer"`
	ProductID string `json:"product_id"`
}

// String renders the key in its canonical retailer:id form.
func (k ListingKey) String() string {
	return fmt.Sprintf("%s:%s", k.Retailer, k.ProductID)
}

// RawFields is the normalized output of a connector fetch, before snapshot
// persistence assigns identity and fingerprint.
type RawFields struct {
	ProductID    string
	Title        string
	PriceRegular *float64
	PricePromo   *float64
	PriceCard    *float64
	Currency     string
	InStock      bool
	Rating       *float64
	ReviewsCount *int
	Body         []byte
}

// FinalPrice returns the effective purchase price: the promo price when it is
// present and lower than the regular one, otherwise the regular price. A card
// price below both wins, matching how retailers display "from" pricing.
func (f RawFields) FinalPrice() *float64 {
	var final *float64
	for _, p := range []*float64{f.PriceRegular, f.PricePromo, f.PriceCard} {
		if p == nil {
			continue
		}
		if final == nil || *p < *final {
			final = p
		}
	}
	return final
}

// Snapshot is the normalized, timestamped product state for one listing.
// Immutable once written.
type Snapshot struct {
	ID           string     `json:"id"`
	RunID        string     `json:"run_id,omitempty"`
	ItemID       string     `json:"item_id,omitempty"`
	Listing      ListingKey `json:"listing"`
	Title        string     `json:"title,omitempty"`
	PriceRegular *float64   `json:"price_regular,omitempty"`
	PricePromo   *float64   `json:"price_promo,omitempty"`
	PriceFinal   *float64   `json:"price_final,omitempty"`
	Currency     string     `json:"currency"`
	Rating       *float64   `json:"rating,omitempty"`
	ReviewsCount *int       `json:"reviews_count,omitempty"`
	InStock      bool       `json:"in_stock"`
	ScrapedAt    time.Time  `json:"scraped_at"`
	Fingerprint  string     `json:"fingerprint"`
	// Unchanged marks a snapshot whose fingerprint matched the previous one
	// for the same listing. It is still recorded for history completeness but
	// must not trigger alert evaluation.
	Unchanged bool   `json:"unchanged"`
	RawURI    string `json:"raw_uri,omitempty"`
}

// Delta is the computed change between two consecutive snapshots of the same
// listing. Pointer fields are nil when the comparison is undefined.
type Delta struct {
	PriceChange    *float64 `json:"price_change,omitempty"`
	PriceChangePct *float64 `json:"price_change_pct,omitempty"`
	RatingChange   *float64 `json:"rating_change,omitempty"`
	StockChanged   bool     `json:"stock_changed"`
}

// Progress is the read-side summary exposed to polling callers.
type Progress struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Percentage int `json:"percentage"`
}

// ProgressOf derives a Progress from run counters.
func ProgressOf(c RunCounters) Progress {
	p := Progress{Total: c.Total, Completed: c.Completed, Failed: c.Failed}
	if c.Total > 0 {
		p.Percentage = int(math.Round(float64(c.Completed+c.Failed) / float64(c.Total) * 100))
	}
	return p
}

// RunView is the point-in-time view returned to callers: the run aggregate
// plus each item's current state.
type RunView struct {
	ID         string        `json:"id"`
	Status     RunStatus     `json:"status"`
	Progress   Progress      `json:"progress"`
	Rejected   []RejectedURL `json:"rejected,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	StartedAt  *time.Time    `json:"started_at,omitempty"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Items      []Item        `json:"items"`
}

// Task is one unit of executor work queued for the worker pool.
type Task struct {
	RunID   string
	ItemID  string
	Attempt int
}
