package tracker

import (
	"context"
	"time"
)

// Store persists run, item and snapshot records. Implementations must provide
// read-after-write consistency within a single run's lifetime; the engine
// relies on the store's row-level atomicity rather than its own locking.
type Store interface {
	SaveRun(ctx context.Context, run Run) error
	SaveItem(ctx context.Context, item Item) error
	SaveSnapshot(ctx context.Context, snap Snapshot) error
	GetRun(ctx context.Context, runID string) (Run, error)
	GetItem(ctx context.Context, itemID string) (Item, error)
	ListItems(ctx context.Context, runID string) ([]Item, error)
	// LoadLatestSnapshot returns the most recent snapshot for the listing,
	// with ok=false when the listing has no history yet.
	LoadLatestSnapshot(ctx context.Context, key ListingKey) (Snapshot, bool, error)
}

// Connector is a retailer-specific fetch+parse strategy.
type Connector interface {
	// Code returns the stable retailer identifier (e.g. "ozon").
	Code() string
	// Matches reports whether the URL belongs to this retailer.
	Matches(rawURL string) bool
	// ProductID extracts the retailer-external product id from the URL.
	ProductID(rawURL string) (string, bool)
	// Fetch retrieves and parses the product page into normalized fields.
	Fetch(ctx context.Context, rawURL string) (RawFields, error)
}

// Queue provides enqueue/dequeue semantics for executor tasks. EnqueueAfter
// parks the task for the given delay without occupying a worker.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	EnqueueAfter(ctx context.Context, task Task, delay time.Duration) error
	Dequeue(ctx context.Context) (Task, error)
}

// Limiter gates fetch traffic per retailer. Acquire blocks until a token is
// available or the timeout elapses; it never blocks indefinitely.
type Limiter interface {
	Acquire(ctx context.Context, retailer string, timeout time.Duration) error
}

// AlertSink receives each non-deduplicated persisted snapshot together with
// the computed delta (nil when the listing had no prior snapshot).
type AlertSink interface {
	OnSnapshotPersisted(ctx context.Context, snap Snapshot, delta *Delta) error
}

// BlobStore archives raw fetched payloads and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Hasher computes digests for snapshot fingerprints and blob paths.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
