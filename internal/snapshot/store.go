// Package snapshot persists normalized product snapshots, deduplicating
// unchanged re-scrapes and handing deltas to the alerting boundary.
package snapshot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/shelfwatch/shelfwatch/internal/metrics"
	"github.com/shelfwatch/shelfwatch/internal/tracker"
)

// Config controls snapshot persistence behavior.
type Config struct {
	// BlobPrefix is the path prefix for archived raw payloads.
	BlobPrefix string
	// ContentType is stored alongside archived payloads.
	ContentType string
}

// Store appends snapshots to each listing's history. Snapshots whose
// fingerprint matches the previous one are still written (the history must be
// complete for audit) but flagged unchanged, which suppresses alerting.
type Store struct {
	store  tracker.Store
	hasher tracker.Hasher
	clock  tracker.Clock
	idGen  tracker.IDGenerator
	blobs  tracker.BlobStore
	alerts tracker.AlertSink
	cfg    Config
	logger *zap.Logger
}

// New constructs a Store. blobs and alerts may be nil; raw archiving and
// alert evaluation are then skipped.
func New(
	store tracker.Store,
	hasher tracker.Hasher,
	clock tracker.Clock,
	idGen tracker.IDGenerator,
	blobs tracker.BlobStore,
	alerts tracker.AlertSink,
	cfg Config,
	logger *zap.Logger,
) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	return &Store{
		store:  store,
		hasher: hasher,
		clock:  clock,
		idGen:  idGen,
		blobs:  blobs,
		alerts: alerts,
		cfg:    cfg,
		logger: logger,
	}
}

// Persist normalizes fields into a snapshot, fingerprints it against the
// listing's latest, writes it, and fires the alert hook for changed data.
func (s *Store) Persist(
	ctx context.Context,
	runID, itemID string,
	key tracker.ListingKey,
	fields tracker.RawFields,
) (tracker.Snapshot, error) {
	id, err := s.idGen.NewID()
	if err != nil {
		return tracker.Snapshot{}, fmt.Errorf("generate snapshot id: %w", err)
	}

	snap := tracker.Snapshot{
		ID:           id,
		RunID:        runID,
		ItemID:       itemID,
		Listing:      key,
		Title:        fields.Title,
		PriceRegular: fields.PriceRegular,
		PricePromo:   fields.PricePromo,
		PriceFinal:   fields.FinalPrice(),
		Currency:     fields.Currency,
		Rating:       fields.Rating,
		ReviewsCount: fields.ReviewsCount,
		InStock:      fields.InStock,
		ScrapedAt:    s.clock.Now(),
	}

	fingerprint, err := s.fingerprint(snap)
	if err != nil {
		return tracker.Snapshot{}, fmt.Errorf("fingerprint snapshot: %w", err)
	}
	snap.Fingerprint = fingerprint

	previous, hasPrevious, err := s.store.LoadLatestSnapshot(ctx, key)
	if err != nil {
		return tracker.Snapshot{}, fmt.Errorf("load latest snapshot: %w", err)
	}
	snap.Unchanged = hasPrevious && previous.Fingerprint == fingerprint

	if s.blobs != nil && len(fields.Body) > 0 {
		uri, blobErr := s.archiveRaw(ctx, key, fields.Body)
		if blobErr != nil {
			// Raw archiving is best-effort debugging material; losing it must
			// not fail the scrape.
			s.logger.Warn("raw payload archive failed",
				zap.String("listing", key.String()),
				zap.Error(blobErr),
			)
		} else {
			snap.RawURI = uri
		}
	}

	if err := s.store.SaveSnapshot(ctx, snap); err != nil {
		return tracker.Snapshot{}, fmt.Errorf("save snapshot: %w", err)
	}

	outcome := "changed"
	if snap.Unchanged {
		outcome = "unchanged"
	}
	metrics.ObserveSnapshot(key.Retailer, outcome)

	if !snap.Unchanged && s.alerts != nil {
		var delta *tracker.Delta
		if hasPrevious {
			d := ComputeDelta(snap, previous)
			delta = &d
		}
		if err := s.alerts.OnSnapshotPersisted(ctx, snap, delta); err != nil {
			// The snapshot is already durable; alert delivery failures are
			// logged and left to the alerting subsystem's own retries.
			s.logger.Error("alert hook failed",
				zap.String("snapshot_id", snap.ID),
				zap.String("listing", key.String()),
				zap.Error(err),
			)
		}
	}

	return snap, nil
}

// fingerprint hashes the economically meaningful fields only. Title changes
// or raw payload noise must not defeat deduplication.
func (s *Store) fingerprint(snap tracker.Snapshot) (string, error) {
	var b strings.Builder
	b.WriteString("price_final=")
	b.WriteString(formatFloat(snap.PriceFinal))
	b.WriteString("|in_stock=")
	b.WriteString(strconv.FormatBool(snap.InStock))
	b.WriteString("|rating=")
	b.WriteString(formatFloat(snap.Rating))
	b.WriteString("|reviews=")
	if snap.ReviewsCount != nil {
		b.WriteString(strconv.Itoa(*snap.ReviewsCount))
	} else {
		b.WriteString("-")
	}
	return s.hasher.Hash([]byte(b.String()))
}

func (s *Store) archiveRaw(ctx context.Context, key tracker.ListingKey, body []byte) (string, error) {
	hash, err := s.hasher.Hash(body)
	if err != nil {
		return "", fmt.Errorf("hash raw payload: %w", err)
	}
	path := fmt.Sprintf("%s/%s/%s", key.Retailer, key.ProductID, hash)
	if prefix := strings.Trim(s.cfg.BlobPrefix, "/"); prefix != "" {
		path = prefix + "/" + path
	}
	uri, err := s.blobs.PutObject(ctx, path, s.cfg.ContentType, body)
	if err != nil {
		return "", fmt.Errorf("put raw payload: %w", err)
	}
	return uri, nil
}

func formatFloat(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}
