package memory

import (
	"context"
	"sync"

	"github.com/shelfwatch/shelfwatch/internal/tracker"
)

// TrackerStore provides an in-memory implementation for development/testing.
type TrackerStore struct {
	mu        sync.RWMutex
	runs      map[string]tracker.Run
	items     map[string]tracker.Item
	itemOrder map[string][]string
	snapshots map[string]tracker.Snapshot
	// history keeps snapshot IDs per listing in insertion order so the
	// latest snapshot lookup is O(1).
	history map[string][]string
}

// NewTrackerStore constructs a TrackerStore.
func NewTrackerStore() *TrackerStore {
	return &TrackerStore{
		runs:      make(map[string]tracker.Run),
		items:     make(map[string]tracker.Item),
		itemOrder: make(map[string][]string),
		snapshots: make(map[string]tracker.Snapshot),
		history:   make(map[string][]string),
	}
}

// SaveRun inserts or replaces a run.
func (s *TrackerStore) SaveRun(_ context.Context, run tracker.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}

// SaveItem inserts or replaces an item.
func (s *TrackerStore) SaveItem(_ context.Context, item tracker.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[item.ID]; !exists {
		s.itemOrder[item.RunID] = append(s.itemOrder[item.RunID], item.ID)
	}
	s.items[item.ID] = item
	return nil
}

// SaveSnapshot appends a snapshot to its listing history.
func (s *TrackerStore) SaveSnapshot(_ context.Context, snap tracker.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.snapshots[snap.ID]; !exists {
		key := snap.Listing.String()
		s.history[key] = append(s.history[key], snap.ID)
	}
	s.snapshots[snap.ID] = snap
	return nil
}

// GetRun fetches a run by ID.
func (s *TrackerStore) GetRun(_ context.Context, runID string) (tracker.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return tracker.Run{}, tracker.Errorf(tracker.ErrKindNotFound, "run %s not found", runID)
	}
	return run, nil
}

// GetItem fetches an item by ID.
func (s *TrackerStore) GetItem(_ context.Context, itemID string) (tracker.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[itemID]
	if !ok {
		return tracker.Item{}, tracker.Errorf(tracker.ErrKindNotFound, "item %s not found", itemID)
	}
	return item, nil
}

// ListItems returns a run's items in creation order.
func (s *TrackerStore) ListItems(_ context.Context, runID string) ([]tracker.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.itemOrder[runID]
	out := make([]tracker.Item, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.items[id])
	}
	return out, nil
}

// LoadLatestSnapshot returns the most recent snapshot for a listing, with
// ok=false when the listing has never been scraped.
func (s *TrackerStore) LoadLatestSnapshot(_ context.Context, key tracker.ListingKey) (tracker.Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.history[key.String()]
	if len(ids) == 0 {
		return tracker.Snapshot{}, false, nil
	}
	return s.snapshots[ids[len(ids)-1]], true, nil
}
