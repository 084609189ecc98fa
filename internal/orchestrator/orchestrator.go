// Package orchestrator owns the Run aggregate: fan-out of submitted URLs
// into items, dispatch onto the worker queue, and atomic progress updates.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/shelfwatch/shelfwatch/internal/connector"
	"github.com/shelfwatch/shelfwatch/internal/metrics"
	"github.com/shelfwatch/shelfwatch/internal/tracker"
)

// Config controls orchestrator behavior.
type Config struct {
	// MaxURLs caps the number of URLs per submitted run.
	MaxURLs int
}

// Submission is one URL requested for tracking.
type Submission struct {
	URL         string
	ProductType tracker.ProductType
}

// Orchestrator creates runs and is the single writer of run aggregates.
// Executors touch only item state; completions funnel back here through
// ItemFinished, so concurrent item completions can never lose an update.
type Orchestrator struct {
	store    tracker.Store
	registry *connector.Registry
	queue    tracker.Queue
	clock    tracker.Clock
	idGen    tracker.IDGenerator
	cfg      Config
	logger   *zap.Logger

	// mu serializes every run aggregate read-modify-write.
	mu sync.Mutex
}

// New constructs an Orchestrator.
func New(
	store tracker.Store,
	registry *connector.Registry,
	queue tracker.Queue,
	clock tracker.Clock,
	idGen tracker.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxURLs <= 0 {
		cfg.MaxURLs = 20
	}
	return &Orchestrator{
		store:    store,
		registry: registry,
		queue:    queue,
		clock:    clock,
		idGen:    idGen,
		cfg:      cfg,
		logger:   logger,
	}
}

// CreateRun validates the submitted URLs, rejects the unsupported ones
// up front, persists the run plus its items and dispatches them. URLs that
// fail validation never become items; they are reported on the run instead
// so no worker time is wasted on them.
func (o *Orchestrator) CreateRun(ctx context.Context, subs []Submission) (tracker.Run, error) {
	if len(subs) == 0 {
		return tracker.Run{}, tracker.Errorf(tracker.ErrKindValidation, "at least one URL is required")
	}
	if len(subs) > o.cfg.MaxURLs {
		return tracker.Run{}, tracker.Errorf(tracker.ErrKindValidation, "at most %d URLs per run, got %d", o.cfg.MaxURLs, len(subs))
	}

	runID, err := o.idGen.NewID()
	if err != nil {
		return tracker.Run{}, fmt.Errorf("generate run id: %w", err)
	}
	now := o.clock.Now()

	run := tracker.Run{
		ID:        runID,
		Status:    tracker.RunStatusPending,
		CreatedAt: now,
	}

	var items []tracker.Item
	for _, sub := range subs {
		normalized, rejectReason := o.validate(sub.URL)
		if rejectReason != "" {
			run.Rejected = append(run.Rejected, tracker.RejectedURL{URL: sub.URL, Reason: rejectReason})
			continue
		}
		itemID, idErr := o.idGen.NewID()
		if idErr != nil {
			return tracker.Run{}, fmt.Errorf("generate item id: %w", idErr)
		}
		productType := sub.ProductType
		if productType == "" {
			productType = tracker.ProductTypeOwn
		}
		items = append(items, tracker.Item{
			ID:          itemID,
			RunID:       runID,
			URL:         normalized,
			ProductType: productType,
			Status:      tracker.ItemStatusPending,
			CreatedAt:   now,
		})
		run.ItemIDs = append(run.ItemIDs, itemID)
	}

	run.Counters.Total = len(items)
	if len(items) == 0 {
		// Everything was rejected; the run is born terminal.
		run.Status = tracker.RunStatusFailed
		finished := now
		run.FinishedAt = &finished
	}

	if err := o.store.SaveRun(ctx, run); err != nil {
		return tracker.Run{}, fmt.Errorf("save run: %w", err)
	}
	for _, item := range items {
		if err := o.store.SaveItem(ctx, item); err != nil {
			return tracker.Run{}, fmt.Errorf("save item: %w", err)
		}
	}

	if len(items) == 0 {
		metrics.ObserveRun(string(run.Status))
		o.logger.Warn("run created with no items",
			zap.String("run_id", runID),
			zap.Int("rejected", len(run.Rejected)),
		)
		return run, nil
	}

	// The run is processing the instant the first item is dispatched.
	o.mu.Lock()
	run.Status = tracker.RunStatusProcessing
	started := o.clock.Now()
	run.StartedAt = &started
	err = o.store.SaveRun(ctx, run)
	o.mu.Unlock()
	if err != nil {
		return tracker.Run{}, fmt.Errorf("mark run processing: %w", err)
	}

	for _, item := range items {
		task := tracker.Task{RunID: runID, ItemID: item.ID, Attempt: 1}
		if err := o.queue.Enqueue(ctx, task); err != nil {
			return tracker.Run{}, fmt.Errorf("enqueue item %s: %w", item.ID, err)
		}
	}

	o.logger.Info("run created",
		zap.String("run_id", runID),
		zap.Int("items", len(items)),
		zap.Int("rejected", len(run.Rejected)),
	)
	return run, nil
}

// GetRun returns a consistent point-in-time view of the run and its items.
// The aggregate lock guarantees a reader can never observe a terminal run
// with non-terminal items or counters exceeding the total.
func (o *Orchestrator) GetRun(ctx context.Context, runID string) (tracker.RunView, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return tracker.RunView{}, fmt.Errorf("load run %s: %w", runID, err)
	}
	items, err := o.store.ListItems(ctx, runID)
	if err != nil {
		return tracker.RunView{}, fmt.Errorf("load run items: %w", err)
	}

	return tracker.RunView{
		ID:         run.ID,
		Status:     run.Status,
		Progress:   tracker.ProgressOf(run.Counters),
		Rejected:   run.Rejected,
		CreatedAt:  run.CreatedAt,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Items:      items,
	}, nil
}

// RetryFailed creates a brand-new run from the failed items of a previous
// one, going through the normal creation path so validation and dispatch
// stay identical. The original items are left untouched as audit trail.
func (o *Orchestrator) RetryFailed(ctx context.Context, runID string) (tracker.Run, error) {
	items, err := o.store.ListItems(ctx, runID)
	if err != nil {
		return tracker.Run{}, fmt.Errorf("load run items: %w", err)
	}

	var subs []Submission
	for _, item := range items {
		if item.Status == tracker.ItemStatusFailed {
			subs = append(subs, Submission{URL: item.URL, ProductType: item.ProductType})
		}
	}
	if len(subs) == 0 {
		return tracker.Run{}, tracker.Errorf(tracker.ErrKindValidation, "run %s has no failed items", runID)
	}
	return o.CreateRun(ctx, subs)
}

// ItemFinished folds one terminal item into the run aggregate. It is the
// only place run counters and terminal status are computed.
func (o *Orchestrator) ItemFinished(ctx context.Context, item tracker.Item) {
	if !item.Status.Terminal() {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	run, err := o.store.GetRun(ctx, item.RunID)
	if err != nil {
		o.logger.Error("load run for aggregate update failed",
			zap.String("run_id", item.RunID),
			zap.Error(err),
		)
		return
	}

	switch item.Status {
	case tracker.ItemStatusCompleted:
		run.Counters.Completed++
	case tracker.ItemStatusFailed:
		run.Counters.Failed++
	}

	if run.Counters.Completed+run.Counters.Failed >= run.Counters.Total {
		run.Status = terminalStatus(run.Counters)
		finished := o.clock.Now()
		run.FinishedAt = &finished
		metrics.ObserveRun(string(run.Status))
		o.logger.Info("run finished",
			zap.String("run_id", run.ID),
			zap.String("status", string(run.Status)),
			zap.Int("completed", run.Counters.Completed),
			zap.Int("failed", run.Counters.Failed),
		)
	}

	if err := o.store.SaveRun(ctx, run); err != nil {
		o.logger.Error("save run aggregate failed",
			zap.String("run_id", run.ID),
			zap.Error(err),
		)
	}
}

// validate runs the two creation-time checks: URL shape and retailer
// detection. It returns the normalized URL, or the rejection reason.
func (o *Orchestrator) validate(rawURL string) (string, string) {
	normalized, err := tracker.NormalizeURL(rawURL)
	if err != nil {
		return "", fmt.Sprintf("invalid url: %v", err)
	}
	if _, ok := o.registry.Resolve(normalized); !ok {
		return "", "no supported retailer matches this url"
	}
	return normalized, ""
}

// terminalStatus maps final counters onto the run status: failed only when
// everything failed, completed only when everything succeeded.
func terminalStatus(c tracker.RunCounters) tracker.RunStatus {
	switch {
	case c.Failed == c.Total:
		return tracker.RunStatusFailed
	case c.Completed == c.Total:
		return tracker.RunStatusCompleted
	default:
		return tracker.RunStatusCompletedWithErrors
	}
}
