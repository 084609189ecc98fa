// Package executor implements the per-item scrape pipeline.
package executor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shelfwatch/shelfwatch/internal/connector"
	"github.com/shelfwatch/shelfwatch/internal/metrics"
	"github.com/shelfwatch/shelfwatch/internal/snapshot"
	"github.com/shelfwatch/shelfwatch/internal/tracker"
)

// Config controls Executor behavior.
type Config struct {
	// AcquireTimeout bounds the wait for a rate limiter slot.
	AcquireTimeout time.Duration
	// FetchTimeout bounds a single connector fetch+parse call.
	FetchTimeout time.Duration
}

// Result reports what happened to one task. Terminal is false when the item
// was re-enqueued for another attempt.
type Result struct {
	Terminal bool
	Item     tracker.Item
}

// Executor runs one item end-to-end: resolve connector, acquire a rate-limit
// slot, fetch, persist. It writes only item state; run aggregates belong to
// the orchestrator, which keeps the aggregate-mutation path single-writer.
type Executor struct {
	store     tracker.Store
	registry  *connector.Registry
	limiter   tracker.Limiter
	snapshots *snapshot.Store
	policy    *tracker.RetryPolicy
	queue     tracker.Queue
	cfg       Config
	logger    *zap.Logger
}

// New constructs an Executor.
func New(
	store tracker.Store,
	registry *connector.Registry,
	limiter tracker.Limiter,
	snapshots *snapshot.Store,
	policy *tracker.RetryPolicy,
	queue tracker.Queue,
	cfg Config,
	logger *zap.Logger,
) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 30 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 60 * time.Second
	}
	return &Executor{
		store:     store,
		registry:  registry,
		limiter:   limiter,
		snapshots: snapshots,
		policy:    policy,
		queue:     queue,
		cfg:       cfg,
		logger:    logger,
	}
}

// Execute processes one queued task. Every connector or limiter error is
// recovered here and mapped into a retry or a terminal item state; nothing
// raw escapes to the caller beyond store failures.
func (e *Executor) Execute(ctx context.Context, task tracker.Task) (Result, error) {
	item, err := e.store.GetItem(ctx, task.ItemID)
	if err != nil {
		return Result{}, fmt.Errorf("load item %s: %w", task.ItemID, err)
	}
	if item.Status.Terminal() {
		// Duplicate delivery; terminal items are immutable.
		return Result{}, nil
	}

	if item.Status == tracker.ItemStatusPending {
		item.Status = tracker.ItemStatusProcessing
		if err := e.store.SaveItem(ctx, item); err != nil {
			return Result{}, fmt.Errorf("mark item processing: %w", err)
		}
	}

	snap, execErr := e.attempt(ctx, &item)
	if execErr == nil {
		item.Status = tracker.ItemStatusCompleted
		item.SnapshotID = snap.ID
		item.LastError = nil
		if err := e.store.SaveItem(ctx, item); err != nil {
			return Result{}, fmt.Errorf("mark item completed: %w", err)
		}
		metrics.ObserveItem(item.Retailer, string(item.Status))
		e.logger.Debug("item completed",
			zap.String("item_id", item.ID),
			zap.String("retailer", item.Retailer),
			zap.String("snapshot_id", snap.ID),
		)
		return Result{Terminal: true, Item: item}, nil
	}

	return e.handleFailure(ctx, item, task, execErr)
}

// attempt runs the fetch pipeline once. The item's retailer is resolved as a
// side effect so even failed attempts record which connector handled them.
func (e *Executor) attempt(ctx context.Context, item *tracker.Item) (tracker.Snapshot, error) {
	conn, ok := e.registry.Resolve(item.URL)
	if !ok {
		return tracker.Snapshot{}, tracker.Errorf(tracker.ErrKindUnsupportedRetailer, "no connector matches %s", item.URL)
	}
	if item.Retailer == "" {
		item.Retailer = conn.Code()
		if err := e.store.SaveItem(ctx, *item); err != nil {
			return tracker.Snapshot{}, fmt.Errorf("record item retailer: %w", err)
		}
	}

	productID, ok := conn.ProductID(item.URL)
	if !ok {
		return tracker.Snapshot{}, tracker.Errorf(tracker.ErrKindUnsupportedRetailer, "cannot extract product id from %s", item.URL)
	}

	if err := e.limiter.Acquire(ctx, conn.Code(), e.cfg.AcquireTimeout); err != nil {
		return tracker.Snapshot{}, err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
	defer cancel()

	start := time.Now()
	fields, err := conn.Fetch(fetchCtx, item.URL)
	metrics.ObserveFetch(conn.Code(), time.Since(start))
	if err != nil {
		return tracker.Snapshot{}, err
	}

	key := tracker.ListingKey{Retailer: conn.Code(), ProductID: productID}
	snap, err := e.snapshots.Persist(ctx, item.RunID, item.ID, key, fields)
	if err != nil {
		return tracker.Snapshot{}, fmt.Errorf("persist snapshot: %w", err)
	}
	return snap, nil
}

func (e *Executor) handleFailure(
	ctx context.Context,
	item tracker.Item,
	task tracker.Task,
	execErr error,
) (Result, error) {
	attempt := task.Attempt
	if attempt < 1 {
		attempt = 1
	}

	if e.policy.ShouldRetry(execErr, item.Retailer, attempt) {
		item.RetryCount = attempt
		item.LastError = tracker.ItemErrorOf(execErr)
		if err := e.store.SaveItem(ctx, item); err != nil {
			return Result{}, fmt.Errorf("record item retry: %w", err)
		}
		delay := e.policy.NextDelay(attempt)
		next := tracker.Task{RunID: task.RunID, ItemID: task.ItemID, Attempt: attempt + 1}
		if err := e.queue.EnqueueAfter(ctx, next, delay); err != nil {
			return Result{}, fmt.Errorf("re-enqueue item: %w", err)
		}
		metrics.ObserveRetry(item.Retailer)
		e.logger.Info("item retry scheduled",
			zap.String("item_id", item.ID),
			zap.String("retailer", item.Retailer),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(execErr),
		)
		return Result{Terminal: false, Item: item}, nil
	}

	// A transient error that ran out of budget gets wrapped so callers can
	// tell "gave up" from "never retryable".
	if e.policy.Transient(execErr, item.Retailer) && attempt >= e.policy.MaxAttempts() {
		execErr = tracker.NewError(
			tracker.ErrKindRetryBudgetExhausted,
			fmt.Sprintf("gave up after %d attempts", attempt),
			execErr,
		)
	}

	item.Status = tracker.ItemStatusFailed
	item.RetryCount = attempt - 1
	item.LastError = tracker.ItemErrorOf(execErr)
	if err := e.store.SaveItem(ctx, item); err != nil {
		return Result{}, fmt.Errorf("mark item failed: %w", err)
	}
	metrics.ObserveItem(item.Retailer, string(item.Status))
	e.logger.Warn("item failed",
		zap.String("item_id", item.ID),
		zap.String("retailer", item.Retailer),
		zap.String("url", item.URL),
		zap.Int("attempt", attempt),
		zap.Error(execErr),
	)
	return Result{Terminal: true, Item: item}, nil
}
