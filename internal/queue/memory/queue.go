// Package memory provides the in-process task queue backing the worker pool.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shelfwatch/shelfwatch/internal/tracker"
)

// Queue is a bounded in-memory queue with context-aware operations. Delayed
// enqueues park the task on a timer, so a backing-off item never occupies a
// worker slot.
type Queue struct {
	ch      chan tracker.Task
	closeMu sync.Mutex
	closed  bool
	timers  sync.WaitGroup
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan tracker.Task, capacity),
	}
}

// Enqueue pushes a task into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, task tracker.Task) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- task:
		return nil
	}
}

// EnqueueAfter schedules the task to enter the queue once the delay elapses.
// The context bounds the eventual enqueue, not the wait.
func (q *Queue) EnqueueAfter(ctx context.Context, task tracker.Task, delay time.Duration) error {
	if delay <= 0 {
		return q.Enqueue(ctx, task)
	}
	q.closeMu.Lock()
	if q.closed {
		q.closeMu.Unlock()
		return errors.New("queue closed")
	}
	q.timers.Add(1)
	q.closeMu.Unlock()

	time.AfterFunc(delay, func() {
		defer q.timers.Done()
		select {
		case <-ctx.Done():
		case q.ch <- task:
		}
	})
	return nil
}

// Dequeue pops the next task, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (tracker.Task, error) {
	select {
	case <-ctx.Done():
		return tracker.Task{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case task, ok := <-q.ch:
		if !ok {
			return tracker.Task{}, errors.New("queue closed")
		}
		return task, nil
	}
}

// Close marks the queue closed for shutdown. Pending delay timers drain on
// their own; the channel stays open so in-flight sends never panic.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	q.closed = true
}
