package kemudi

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// InFlightEntry is the bookkeeping record shared by all callers coalesced onto
// one execution. The coordinator owns it for its lifetime: created when the
// first caller arrives, removed from the active map exactly once at
// settlement. Joiners who already hold the entry pointer still observe the
// settled result after removal; the result lives on the entry, not the map.
type InFlightEntry struct {
	fingerprint string
	createdAt   time.Time

	mu       sync.Mutex
	refCount int
	response *Response
	err      error
	settled  bool
	done     chan struct{}
}

// Wait blocks until the owning execution settles or ctx is cancelled. A
// cancelled waiter merely detaches; it never affects the shared execution or
// the other joiners.
func (e *InFlightEntry) Wait(ctx context.Context) (*Response, error) {
	select {
	case <-e.done:
		e.mu.Lock()
		resp, err := e.response, e.err
		e.mu.Unlock()
		return resp, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// settle records the outcome and releases all waiters. Idempotent: only the
// first settlement wins, so Cancel and Complete cannot double-close done.
func (e *InFlightEntry) settle(resp *Response, err error) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.settled {
		return false
	}
	e.settled = true
	e.response = resp
	e.err = err
	close(e.done)
	return true
}

// DeduplicationCoordinator ensures at most one concurrent execution per
// fingerprint. All concurrent callers with the same fingerprint observe the
// same settled result, success or failure.
type DeduplicationCoordinator struct {
	mu      sync.RWMutex
	entries map[string]*InFlightEntry

	executions   uint64
	duplications uint64
}

// NewDeduplicationCoordinator returns an empty in-memory coordinator.
func NewDeduplicationCoordinator() *DeduplicationCoordinator {
	return &DeduplicationCoordinator{
		entries: make(map[string]*InFlightEntry),
	}
}

// GetOrCreateEntry returns the in-flight entry for key. The second return
// value is true when the caller created the entry and therefore owns the
// execution; joiners get false and should Wait on the entry.
func (dc *DeduplicationCoordinator) GetOrCreateEntry(key string) (*InFlightEntry, bool) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if entry, exists := dc.entries[key]; exists {
		entry.mu.Lock()
		entry.refCount++
		entry.mu.Unlock()
		atomic.AddUint64(&dc.duplications, 1)
		return entry, false
	}

	entry := &InFlightEntry{
		fingerprint: key,
		createdAt:   time.Now(),
		refCount:    1,
		done:        make(chan struct{}),
	}
	dc.entries[key] = entry
	return entry, true
}

// markExecution counts one actual invocation of the deduplicated work. Owners
// call it when the work starts, not when the entry is created, so an entry
// whose execution never launched (e.g. rejected by a full queue) does not
// inflate the execution count.
func (dc *DeduplicationCoordinator) markExecution() {
	atomic.AddUint64(&dc.executions, 1)
}

// Complete settles the entry for key and removes it from the active map. The
// removal happens exactly once, at settlement: a caller that joined before
// this point reads the result from the entry itself, and a caller arriving
// after this point starts a fresh execution.
func (dc *DeduplicationCoordinator) Complete(key string, resp *Response, err error) {
	dc.mu.Lock()
	entry, exists := dc.entries[key]
	if exists {
		delete(dc.entries, key)
	}
	dc.mu.Unlock()

	if !exists {
		return
	}
	entry.settle(resp, err)
}

// Cancel force-rejects the in-flight entry for key, releasing every current
// waiter with a cancellation error, and removes it from the map.
func (dc *DeduplicationCoordinator) Cancel(key string) bool {
	dc.mu.Lock()
	entry, exists := dc.entries[key]
	if exists {
		delete(dc.entries, key)
	}
	dc.mu.Unlock()

	if !exists {
		return false
	}
	return entry.settle(nil, &RequestError{
		Type:        ErrorTypeCancelled,
		Message:     "in-flight request cancelled",
		Cause:       ErrCancelled,
		Fingerprint: key,
		Timestamp:   time.Now(),
	})
}

// Execute runs fn at most once per key among concurrent callers. The owner
// invokes fn; joiners wait for and share its outcome. After settlement the key
// is free again and a subsequent call starts a fresh execution.
func (dc *DeduplicationCoordinator) Execute(ctx context.Context, key string, fn func() (*Response, error)) (*Response, error) {
	entry, owner := dc.GetOrCreateEntry(key)
	if !owner {
		return entry.Wait(ctx)
	}

	dc.markExecution()
	resp, err := fn()
	dc.Complete(key, resp, err)
	return resp, err
}

// IsRunning reports whether an execution for key is currently in flight.
func (dc *DeduplicationCoordinator) IsRunning(key string) bool {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	_, exists := dc.entries[key]
	return exists
}

// WaitFor attaches to an in-flight execution without counting as a joiner.
// The bool reports whether anything was in flight for key.
func (dc *DeduplicationCoordinator) WaitFor(ctx context.Context, key string) (*Response, error, bool) {
	dc.mu.RLock()
	entry, exists := dc.entries[key]
	dc.mu.RUnlock()
	if !exists {
		return nil, nil, false
	}
	resp, err := entry.Wait(ctx)
	return resp, err, true
}

// GetTaskInfo returns inspection data for the in-flight entry, if any.
func (dc *DeduplicationCoordinator) GetTaskInfo(key string) (TaskInfo, bool) {
	dc.mu.RLock()
	entry, exists := dc.entries[key]
	dc.mu.RUnlock()
	if !exists {
		return TaskInfo{}, false
	}
	entry.mu.Lock()
	refCount := entry.refCount
	entry.mu.Unlock()
	return TaskInfo{
		Fingerprint: entry.fingerprint,
		CreatedAt:   entry.createdAt,
		RefCount:    refCount,
		Age:         time.Since(entry.createdAt),
	}, true
}

// CleanupTimeoutTasks force-cancels every entry older than timeout. It is the
// backstop against an executor that never settles, preventing unbounded growth
// of the in-flight map. Returns the number of entries cancelled.
func (dc *DeduplicationCoordinator) CleanupTimeoutTasks(timeout time.Duration) int {
	cutoff := time.Now().Add(-timeout)

	dc.mu.Lock()
	var stale []*InFlightEntry
	for key, entry := range dc.entries {
		if entry.createdAt.Before(cutoff) {
			stale = append(stale, entry)
			delete(dc.entries, key)
		}
	}
	dc.mu.Unlock()

	for _, entry := range stale {
		entry.settle(nil, &RequestError{
			Type:        ErrorTypeCancelled,
			Message:     "in-flight request timed out during cleanup",
			Cause:       ErrCancelled,
			Fingerprint: entry.fingerprint,
			Timestamp:   time.Now(),
		})
	}
	return len(stale)
}

// Stats returns coordinator counters. SavedRequests equals the number of
// joins: every duplication is one executor invocation avoided.
func (dc *DeduplicationCoordinator) Stats() DedupStats {
	dc.mu.RLock()
	pending := len(dc.entries)
	dc.mu.RUnlock()

	executions := atomic.LoadUint64(&dc.executions)
	duplications := atomic.LoadUint64(&dc.duplications)

	rate := 0.0
	if executions+duplications > 0 {
		rate = float64(duplications) / float64(executions+duplications)
	}
	return DedupStats{
		Executions:        executions,
		Duplications:      duplications,
		SavedRequests:     duplications,
		DeduplicationRate: rate,
		Pending:           pending,
	}
}
