package kemudi

import (
	"context"
	"sync"
	"time"
)

// queueEntry is one waiter parked in the gate's overflow queue. The grant
// channel is buffered so the releaser never blocks handing over a slot.
type queueEntry struct {
	priority   int
	seq        uint64
	enqueuedAt time.Time
	grant      chan error
}

// ConcurrencyGate admits at most maxConcurrent simultaneous executions and
// queues overflow up to maxQueueSize. Queued waiters are released strictly
// FIFO unless priority queueing is enabled, in which case the highest-priority
// oldest-enqueued waiter is released first.
//
// Every Acquire that returns nil must be matched by exactly one Release.
type ConcurrencyGate struct {
	mu            sync.Mutex
	maxConcurrent int
	maxQueueSize  int
	active        int
	queue         []*queueEntry
	priority      bool
	seq           uint64
}

// NewConcurrencyGate returns a FIFO gate. maxConcurrent must be positive;
// maxQueueSize of zero means overflow fails immediately.
func NewConcurrencyGate(maxConcurrent, maxQueueSize int) *ConcurrencyGate {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if maxQueueSize < 0 {
		maxQueueSize = 0
	}
	return &ConcurrencyGate{
		maxConcurrent: maxConcurrent,
		maxQueueSize:  maxQueueSize,
	}
}

// NewPriorityConcurrencyGate returns a gate that releases queued waiters by
// descending priority, oldest first within a priority.
func NewPriorityConcurrencyGate(maxConcurrent, maxQueueSize int) *ConcurrencyGate {
	g := NewConcurrencyGate(maxConcurrent, maxQueueSize)
	g.priority = true
	return g
}

// Acquire obtains an execution slot, queueing if none is free. It returns
// ErrQueueFull when the queue is at capacity, a cancellation error if the
// queue is cancelled, or ctx.Err() if the caller gives up while queued.
// Abandoning the queue never perturbs the active count.
func (g *ConcurrencyGate) Acquire(ctx context.Context, priority int) error {
	g.mu.Lock()
	if g.active < g.maxConcurrent {
		g.active++
		g.mu.Unlock()
		return nil
	}

	if len(g.queue) >= g.maxQueueSize {
		g.mu.Unlock()
		return &RequestError{
			Type:      ErrorTypeQueueFull,
			Message:   "concurrency queue is at capacity",
			Cause:     ErrQueueFull,
			Timestamp: time.Now(),
		}
	}

	g.seq++
	entry := &queueEntry{
		priority:   priority,
		seq:        g.seq,
		enqueuedAt: time.Now(),
		grant:      make(chan error, 1),
	}
	g.queue = append(g.queue, entry)
	g.mu.Unlock()

	select {
	case err := <-entry.grant:
		return err
	case <-ctx.Done():
		g.mu.Lock()
		for i, e := range g.queue {
			if e == entry {
				g.queue = append(g.queue[:i], g.queue[i+1:]...)
				g.mu.Unlock()
				return ctx.Err()
			}
		}
		g.mu.Unlock()
		// The grant raced with cancellation: the slot was already handed to
		// this entry, so consume it and give it back.
		if err := <-entry.grant; err == nil {
			g.Release()
		}
		return ctx.Err()
	}
}

// Release returns a slot. If waiters are queued the slot transfers directly to
// the next one (the active count is unchanged); otherwise the count drops.
func (g *ConcurrencyGate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.queue) > 0 {
		next := g.pop()
		next.grant <- nil
		return
	}
	if g.active > 0 {
		g.active--
	}
}

// pop removes and returns the next waiter to release. Caller holds g.mu.
func (g *ConcurrencyGate) pop() *queueEntry {
	idx := 0
	if g.priority {
		for i, e := range g.queue {
			best := g.queue[idx]
			if e.priority > best.priority || (e.priority == best.priority && e.seq < best.seq) {
				idx = i
			}
		}
	}
	entry := g.queue[idx]
	g.queue = append(g.queue[:idx], g.queue[idx+1:]...)
	return entry
}

// CancelQueue rejects every queued (not yet running) waiter with a
// cancellation error and empties the queue. Running tasks are unaffected.
func (g *ConcurrencyGate) CancelQueue(reason error) {
	g.mu.Lock()
	queue := g.queue
	g.queue = nil
	g.mu.Unlock()

	for _, entry := range queue {
		entry.grant <- &RequestError{
			Type:      ErrorTypeCancelled,
			Message:   "queued request cancelled",
			Cause:     reason,
			Timestamp: time.Now(),
		}
	}
}

// Status returns a read-only snapshot of the gate.
func (g *ConcurrencyGate) Status() GateStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	return GateStatus{
		ActiveCount:   g.active,
		QueuedCount:   len(g.queue),
		MaxConcurrent: g.maxConcurrent,
		MaxQueueSize:  g.maxQueueSize,
	}
}
