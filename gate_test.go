package kemudi

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestGateAcquireWithinLimit(t *testing.T) {
	gate := NewConcurrencyGate(2, 10)

	if err := gate.Acquire(context.Background(), 0); err != nil {
		t.Fatalf("First Acquire failed: %v", err)
	}
	if err := gate.Acquire(context.Background(), 0); err != nil {
		t.Fatalf("Second Acquire failed: %v", err)
	}

	status := gate.Status()
	if status.ActiveCount != 2 {
		t.Errorf("ActiveCount = %d, want 2", status.ActiveCount)
	}
	if status.QueuedCount != 0 {
		t.Errorf("QueuedCount = %d, want 0", status.QueuedCount)
	}
}

func TestGateQueueFull(t *testing.T) {
	gate := NewConcurrencyGate(1, 0)

	if err := gate.Acquire(context.Background(), 0); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	err := gate.Acquire(context.Background(), 0)
	if err == nil {
		t.Fatal("Second Acquire should fail with a full queue")
	}
	if !errors.Is(err, ErrQueueFull) {
		t.Errorf("Expected ErrQueueFull, got %v", err)
	}

	var reqErr *RequestError
	if !errors.As(err, &reqErr) || reqErr.Type != ErrorTypeQueueFull {
		t.Errorf("Expected QueueFull RequestError, got %v", err)
	}
}

func TestGateReleaseTransfersSlot(t *testing.T) {
	gate := NewConcurrencyGate(1, 5)

	if err := gate.Acquire(context.Background(), 0); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	acquired := make(chan error, 1)
	go func() {
		acquired <- gate.Acquire(context.Background(), 0)
	}()

	// Wait until the second caller is queued.
	deadline := time.Now().Add(time.Second)
	for gate.Status().QueuedCount == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Second caller never queued")
		}
		time.Sleep(time.Millisecond)
	}

	gate.Release()

	select {
	case err := <-acquired:
		if err != nil {
			t.Fatalf("Queued Acquire failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Queued caller was never granted the slot")
	}

	// The slot transferred directly, so the active count must be unchanged.
	status := gate.Status()
	if status.ActiveCount != 1 {
		t.Errorf("ActiveCount = %d, want 1", status.ActiveCount)
	}
	if status.QueuedCount != 0 {
		t.Errorf("QueuedCount = %d, want 0", status.QueuedCount)
	}
}

func TestGateFIFOOrder(t *testing.T) {
	gate := NewConcurrencyGate(1, 10)

	if err := gate.Acquire(context.Background(), 0); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < 3; i++ {
		// Enqueue one at a time so arrival order is deterministic.
		before := gate.Status().QueuedCount
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := gate.Acquire(context.Background(), 0); err != nil {
				t.Errorf("Acquire %d failed: %v", id, err)
				return
			}
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			gate.Release()
		}(i)
		deadline := time.Now().Add(time.Second)
		for gate.Status().QueuedCount == before {
			if time.Now().After(deadline) {
				t.Fatal("Waiter never queued")
			}
			time.Sleep(time.Millisecond)
		}
	}

	gate.Release()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i, id := range order {
		if id != i {
			t.Errorf("Release order = %v, want FIFO [0 1 2]", order)
			break
		}
	}
}

func TestGatePriorityOrder(t *testing.T) {
	gate := NewPriorityConcurrencyGate(1, 10)

	if err := gate.Acquire(context.Background(), 0); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	priorities := []int{1, 3, 2, 3}
	for i, prio := range priorities {
		before := gate.Status().QueuedCount
		wg.Add(1)
		go func(id, p int) {
			defer wg.Done()
			if err := gate.Acquire(context.Background(), p); err != nil {
				t.Errorf("Acquire %d failed: %v", id, err)
				return
			}
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			gate.Release()
		}(i, prio)
		deadline := time.Now().Add(time.Second)
		for gate.Status().QueuedCount == before {
			if time.Now().After(deadline) {
				t.Fatal("Waiter never queued")
			}
			time.Sleep(time.Millisecond)
		}
	}

	gate.Release()
	wg.Wait()

	// Highest priority first; ties released in arrival order.
	want := []int{1, 3, 2, 0}
	mu.Lock()
	defer mu.Unlock()
	if len(order) != len(want) {
		t.Fatalf("Release order length = %d, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("Release order = %v, want %v", order, want)
		}
	}
}

func TestGateContextCancelWhileQueued(t *testing.T) {
	gate := NewConcurrencyGate(1, 5)

	if err := gate.Acquire(context.Background(), 0); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		result <- gate.Acquire(ctx, 0)
	}()

	deadline := time.Now().Add(time.Second)
	for gate.Status().QueuedCount == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Waiter never queued")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()

	select {
	case err := <-result:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Cancelled waiter never returned")
	}

	// The abandoned waiter must leave the queue and the active count alone.
	status := gate.Status()
	if status.QueuedCount != 0 {
		t.Errorf("QueuedCount = %d, want 0", status.QueuedCount)
	}
	if status.ActiveCount != 1 {
		t.Errorf("ActiveCount = %d, want 1", status.ActiveCount)
	}

	// The slot still releases normally afterwards.
	gate.Release()
	if got := gate.Status().ActiveCount; got != 0 {
		t.Errorf("ActiveCount after Release = %d, want 0", got)
	}
}

func TestGateCancelQueue(t *testing.T) {
	gate := NewConcurrencyGate(1, 5)

	if err := gate.Acquire(context.Background(), 0); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	results := make(chan error, 3)
	for i := 0; i < 3; i++ {
		before := gate.Status().QueuedCount
		go func() {
			results <- gate.Acquire(context.Background(), 0)
		}()
		deadline := time.Now().Add(time.Second)
		for gate.Status().QueuedCount == before {
			if time.Now().After(deadline) {
				t.Fatal("Waiter never queued")
			}
			time.Sleep(time.Millisecond)
		}
	}

	reason := errors.New("shutting down")
	gate.CancelQueue(reason)

	for i := 0; i < 3; i++ {
		select {
		case err := <-results:
			if !errors.Is(err, ErrCancelled) {
				t.Errorf("Expected cancellation error, got %v", err)
			}
			if !errors.Is(err, reason) {
				t.Errorf("Cancellation should wrap the reason, got %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("Queued waiter never rejected")
		}
	}

	if got := gate.Status().QueuedCount; got != 0 {
		t.Errorf("QueuedCount after CancelQueue = %d, want 0", got)
	}

	// The running task is unaffected and can still release.
	gate.Release()
	if got := gate.Status().ActiveCount; got != 0 {
		t.Errorf("ActiveCount = %d, want 0", got)
	}
}

func TestGateConcurrencyNeverExceeded(t *testing.T) {
	const maxConcurrent = 4
	gate := NewConcurrencyGate(maxConcurrent, 100)

	var mu sync.Mutex
	active, peak := 0, 0
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := gate.Acquire(context.Background(), 0); err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			mu.Lock()
			active++
			if active > peak {
				peak = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
			gate.Release()
		}()
	}
	wg.Wait()

	if peak > maxConcurrent {
		t.Errorf("Peak concurrency %d exceeded limit %d", peak, maxConcurrent)
	}
}
