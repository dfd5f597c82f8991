package gateway

import (
	"context"
	"slices"
	"sync"
)

// turnstile admits one conversion at a time and queues the rest in arrival
// order.
//
// Ownership passes directly from the releasing caller to the oldest waiter,
// so a newcomer can never overtake the queue between a release and the
// waiter waking up.
type turnstile struct {
	mu      sync.Mutex
	busy    bool
	waiters []chan struct{}
}

// tryAcquire takes the turn only if nobody holds it and nobody is waiting.
func (t *turnstile) tryAcquire() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.busy {
		return false
	}
	t.busy = true
	return true
}

// acquire waits for the turn. Returns ctx.Err() if ctx ends first; in that
// case the caller does not hold the turn.
func (t *turnstile) acquire(ctx context.Context) error {
	t.mu.Lock()
	if !t.busy {
		t.busy = true
		t.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	t.waiters = append(t.waiters, ch)
	t.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		t.mu.Lock()
		if i := slices.Index(t.waiters, ch); i >= 0 {
			t.waiters = slices.Delete(t.waiters, i, i+1)
			t.mu.Unlock()
			return ctx.Err()
		}
		t.mu.Unlock()
		// The turn was handed to us concurrently with cancellation.
		t.release()
		return ctx.Err()
	}
}

// release hands the turn to the oldest waiter, or frees it.
func (t *turnstile) release() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.waiters) > 0 {
		next := t.waiters[0]
		t.waiters[0] = nil
		t.waiters = t.waiters[1:]
		close(next)
		return
	}
	t.busy = false
}

// queued returns the number of waiting callers.
func (t *turnstile) queued() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.waiters)
}

// inFlight reports whether a caller holds the turn.
func (t *turnstile) inFlight() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.busy
}
