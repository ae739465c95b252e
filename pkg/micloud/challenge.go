package micloud

import "sync"

// challenge is a single-slot rendezvous between a login flow waiting for an
// interactive answer and the driver delivering it. At most one waiter is
// pending at a time; issuing a new requestSolve on an occupied slot cancels
// the previous waiter before installing the new one.
type challenge[T any] struct {
	mu      sync.Mutex
	pending chan outcome[T]
}

type outcome[T any] struct {
	value     T
	cancelled bool
}

// requestSolve installs a fresh receiver, invokes publish (the side channel
// that surfaces the prompt to the driver) and suspends until solve or
// cancel delivers exactly one outcome. publish runs after the receiver is
// installed, so a driver that answers synchronously cannot miss the slot.
func (c *challenge[T]) requestSolve(publish func()) (T, error) {
	ch := make(chan outcome[T], 1)

	// Swap and install in one critical section so a displaced waiter is
	// always woken; the buffered delivery happens outside the lock.
	c.mu.Lock()
	displaced := c.pending
	c.pending = ch
	c.mu.Unlock()
	if displaced != nil {
		displaced <- outcome[T]{cancelled: true}
	}

	if publish != nil {
		publish()
	}

	out, ok := <-ch
	var zero T
	if !ok {
		return zero, ErrChallengeClosed
	}
	if out.cancelled {
		return zero, errChallengeCancelled
	}
	return out.value, nil
}

// solve delivers value to the pending waiter, consuming the slot. No-op
// when the slot is empty.
func (c *challenge[T]) solve(value T) {
	if ch := c.take(); ch != nil {
		ch <- outcome[T]{value: value}
	}
}

// cancel tells the pending waiter the challenge was abandoned. No-op when
// the slot is empty.
func (c *challenge[T]) cancel() {
	if ch := c.take(); ch != nil {
		ch <- outcome[T]{cancelled: true}
	}
}

// take removes and returns the pending channel, if any. The channel is
// buffered, so the caller can deliver without holding the lock.
func (c *challenge[T]) take() chan outcome[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := c.pending
	c.pending = nil
	return ch
}
