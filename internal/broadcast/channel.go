package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrClosed is returned by Publish and Receive once the channel has been closed.
var ErrClosed = errors.New("broadcast channel closed")

// LaggedError reports that a subscriber fell behind and Count messages were
// overwritten before it could read them. The subscription stays usable.
type LaggedError struct {
	Count uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("subscriber lagged behind by %d messages", e.Count)
}

type slot[T any] struct {
	seq uint64
	msg T
}

// Channel is a bounded multi-producer multi-consumer fan-out ring.
// Publishers never block: once the ring is full the oldest entry is
// overwritten, and subscribers that had not read it observe a LaggedError.
type Channel[T any] struct {
	mu          sync.Mutex
	ring        []slot[T]
	next        uint64 // sequence number of the next published message
	closed      bool
	wake        chan struct{}
	subscribers int
}

// NewChannel creates a channel retaining at most capacity messages.
// It panics if capacity is less than one.
func NewChannel[T any](capacity int) *Channel[T] {
	if capacity < 1 {
		panic("broadcast: capacity must be at least 1")
	}
	return &Channel[T]{
		ring: make([]slot[T], capacity),
		wake: make(chan struct{}),
	}
}

// Publish appends msg to the ring and wakes all waiting subscribers.
// It succeeds whether or not anyone is subscribed.
func (c *Channel[T]) Publish(msg T) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	c.ring[c.next%uint64(len(c.ring))] = slot[T]{seq: c.next, msg: msg}
	c.next++

	close(c.wake)
	c.wake = make(chan struct{})
	return nil
}

// Subscribe returns a subscription that observes every message published
// after this call.
func (c *Channel[T]) Subscribe() *Subscription[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.subscribers++
	return &Subscription[T]{channel: c, next: c.next}
}

// Subscribers returns the number of open subscriptions.
func (c *Channel[T]) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribers
}

// Capacity returns the number of messages the ring retains.
func (c *Channel[T]) Capacity() int {
	return len(c.ring)
}

// Close tears the channel down. Subscribers drain what is still buffered
// and then receive ErrClosed. Close is idempotent.
func (c *Channel[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.wake)
}

// Closed reports whether Close has been called.
func (c *Channel[T]) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// oldest returns the sequence number of the oldest retained message.
// Must be called with mu held.
func (c *Channel[T]) oldest() uint64 {
	capacity := uint64(len(c.ring))
	if c.next < capacity {
		return 0
	}
	return c.next - capacity
}

// Subscription is one subscriber's sequential view of a Channel.
// Receive must not be called from more than one goroutine at a time; Close
// may be called concurrently with Receive.
type Subscription[T any] struct {
	channel *Channel[T]
	next    uint64
	closed  bool
}

// Receive returns the next message in publish order, blocking until one is
// available. It returns a *LaggedError once when messages were lost, ErrClosed
// after the channel is closed and drained, or ctx.Err() when ctx is done.
func (s *Subscription[T]) Receive(ctx context.Context) (T, error) {
	var zero T
	c := s.channel

	for {
		c.mu.Lock()

		if s.closed {
			c.mu.Unlock()
			return zero, ErrClosed
		}

		if oldest := c.oldest(); s.next < oldest {
			lost := oldest - s.next
			s.next = oldest
			c.mu.Unlock()
			return zero, &LaggedError{Count: lost}
		}

		if s.next < c.next {
			entry := c.ring[s.next%uint64(len(c.ring))]
			s.next++
			c.mu.Unlock()
			return entry.msg, nil
		}

		if c.closed {
			c.mu.Unlock()
			return zero, ErrClosed
		}

		wake := c.wake
		c.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Close releases the subscription. Further Receive calls return ErrClosed.
func (s *Subscription[T]) Close() {
	c := s.channel
	c.mu.Lock()
	defer c.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	c.subscribers--
}
