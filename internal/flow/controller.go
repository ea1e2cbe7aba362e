// Package flow bounds the number of commands waiting for the swarm actor.
// Callers acquire a slot before enqueuing a command and the actor releases
// it once the command has been applied.
package flow

import (
	"context"
	"errors"
	"sync"
)

// Default watermarks for the command backlog.
const (
	DefaultHighWatermark = 1024
	DefaultLowWatermark  = 128
)

// ErrClosed is returned by Acquire once the controller is closed.
var ErrClosed = errors.New("flow controller closed")

// Controller applies high/low watermark backpressure. Once the number of
// outstanding slots reaches the high watermark, Acquire blocks until
// releases bring it down to the low watermark.
// All methods are safe for concurrent use.
type Controller struct {
	mu            sync.Mutex
	highWatermark int
	lowWatermark  int
	pending       int
	blocked       bool
	closed        bool

	// unblockCh is closed to wake every waiter and replaced afterwards.
	unblockCh chan struct{}

	onBlocked func(pending int)
}

// NewController creates a controller with the given watermarks.
// Non-positive values select the defaults. A low watermark at or above the
// high one is lowered to high/10 (minimum 1).
func NewController(high, low int) *Controller {
	if high <= 0 {
		high = DefaultHighWatermark
	}
	if low <= 0 {
		low = DefaultLowWatermark
	}
	if low >= high {
		low = max(high/10, 1)
	}

	return &Controller{
		highWatermark: high,
		lowWatermark:  low,
		unblockCh:     make(chan struct{}),
	}
}

// OnBlocked registers fn to be called, with the lock held, whenever the
// controller starts blocking.
func (fc *Controller) OnBlocked(fn func(pending int)) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.onBlocked = fn
}

// Acquire takes one slot, blocking while the controller is saturated.
// It returns ctx.Err() if ctx ends first and ErrClosed after Close.
func (fc *Controller) Acquire(ctx context.Context) error {
	for {
		fc.mu.Lock()
		if fc.closed {
			fc.mu.Unlock()
			return ErrClosed
		}
		if !fc.blocked {
			fc.take()
			fc.mu.Unlock()
			return nil
		}
		waitCh := fc.unblockCh
		fc.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-waitCh:
		}
	}
}

// take must be called with mu held.
func (fc *Controller) take() {
	fc.pending++
	if fc.pending >= fc.highWatermark {
		fc.blocked = true
		if fc.onBlocked != nil {
			fc.onBlocked(fc.pending)
		}
	}
}

// Release returns one slot and wakes all waiters once the backlog has
// drained to the low watermark.
func (fc *Controller) Release() {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	if fc.pending > 0 {
		fc.pending--
	}
	if fc.blocked && fc.pending <= fc.lowWatermark {
		fc.blocked = false
		if !fc.closed {
			close(fc.unblockCh)
			fc.unblockCh = make(chan struct{})
		}
	}
}

// Pending returns the number of slots currently held.
func (fc *Controller) Pending() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.pending
}

// IsBlocked reports whether Acquire would block.
func (fc *Controller) IsBlocked() bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.blocked
}

// Close wakes all waiters; they and every later Acquire return ErrClosed.
func (fc *Controller) Close() {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	if fc.closed {
		return
	}
	fc.closed = true
	close(fc.unblockCh)
}
