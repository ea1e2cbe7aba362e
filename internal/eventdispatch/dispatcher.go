// Package eventdispatch delivers events to an application channel without
// ever blocking the producer.
package eventdispatch

import (
	"sync"
)

// Dispatcher manages event emission to a buffered channel. A full channel
// drops the event so a slow consumer cannot stall the swarm actor, unless
// the keep predicate selects it: such events are held in order and handed
// over by a background goroutine as the consumer frees room.
type Dispatcher[E any] struct {
	events chan E
	done   chan struct{}
	mu     sync.Mutex
	closed bool

	held     []E
	flushing bool
	flushWG  sync.WaitGroup

	emitted uint64
	dropped uint64
	onDrop  func(E)
	keep    func(E) bool
}

// NewDispatcher creates a dispatcher with the given buffer size.
// Negative sizes are treated as zero.
func NewDispatcher[E any](bufferSize int) *Dispatcher[E] {
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &Dispatcher[E]{
		events: make(chan E, bufferSize),
		done:   make(chan struct{}),
	}
}

// OnDrop registers fn to be called for every dropped event.
func (d *Dispatcher[E]) OnDrop(fn func(E)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onDrop = fn
}

// KeepOnOverflow registers fn to select events that are never dropped.
// While any such event is held, newer events queue behind it: selected
// ones are held too and the rest are dropped.
func (d *Dispatcher[E]) KeepOnOverflow(fn func(E) bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keep = fn
}

// Emit delivers evt if there is room in the channel, or holds it when the
// keep predicate selects it. It reports whether the event was accepted.
// Emitting after Close drops silently.
func (d *Dispatcher[E]) Emit(evt E) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return false
	}

	if len(d.held) == 0 {
		select {
		case d.events <- evt:
			d.emitted++
			return true
		default:
		}
	}

	if d.keep != nil && d.keep(evt) {
		d.held = append(d.held, evt)
		if !d.flushing {
			d.flushing = true
			d.flushWG.Add(1)
			go d.flush()
		}
		return true
	}

	d.dropped++
	if d.onDrop != nil {
		d.onDrop(evt)
	}
	return false
}

// flush hands held events to the consumer in order. The head is popped
// only after its send completes, so Emit never overtakes it.
func (d *Dispatcher[E]) flush() {
	defer d.flushWG.Done()
	for {
		d.mu.Lock()
		if len(d.held) == 0 || d.closed {
			d.flushing = false
			d.mu.Unlock()
			return
		}
		evt := d.held[0]
		d.mu.Unlock()

		select {
		case d.events <- evt:
		case <-d.done:
			return
		}

		d.mu.Lock()
		var zero E
		d.held[0] = zero
		d.held = d.held[1:]
		d.emitted++
		d.mu.Unlock()
	}
}

// Events returns the channel the application consumes.
// The channel is closed when the dispatcher is closed.
func (d *Dispatcher[E]) Events() <-chan E {
	return d.events
}

// Stats returns the number of delivered and dropped events. Held events
// count as delivered once the consumer's channel takes them.
func (d *Dispatcher[E]) Stats() (emitted, dropped uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.emitted, d.dropped
}

// Held returns the number of events waiting for room in the channel.
func (d *Dispatcher[E]) Held() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.held)
}

// Close closes the events channel. Events still held are discarded.
// It is safe to call Close multiple times.
func (d *Dispatcher[E]) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.done)
	d.mu.Unlock()

	d.flushWG.Wait()

	d.mu.Lock()
	d.held = nil
	close(d.events)
	d.mu.Unlock()
}

// IsClosed returns true if the dispatcher has been closed.
func (d *Dispatcher[E]) IsClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
