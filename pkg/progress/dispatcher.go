package progress

import (
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the dispatcher queue size used when none is given.
const DefaultBuffer = 256

// Dispatcher forwards events to a set of sinks on its own goroutine.
// Emit never blocks the caller: when the queue is full the event is dropped
// and counted, and after Close it does nothing.
type Dispatcher struct {
	sinks   []Sink
	queue   chan Event
	done    chan struct{}
	mu      sync.Mutex
	closed  bool
	dropped atomic.Uint64
}

// NewDispatcher starts a dispatcher delivering to sinks.
func NewDispatcher(buffer int, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	d := &Dispatcher{
		sinks: sinks,
		queue: make(chan Event, buffer),
		done:  make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for e := range d.queue {
		for _, s := range d.sinks {
			s.Emit(e)
		}
	}
}

// Emit queues e for delivery.
func (d *Dispatcher) Emit(e Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	select {
	case d.queue <- e:
	default:
		d.dropped.Add(1)
	}
}

// Close stops accepting events and waits until queued ones are delivered.
// It is safe to call more than once.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.done
}

// Dropped returns how many events were discarded because the queue was full.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}
