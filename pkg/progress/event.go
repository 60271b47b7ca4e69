// Package progress carries per-entry progress from the archiving engine to
// whatever renders it.
package progress

import "sync"

// Op names the operation an event belongs to.
type Op string

const (
	OpCompress   Op = "compress"
	OpDecompress Op = "decompress"
)

// Event is an immutable snapshot emitted after every processed entry.
type Event struct {
	Op         Op
	Processed  int    // entries processed so far, this one included
	Total      int    // total entries, 0 if unknown
	Name       string // archive name of the entry just processed
	Bytes      int64  // uncompressed bytes processed so far
	TotalBytes int64  // total uncompressed bytes, 0 if unknown
	Skipped    bool   // entry could not be read and was left out
}

// Percent returns the completed share of entries in the range [0, 100].
func (e Event) Percent() float64 {
	if e.Total <= 0 {
		return 0
	}
	p := float64(e.Processed) / float64(e.Total) * 100
	if p > 100 {
		p = 100
	}
	return p
}

// Sink receives progress events.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Emit calls f(e).
func (f SinkFunc) Emit(e Event) { f(e) }

type discard struct{}

func (discard) Emit(Event) {}

// Discard drops every event.
var Discard Sink = discard{}

// Recorder keeps every event it receives. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit appends e.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Last returns the most recent event and whether there was one.
func (r *Recorder) Last() (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return Event{}, false
	}
	return r.events[len(r.events)-1], true
}
