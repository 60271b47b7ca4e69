// Package engine is the boundary between a shell and the archive code. It
// owns the run state, so at most one operation runs at a time and the state
// is back to Idle once BeginCompress or BeginDecompress returns.
package engine

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dirzip/pkg/core"
	"dirzip/pkg/fault"
	"dirzip/pkg/progress"
	"dirzip/pkg/state"
)

// Ack answers RequestAbort. Applied is false when nothing was running.
type Ack struct {
	Applied bool
	State   state.RunState
	Err     error
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the logger. Nil means no logging.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.SetLogger(l) }
}

// WithLevel sets the deflate level used by BeginCompress
func WithLevel(level int) Option {
	return func(e *Engine) { e.level = level }
}

// WithBufferSize sets the copy and output buffer size
func WithBufferSize(n int) Option {
	return func(e *Engine) { e.bufferSize = n }
}

// WithProgressBuffer sets how many events may queue before new ones are dropped
func WithProgressBuffer(n int) Option {
	return func(e *Engine) { e.progressBuffer = n }
}

// WithSynchronousProgress delivers events on the archiving goroutine instead
// of through a dispatcher. A slow sink then slows the operation down.
func WithSynchronousProgress() Option {
	return func(e *Engine) { e.synchronous = true }
}

// Engine runs one archive operation at a time
type Engine struct {
	state *state.Machine

	log            atomic.Pointer[zap.Logger]
	level          int
	bufferSize     int
	progressBuffer int
	synchronous    bool

	mu     sync.Mutex
	sinks  map[uint64]progress.Sink
	nextID uint64
}

// New returns an idle engine
func New(opts ...Option) *Engine {
	e := &Engine{
		state:          state.New(),
		level:          core.DefaultLevel,
		bufferSize:     core.DefaultBufferSize,
		progressBuffer: progress.DefaultBuffer,
		sinks:          make(map[uint64]progress.Sink),
	}
	e.log.Store(zap.NewNop())
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetLogger replaces the logger used by later operations. Nil disables logging.
func (e *Engine) SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	e.log.Store(l)
}

// OnProgress registers a sink for the events of every later operation and
// returns a function that removes it. Sinks registered while an operation
// runs take effect with the next one.
func (e *Engine) OnProgress(s progress.Sink) (unregister func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextID
	e.nextID++
	e.sinks[id] = s
	return func() {
		e.mu.Lock()
		delete(e.sinks, id)
		e.mu.Unlock()
	}
}

// RequestAbort asks the running operation to stop after its current entry.
// It returns at once. With nothing running it has no effect.
func (e *Engine) RequestAbort() Ack {
	applied, err := e.state.SetAbort()
	cur, _ := e.state.Current()
	if applied {
		e.log.Load().Info("Abort requested")
	}
	return Ack{Applied: applied, State: cur, Err: err}
}

// State returns the current run state
func (e *Engine) State() (state.RunState, error) {
	return e.state.Current()
}

// ClearPoison makes the engine usable again after an operation panicked
func (e *Engine) ClearPoison() {
	e.state.ClearPoison()
	e.log.Load().Warn("Run state poison cleared")
}

// BeginCompress archives the directory source into the ZIP file target
func (e *Engine) BeginCompress(source, target string, method core.Method) core.Result {
	return e.run(progress.OpCompress, source, target, method, func(opts core.Options) core.Result {
		opts.Method = method
		return core.Compress(source, target, opts)
	})
}

// BeginDecompress extracts the ZIP file source into the directory target
func (e *Engine) BeginDecompress(source, target string) core.Result {
	return e.run(progress.OpDecompress, source, target, 0, func(opts core.Options) core.Result {
		return core.Decompress(source, target, opts)
	})
}

func (e *Engine) run(op progress.Op, source, target string, method core.Method, fn func(core.Options) core.Result) (res core.Result) {
	// A refused start must leave the running operation's state alone
	if err := e.state.SetRunning(); err != nil {
		return core.Result{Status: core.StatusFailure, Err: err}
	}

	log := e.log.Load().With(
		zap.String("op_id", uuid.NewString()),
		zap.String("op", string(op)),
		zap.String("source", source),
		zap.String("target", target),
	)
	if op == progress.OpCompress {
		log = log.With(zap.Stringer("method", method))
	}
	sink, closeSink := e.sink(log)

	defer func() {
		if r := recover(); r != nil {
			e.state.Poison()
			log.Error("Operation panicked", zap.Any("panic", r), zap.Stack("stack"))
			res = core.Result{
				Status: core.StatusFailure,
				Err:    fault.Concurrency(string(op), fmt.Errorf("panic: %v", r)),
			}
		}
		closeSink()
		if err := e.state.ResetIdle(); err != nil && res.Status != core.StatusFailure {
			res.Status = core.StatusFailure
			res.Err = err
		}
		log.Info("Operation finished", zap.Stringer("status", res.Status),
			zap.Int("processed", res.Processed), zap.Int("total", res.Total), zap.Error(res.Err))
	}()

	log.Info("Operation started")
	return fn(core.Options{
		Level:      e.level,
		BufferSize: e.bufferSize,
		Sink:       sink,
		Token:      e.state,
		Logger:     log,
	})
}

// sink snapshots the registered sinks for one operation. The returned close
// function waits until every queued event has been delivered.
func (e *Engine) sink(log *zap.Logger) (progress.Sink, func()) {
	e.mu.Lock()
	ids := make([]uint64, 0, len(e.sinks))
	for id := range e.sinks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	sinks := make([]progress.Sink, 0, len(ids))
	for _, id := range ids {
		sinks = append(sinks, e.sinks[id])
	}
	e.mu.Unlock()

	if len(sinks) == 0 {
		return progress.Discard, func() {}
	}
	if e.synchronous {
		return fanout(sinks), func() {}
	}

	guarded := make([]progress.Sink, len(sinks))
	for i, s := range sinks {
		guarded[i] = e.guard(s, log)
	}
	d := progress.NewDispatcher(e.progressBuffer, guarded...)
	return d, func() {
		d.Close()
		if n := d.Dropped(); n > 0 {
			log.Debug("Dropped progress events", zap.Uint64("dropped", n))
		}
	}
}

// guard keeps a panicking sink from killing the dispatcher goroutine. The
// panic poisons the run state, which fails the operation at its next check.
func (e *Engine) guard(s progress.Sink, log *zap.Logger) progress.Sink {
	return progress.SinkFunc(func(ev progress.Event) {
		defer func() {
			if r := recover(); r != nil {
				e.state.Poison()
				log.Error("Progress callback panicked", zap.Any("panic", r))
			}
		}()
		s.Emit(ev)
	})
}

type fanout []progress.Sink

func (f fanout) Emit(ev progress.Event) {
	for _, s := range f {
		s.Emit(ev)
	}
}
