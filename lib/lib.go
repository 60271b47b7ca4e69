// Package lib holds the single engine a dirzip process drives. A shell calls
// these functions instead of keeping its own *engine.Engine.
package lib

import (
	"sync"

	"go.uber.org/zap"

	"dirzip/pkg/core"
	"dirzip/pkg/engine"
	"dirzip/pkg/progress"
	"dirzip/pkg/state"
)

var (
	mu  sync.RWMutex
	std = engine.New()
)

// Default returns the process-wide engine
func Default() *engine.Engine {
	mu.RLock()
	defer mu.RUnlock()
	return std
}

// Configure replaces the process-wide engine with one built from opts.
// Sinks registered on the old engine are dropped, so call it before
// OnProgress and never while an operation runs.
func Configure(opts ...engine.Option) {
	e := engine.New(opts...)
	mu.Lock()
	std = e
	mu.Unlock()
}

// SetLogger sets the logger of the process-wide engine
func SetLogger(l *zap.Logger) {
	Default().SetLogger(l)
}

// BeginCompress runs a compression on the process-wide engine
func BeginCompress(source, target string, method core.Method) core.Result {
	return Default().BeginCompress(source, target, method)
}

// BeginDecompress runs an extraction on the process-wide engine
func BeginDecompress(source, target string) core.Result {
	return Default().BeginDecompress(source, target)
}

// RequestAbort asks the running operation, if any, to stop
func RequestAbort() engine.Ack {
	return Default().RequestAbort()
}

// OnProgress registers a progress callback on the process-wide engine
func OnProgress(s progress.Sink) (unregister func()) {
	return Default().OnProgress(s)
}

// State returns the run state of the process-wide engine
func State() (state.RunState, error) {
	return Default().State()
}
