package engine

import (
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"go.uber.org/zap/zaptest"

	"dirzip/pkg/core"
	"dirzip/pkg/fault"
	"dirzip/pkg/progress"
	"dirzip/pkg/state"
)

func makeSource(t *testing.T, files int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < files; i++ {
		name := filepath.Join(dir, "file"+string(rune('a'+i))+".txt")
		if err := os.WriteFile(name, []byte("payload "+name), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}
	return dir
}

func assertIdle(t *testing.T, e *Engine) {
	t.Helper()
	s, err := e.State()
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if s != state.Idle {
		t.Fatalf("state = %v; want idle", s)
	}
}

func TestIdleAfterEveryOutcome(t *testing.T) {
	e := New(WithLogger(zaptest.NewLogger(t)), WithSynchronousProgress())
	src := makeSource(t, 4)
	out := t.TempDir()
	assertIdle(t, e)

	// Success
	archive := filepath.Join(out, "ok.zip")
	if res := e.BeginCompress(src, archive, core.Deflate); !res.OK() {
		t.Fatalf("BeginCompress: %v", res.Err)
	}
	assertIdle(t, e)

	// Failure
	res := e.BeginDecompress(filepath.Join(out, "missing.zip"), filepath.Join(out, "x"))
	if res.Kind() != fault.KindFilesystem {
		t.Fatalf("result = %+v; want filesystem failure", res)
	}
	assertIdle(t, e)

	// Abort
	var ack Ack
	unregister := e.OnProgress(progress.SinkFunc(func(ev progress.Event) {
		if ev.Processed == 2 {
			ack = e.RequestAbort()
		}
	}))
	res = e.BeginDecompress(archive, filepath.Join(out, "extracted"))
	unregister()
	if res.Status != core.StatusAborted || res.Processed != 2 {
		t.Fatalf("result = %+v; want aborted after 2", res)
	}
	if !ack.Applied || ack.State != state.Abort {
		t.Fatalf("ack = %+v; want applied abort", ack)
	}
	assertIdle(t, e)
}

func TestAbortWhileIdleHasNoEffect(t *testing.T) {
	e := New()
	ack := e.RequestAbort()
	if ack.Applied || ack.State != state.Idle || ack.Err != nil {
		t.Fatalf("ack = %+v; want no effect", ack)
	}

	src := makeSource(t, 3)
	res := e.BeginCompress(src, filepath.Join(t.TempDir(), "a.zip"), core.Store)
	if !res.OK() || res.Processed != 3 {
		t.Fatalf("result = %+v; want full success", res)
	}
	assertIdle(t, e)
}

func TestSecondOperationIsRefused(t *testing.T) {
	e := New(WithSynchronousProgress())
	src := makeSource(t, 2)
	out := t.TempDir()

	var nested core.Result
	var during state.RunState
	e.OnProgress(progress.SinkFunc(func(ev progress.Event) {
		if ev.Processed != 1 {
			return
		}
		nested = e.BeginCompress(src, filepath.Join(out, "nested.zip"), core.Deflate)
		during, _ = e.State()
	}))

	res := e.BeginCompress(src, filepath.Join(out, "outer.zip"), core.Deflate)
	if !res.OK() {
		t.Fatalf("outer operation: %v", res.Err)
	}
	if nested.Status != core.StatusFailure || !errors.Is(nested.Err, state.ErrBusy) {
		t.Fatalf("nested = %+v; want busy failure", nested)
	}
	if nested.Kind() != fault.KindConcurrency {
		t.Fatalf("nested kind = %v", nested.Kind())
	}
	if during != state.Running {
		t.Fatalf("refused start changed state to %v", during)
	}
	assertIdle(t, e)
}

func TestProgressCallbacks(t *testing.T) {
	e := New(WithProgressBuffer(64))
	src := makeSource(t, 5)

	var first, second progress.Recorder
	e.OnProgress(&first)
	unregister := e.OnProgress(&second)

	archive := filepath.Join(t.TempDir(), "p.zip")
	res := e.BeginCompress(src, archive, core.Zstd)
	if !res.OK() {
		t.Fatalf("BeginCompress: %v", res.Err)
	}
	// Delivery has finished once Begin* returns
	if n := len(first.Events()); n != 5 {
		t.Fatalf("first sink got %d events; want 5", n)
	}
	if n := len(second.Events()); n != 5 {
		t.Fatalf("second sink got %d events; want 5", n)
	}

	unregister()
	unregister()
	res = e.BeginDecompress(archive, t.TempDir())
	if !res.OK() {
		t.Fatalf("BeginDecompress: %v", res.Err)
	}
	if n := len(second.Events()); n != 5 {
		t.Fatalf("unregistered sink got %d events", n)
	}
	last, ok := first.Last()
	if !ok || last.Op != progress.OpDecompress || last.Processed != 5 {
		t.Fatalf("last event = %+v", last)
	}
}

func TestPanickingCallbackPoisons(t *testing.T) {
	for _, tt := range []struct {
		name string
		opts []Option
	}{
		{"synchronous", []Option{WithSynchronousProgress()}},
		{"dispatched", nil},
	} {
		t.Run(tt.name, func(t *testing.T) {
			e := New(append(tt.opts, WithLogger(zaptest.NewLogger(t)))...)
			src := makeSource(t, 3)
			out := t.TempDir()

			var armed atomic.Bool
			armed.Store(true)
			e.OnProgress(progress.SinkFunc(func(progress.Event) {
				if armed.Load() {
					panic("callback failure")
				}
			}))

			res := e.BeginCompress(src, filepath.Join(out, "a.zip"), core.Deflate)
			if res.Status != core.StatusFailure || res.Kind() != fault.KindConcurrency {
				t.Fatalf("result = %+v; want concurrency failure", res)
			}

			s, err := e.State()
			if s != state.Idle {
				t.Fatalf("state = %v; want idle even when poisoned", s)
			}
			if !errors.Is(err, state.ErrPoisoned) {
				t.Fatalf("State err = %v; want poisoned", err)
			}

			armed.Store(false)
			res = e.BeginCompress(src, filepath.Join(out, "b.zip"), core.Deflate)
			if !errors.Is(res.Err, state.ErrPoisoned) {
				t.Fatalf("result on poisoned engine = %+v", res)
			}

			e.ClearPoison()
			res = e.BeginCompress(src, filepath.Join(out, "c.zip"), core.Deflate)
			if !res.OK() {
				t.Fatalf("after ClearPoison: %v", res.Err)
			}
			assertIdle(t, e)
		})
	}
}

func TestEngineOptionsReachArchive(t *testing.T) {
	e := New(WithLevel(9), WithBufferSize(4096))
	src := makeSource(t, 1)
	archive := filepath.Join(t.TempDir(), "a.zip")
	if res := e.BeginCompress(src, archive, core.LZ4); !res.OK() {
		t.Fatalf("BeginCompress: %v", res.Err)
	}
	members, err := core.List(archive)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(members) != 1 || members[0].Method != core.LZ4 {
		t.Fatalf("members = %+v", members)
	}
}
