package heapkit

import (
	"io"
	"runtime"
	"sync/atomic"

	"github.com/joshuapare/heapkit/heap"
	"github.com/joshuapare/heapkit/heap/segment"
	"github.com/joshuapare/heapkit/internal/logger"
	"github.com/joshuapare/heapkit/internal/options"
	"github.com/joshuapare/heapkit/internal/osmem"
)

// Runtime bundles a process with the collaborators it was built from.
type Runtime struct {
	Process  *heap.Process
	OS       *osmem.System
	Options  *options.Store
	Segments *segment.Manager
}

var current atomic.Pointer[Runtime]

// NewRuntime builds an unloaded runtime over the OS, reading options from the
// process environment.
func NewRuntime() (*Runtime, error) {
	rt := &Runtime{
		OS:       osmem.New(),
		Options:  options.New(),
		Segments: segment.NewManager(logger.L),
	}
	p, err := heap.NewProcess(heap.Config{
		OS:       rt.OS,
		Options:  rt.Options,
		Segments: rt.Segments,
		Logger:   logger.L,
	})
	if err != nil {
		return nil, err
	}
	rt.Process = p
	return rt, nil
}

// Default returns the process-wide runtime, building it on first use.
func Default() *Runtime {
	if rt := current.Load(); rt != nil {
		return rt
	}
	rt, err := NewRuntime()
	if err != nil {
		panic(err)
	}
	if current.CompareAndSwap(nil, rt) {
		return rt
	}
	return current.Load()
}

// Process returns the default process.
func Process() *heap.Process { return Default().Process }

// Load runs the process-load hook. The calling goroutine is locked to its OS
// thread, which becomes the main thread unless one was bound before; call it
// from main.
func Load() {
	runtime.LockOSThread()
	Process().Load()
}

// Done runs the process-exit hook.
func Done() { Process().Done() }

// Attach binds the calling goroutine's OS thread. Pair with Detach.
func Attach() *heap.Thread { return Process().Attach() }

// Detach tears down t and releases the calling goroutine's OS thread.
func Detach(t *heap.Thread) { Process().Detach(t) }

// Go runs fn on a new goroutine with its own OS thread and heap.
func Go(fn func(t *heap.Thread) error) <-chan error { return Process().Go(fn) }

// ThreadInit initializes t's default heap.
func ThreadInit(t *heap.Thread) error { return Process().ThreadInit(t) }

// ThreadDone tears down t's default heap.
func ThreadDone(t *heap.Thread) { Process().ThreadDone(t) }

// ThreadCount returns the number of threads with an active heap.
func ThreadCount() int64 { return Process().ThreadCount() }

// IsRedirected reports whether the host routes its allocator through heapkit.
func IsRedirected() bool { return Process().IsRedirected() }

// PrintStats writes the process statistics to w.
func PrintStats(w io.Writer) error { return Process().PrintStats(w) }

// SetOption overrides option name on the default runtime.
func SetOption(name string, value int64) { Default().Options.Set(name, value) }

// Option returns the value of option name on the default runtime.
func Option(name string) int64 { return Default().Options.Get(name) }
