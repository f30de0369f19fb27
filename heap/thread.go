package heap

import (
	"runtime"

	"github.com/joshuapare/heapkit/internal/prng"
)

// ThreadState is the lifecycle state of a thread's heap.
type ThreadState uint8

const (
	// ThreadUninitialized is the state before the first ThreadInit.
	ThreadUninitialized ThreadState = iota

	// ThreadActive means the thread owns an initialized default heap.
	ThreadActive

	// ThreadDone means the thread's heap was torn down.
	ThreadDone
)

func (s ThreadState) String() string {
	switch s {
	case ThreadUninitialized:
		return "uninitialized"
	case ThreadActive:
		return "active"
	case ThreadDone:
		return "done"
	}
	return "unknown"
}

// Thread is the thread-local slot of one OS thread: its id and its default
// heap. A Thread is owned by a single goroutine and is not safe for
// concurrent use.
type Thread struct {
	id    uint64
	heap  *Heap
	state ThreadState
}

// ID returns the thread id.
func (t *Thread) ID() uint64 {
	return t.id
}

// Default returns the thread's default heap, the placeholder heap before init.
func (t *Thread) Default() *Heap {
	return t.heap
}

// State returns the thread's lifecycle state.
func (t *Thread) State() ThreadState {
	return t.state
}

// NewThread returns the handle for thread id. The main thread always gets the
// same handle. An id of 0 asks for a synthetic id.
func (p *Process) NewThread(id uint64) *Thread {
	p.ensureMainHeap()
	if id == 0 {
		id = p.synthetic.Add(1) | 1<<63
	}
	if id == p.mainID.Load() {
		return &p.main.thread
	}
	return &Thread{id: id, heap: &p.empty}
}

// Attach locks the calling goroutine to its OS thread and returns that
// thread's handle. Pair with Detach.
func (p *Process) Attach() *Thread {
	runtime.LockOSThread()
	return p.NewThread(p.os.ThreadID())
}

// Detach tears down t and unlocks the calling goroutine from its OS thread.
func (p *Process) Detach(t *Thread) {
	p.ThreadDone(t)
	runtime.UnlockOSThread()
}

// Go runs fn on a new goroutine locked to its own OS thread, with the thread
// initialized on entry and torn down on exit. The returned channel yields the
// init error or fn's error once the thread is torn down, then closes.
func (p *Process) Go(fn func(t *Thread) error) <-chan error {
	errc := make(chan error, 1)
	go func() {
		var err error
		defer func() {
			if err != nil {
				errc <- err
			}
			close(errc)
		}()
		t := p.Attach()
		defer p.Detach(t)
		if err = p.ThreadInit(t); err != nil {
			return
		}
		err = fn(t)
	}()
	return errc
}

// ThreadInit gives t an initialized default heap, initializing the process
// first if needed. It is a no-op for an active thread.
//
// The main thread gets the main heap. Any other thread gets a metadata block
// from the cache or the OS; if the OS is out of memory t keeps the
// placeholder heap and ErrOutOfMemory is returned.
func (p *Process) ThreadInit(t *Thread) error {
	p.Init()
	return p.threadInit(t)
}

func (p *Process) threadInit(t *Thread) error {
	if t.state == ThreadActive {
		return nil
	}
	if p.IsMainThread(t) {
		t.heap = p.ensureMainHeap()
	} else if err := p.bindBlock(t); err != nil {
		p.log.Error("heap: unable to allocate thread metadata", "thread", t.id, "err", err)
		return err
	}
	t.state = ThreadActive
	p.threads.add()
	p.stats.Threads.Increase(1)
	p.log.Debug("thread init", "thread", t.id, "main", p.IsMainThread(t))
	return nil
}

// bindBlock installs a fresh metadata block as t's default heap.
func (p *Process) bindBlock(t *Thread) error {
	b, err := p.cache.Acquire()
	if err != nil {
		return err
	}
	h := &b.heap
	h.st.threadID = t.id
	prng.Init(&h.st.random, p.os)
	h.st.cookie = h.st.random.Next() | 1
	h.st.keys = [2]uint64{h.st.random.Next(), h.st.random.Next()}
	h.active = true
	t.heap = h
	return nil
}

// ThreadDone tears down t's default heap. Calling it again is a no-op.
func (p *Process) ThreadDone(t *Thread) {
	p.threadDone(t, t.heap)
}

// threadDone tears down heap h of thread t. Calls for a heap bound to another
// thread are ignored; they happen on forced platform shutdown paths.
func (p *Process) threadDone(t *Thread, h *Heap) {
	if t.state != ThreadActive || !h.IsInitialized() {
		return
	}
	if h.ThreadID() != t.id {
		p.log.Debug("thread done: heap of another thread ignored", "thread", t.id, "owner", h.ThreadID())
		return
	}
	p.threads.remove()
	p.stats.Threads.Decrease(1)

	main := p.IsMainThread(t)
	if main {
		t.heap = p.ensureMainHeap()
	} else {
		t.heap = &p.empty
	}
	t.state = ThreadDone
	p.heapDone(h, main)
	p.log.Debug("thread done", "thread", t.id, "main", main)
}

// heapDone deletes every non-backing heap of h's thread-data, then abandons
// and recycles the backing heap. The main thread keeps its heap and pages for
// the lifetime of the process; it only drains the metadata cache.
func (p *Process) heapDone(h *Heap, main bool) {
	td := h.data
	backing := td.backing
	if !backing.IsInitialized() {
		p.fault("thread-data has no initialized backing heap", "thread", h.ThreadID())
		return
	}
	for _, other := range td.Heaps() {
		if other != backing {
			p.deleteHeap(other)
		}
	}
	if len(td.heaps) != 1 || td.heaps[0] != backing {
		p.fault("non-backing heap survived thread teardown", "thread", h.ThreadID(), "heaps", len(td.heaps))
		return
	}

	if main {
		p.cache.Drain()
		return
	}
	p.segments.Abandon(backing)
	p.stats.Merge(td.Stats())
	backing.active = false
	p.cache.Release(td.block)
}
