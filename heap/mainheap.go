package heap

import (
	"runtime"
	"sync/atomic"

	"github.com/joshuapare/heapkit/internal/prng"
)

// States of a one-shot word. Only the caller that moves it from stateIdle to
// stateRunning does the work; it publishes stateDone when the work is complete.
const (
	stateIdle uint32 = iota
	stateRunning
	stateDone
)

// claim reports whether the caller won w. A loser returns only once the
// winner has published stateDone.
func claim(w *atomic.Uint32) bool {
	if w.Load() == stateDone {
		return false
	}
	if w.CompareAndSwap(stateIdle, stateRunning) {
		return true
	}
	awaitDone(w)
	return false
}

func awaitDone(w *atomic.Uint32) {
	for w.Load() != stateDone {
		runtime.Gosched()
	}
}

// mainRecord is the statically valid main heap, its thread-data and the main
// thread's handle, built together by newMainRecord.
type mainRecord struct {
	mem    blockLayout
	block  Block
	thread Thread
}

func newMainRecord(empty *Heap) *mainRecord {
	r := &mainRecord{}
	r.block.bind(&r.mem)
	r.thread = Thread{heap: empty}
	return r
}

// ensureMainHeap bootstraps the main heap on first use. The first caller's
// thread becomes the main thread.
func (p *Process) ensureMainHeap() *Heap {
	h := &p.main.block.heap
	if !claim(&p.mainBoot) {
		return h
	}
	id := p.currentThreadID()
	h.st.threadID = id
	prng.InitWeak(&h.st.random, p.os.WeakSeed())
	h.st.cookie = h.st.random.Next() | 1
	h.st.keys = [2]uint64{h.st.random.Next(), h.st.random.Next()}
	h.active = true
	p.main.thread.id = id
	p.mainID.Store(id)
	p.mainBoot.Store(stateDone)
	return h
}

// MainHeap returns the main heap, bootstrapping it if needed.
func (p *Process) MainHeap() *Heap {
	return p.ensureMainHeap()
}

// MainThread returns the main thread's handle.
func (p *Process) MainThread() *Thread {
	p.ensureMainHeap()
	return &p.main.thread
}

// IsMainThread reports whether t is the main thread. Before bootstrap every
// thread counts as main; while another thread is bootstrapping, the call
// waits for the main thread id.
func (p *Process) IsMainThread(t *Thread) bool {
	if p.mainBoot.Load() == stateIdle {
		return true
	}
	awaitDone(&p.mainBoot)
	return t.id == p.mainID.Load()
}

// currentThreadID returns the OS thread id, or a synthetic unique id when the
// platform reports none.
func (p *Process) currentThreadID() uint64 {
	if id := p.os.ThreadID(); id != 0 {
		return id
	}
	return p.synthetic.Add(1) | 1<<63
}
