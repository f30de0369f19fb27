// Package heap is the bootstrap and lifecycle core of the heapkit allocator.
//
// # Overview
//
// Every OS thread that allocates needs a heap: an allocation context holding
// page queues, an identity cookie and guard keys. Creating that context may
// itself need memory, so the package keeps a statically valid main heap for
// the main thread and for calls made before a thread is set up, and takes the
// metadata of every other thread from OS pages recycled through a small
// lock-free cache.
//
// # Threads
//
// Go has no thread-local storage. A Thread is the explicit slot holding one OS
// thread's default heap:
//
//	p, err := heap.NewProcess(heap.Config{Segments: segment.NewManager(nil)})
//	if err != nil {
//	    return err
//	}
//	p.Load()
//	defer p.Done()
//
//	errc := p.Go(func(t *heap.Thread) error {
//	    h := t.Default() // initialized, owned by t
//	    _ = h.Cookie()
//	    return nil
//	})
//	err = <-errc
//
// Attach and Detach do the same for the calling goroutine.
//
// # Lifecycle
//
// Process: Load → Init → ... → Done. Each step runs once and repeated calls
// return without effect. A call that races a running Init waits for it.
//
// Thread: Uninitialized → Active (ThreadInit) → Done (ThreadDone). Teardown
// deletes every extra heap, hands live pages to the segment manager to be
// reclaimed by other threads, merges the thread's statistics into the process
// and returns the metadata block to the cache. The main thread keeps its heap.
//
// # Metadata Blocks
//
// A Block is one OS page holding a heap and its thread-data side by side. The
// page image is pointer-free apart from references into the same page, and
// must fit in MinPageSize bytes. The Cache keeps up to CacheSlots released
// blocks; everything beyond goes back to the OS.
//
// # Concurrency
//
// No locks. Shared state is atomics only: the cache slots, the thread
// registry, process flags and statistics. A Thread and its heaps belong to one
// goroutine.
//
// # Debug Builds
//
// Build with -tags heapdebug to turn internal consistency faults into panics.
// Release builds log them and recover.
package heap
