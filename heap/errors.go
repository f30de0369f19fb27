package heap

import "errors"

var (
	// ErrOutOfMemory indicates the OS could not supply a thread metadata block.
	ErrOutOfMemory = errors.New("heap: out of memory for thread metadata")

	// ErrBackingHeap indicates an attempt to delete a thread's backing heap.
	ErrBackingHeap = errors.New("heap: cannot delete the backing heap")

	// ErrForeignHeap indicates a heap used from a thread that does not own it.
	ErrForeignHeap = errors.New("heap: heap belongs to another thread")

	// ErrNotInitialized indicates a heap or thread that is not active.
	ErrNotInitialized = errors.New("heap: not initialized")
)
