package heap

import "sync/atomic"

// Registry counts the threads with an active heap.
// The count is for diagnostics; nothing synchronizes on it.
type Registry struct {
	n atomic.Int64
}

func (r *Registry) add()    { r.n.Add(1) }
func (r *Registry) remove() { r.n.Add(-1) }

// Count returns the number of registered threads.
func (r *Registry) Count() int64 {
	return r.n.Load()
}
