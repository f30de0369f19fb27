package segment

import "sync/atomic"

// Abandoned describes the live pages a thread left behind at exit.
type Abandoned struct {
	ThreadID uint64
	Cookie   uint64
	Pages    int64
	Segments int64
	Bytes    int64

	next *Abandoned
}

// AbandonedPool is a lock-free stack of abandoned page sets, shared by every
// thread. Push and PopAll never block.
type AbandonedPool struct {
	head  atomic.Pointer[Abandoned]
	pages atomic.Int64
	count atomic.Int64
}

// Push adds a.
func (p *AbandonedPool) Push(a *Abandoned) {
	for {
		old := p.head.Load()
		a.next = old
		if p.head.CompareAndSwap(old, a) {
			break
		}
	}
	p.pages.Add(a.Pages)
	p.count.Add(1)
}

// PopAll takes every entry, most recently abandoned first.
func (p *AbandonedPool) PopAll() []*Abandoned {
	var out []*Abandoned
	for a := p.head.Swap(nil); a != nil; {
		next := a.next
		a.next = nil
		out = append(out, a)
		p.pages.Add(-a.Pages)
		p.count.Add(-1)
		a = next
	}
	return out
}

// Pages returns the number of pages waiting to be reclaimed.
func (p *AbandonedPool) Pages() int64 {
	return p.pages.Load()
}

// Len returns the number of entries in the pool.
func (p *AbandonedPool) Len() int64 {
	return p.count.Load()
}
