// Package stats keeps allocator statistics: per-thread aggregates that are
// merged into a process-wide total when a thread exits.
//
// All updates go through sync/atomic so a Stats value can be shared between
// threads (the process total) or owned by one thread. Stats is pointer-free and
// may live inside OS-mapped metadata pages.
package stats

import (
	"sync/atomic"
	"time"
)

// Counter tracks a quantity that goes up and down.
type Counter struct {
	Current   int64
	Peak      int64
	Allocated int64
	Freed     int64
}

// Increase adds n to the counter and raises the peak.
func (c *Counter) Increase(n int64) {
	atomic.AddInt64(&c.Allocated, n)
	cur := atomic.AddInt64(&c.Current, n)
	for {
		peak := atomic.LoadInt64(&c.Peak)
		if cur <= peak || atomic.CompareAndSwapInt64(&c.Peak, peak, cur) {
			return
		}
	}
}

// Decrease subtracts n from the counter.
func (c *Counter) Decrease(n int64) {
	atomic.AddInt64(&c.Freed, n)
	atomic.AddInt64(&c.Current, -n)
}

// Load returns an atomically read copy of c.
func (c *Counter) Load() Counter {
	return Counter{
		Current:   atomic.LoadInt64(&c.Current),
		Peak:      atomic.LoadInt64(&c.Peak),
		Allocated: atomic.LoadInt64(&c.Allocated),
		Freed:     atomic.LoadInt64(&c.Freed),
	}
}

func (c *Counter) merge(from *Counter) {
	src := from.Load()
	if src == (Counter{}) {
		return
	}
	atomic.AddInt64(&c.Allocated, src.Allocated)
	atomic.AddInt64(&c.Current, src.Current)
	atomic.AddInt64(&c.Freed, src.Freed)
	atomic.AddInt64(&c.Peak, src.Peak)
}

func (c *Counter) reset() {
	atomic.StoreInt64(&c.Current, 0)
	atomic.StoreInt64(&c.Peak, 0)
	atomic.StoreInt64(&c.Allocated, 0)
	atomic.StoreInt64(&c.Freed, 0)
}

// Tally counts events and their total amount.
type Tally struct {
	Total int64
	Count int64
}

// Add records one event of amount n.
func (t *Tally) Add(n int64) {
	atomic.AddInt64(&t.Total, n)
	atomic.AddInt64(&t.Count, 1)
}

// Load returns an atomically read copy of t.
func (t *Tally) Load() Tally {
	return Tally{Total: atomic.LoadInt64(&t.Total), Count: atomic.LoadInt64(&t.Count)}
}

func (t *Tally) merge(from *Tally) {
	src := from.Load()
	atomic.AddInt64(&t.Total, src.Total)
	atomic.AddInt64(&t.Count, src.Count)
}

func (t *Tally) reset() {
	atomic.StoreInt64(&t.Total, 0)
	atomic.StoreInt64(&t.Count, 0)
}

// Stats is the set of named allocator statistics.
type Stats struct {
	// byte amounts
	Reserved  Counter
	Committed Counter
	Normal    Counter
	Huge      Counter

	// object counts
	Segments          Counter
	SegmentsAbandoned Counter
	Pages             Counter
	PagesAbandoned    Counter
	Threads           Counter

	// events
	MmapCalls       Tally
	Searches        Tally
	PagesReclaimed  Tally
	MetaCacheHits   Tally
	MetaCacheMisses Tally
	MetaOSAllocs    Tally
	MetaOSFrees     Tally

	// Start is the reset time in Unix nanoseconds.
	Start int64
}

// NamedCounter pairs a counter with its display name.
type NamedCounter struct {
	Name    string
	Bytes   bool
	Counter *Counter
}

// NamedTally pairs a tally with its display name.
type NamedTally struct {
	Name  string
	Tally *Tally
}

// Counters lists the counters of s in display order.
func (s *Stats) Counters() []NamedCounter {
	return []NamedCounter{
		{"reserved", true, &s.Reserved},
		{"committed", true, &s.Committed},
		{"normal", true, &s.Normal},
		{"huge", true, &s.Huge},
		{"segments", false, &s.Segments},
		{"-abandoned", false, &s.SegmentsAbandoned},
		{"pages", false, &s.Pages},
		{"-abandoned", false, &s.PagesAbandoned},
		{"threads", false, &s.Threads},
	}
}

// Tallies lists the tallies of s in display order.
func (s *Stats) Tallies() []NamedTally {
	return []NamedTally{
		{"mmaps", &s.MmapCalls},
		{"searches", &s.Searches},
		{"reclaimed", &s.PagesReclaimed},
		{"meta-hits", &s.MetaCacheHits},
		{"meta-misses", &s.MetaCacheMisses},
		{"meta-allocs", &s.MetaOSAllocs},
		{"meta-frees", &s.MetaOSFrees},
	}
}

// Merge adds every statistic of from into s.
func (s *Stats) Merge(from *Stats) {
	if s == from {
		return
	}
	dst, src := s.Counters(), from.Counters()
	for i := range dst {
		dst[i].Counter.merge(src[i].Counter)
	}
	dt, st := s.Tallies(), from.Tallies()
	for i := range dt {
		dt[i].Tally.merge(st[i].Tally)
	}
}

// Reset zeroes every statistic and restarts the clock.
func (s *Stats) Reset() {
	for _, c := range s.Counters() {
		c.Counter.reset()
	}
	for _, t := range s.Tallies() {
		t.Tally.reset()
	}
	atomic.StoreInt64(&s.Start, time.Now().UnixNano())
}

// Snapshot returns an atomically read copy of s.
func (s *Stats) Snapshot() Stats {
	var out Stats
	dst, src := out.Counters(), s.Counters()
	for i := range dst {
		*dst[i].Counter = src[i].Counter.Load()
	}
	dt, st := out.Tallies(), s.Tallies()
	for i := range dt {
		*dt[i].Tally = st[i].Tally.Load()
	}
	out.Start = atomic.LoadInt64(&s.Start)
	return out
}

// Elapsed returns the time since the last reset.
func (s *Stats) Elapsed() time.Duration {
	start := atomic.LoadInt64(&s.Start)
	if start == 0 {
		return 0
	}
	return time.Since(time.Unix(0, start))
}
