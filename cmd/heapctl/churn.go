package main

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/joshuapare/heapkit/heap"
	"github.com/joshuapare/heapkit/pkg/heapkit"
)

var (
	churnThreads int
	churnCycles  int
	churnPages   int64
	churnHeaps   int
	churnStats   bool
)

func init() {
	cmd := newChurnCmd()
	cmd.Flags().IntVarP(&churnThreads, "threads", "t", 8, "Concurrent threads")
	cmd.Flags().IntVarP(&churnCycles, "cycles", "c", 100, "Thread lifetimes per worker")
	cmd.Flags().Int64Var(&churnPages, "pages", 4, "Pages each thread leaves live at exit")
	cmd.Flags().IntVar(&churnHeaps, "heaps", 1, "Extra heaps each thread creates")
	cmd.Flags().BoolVar(&churnStats, "stats", false, "Print allocator statistics afterwards")
	rootCmd.AddCommand(cmd)
}

func newChurnCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "churn",
		Short: "Run threads through init and teardown",
		Long: `The churn command starts workers that repeatedly create an OS thread,
initialize its heap, leave pages live, and exit. Exited threads recycle their
metadata through the cache and abandon their pages, which the next threads
reclaim.

Example:
  heapctl churn --threads 16 --cycles 1000
  heapctl churn --pages 0 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChurn()
		},
	}
}

// ChurnResult is the outcome of a churn run.
type ChurnResult struct {
	Threads        int           `json:"threads"`
	Cycles         int           `json:"cycles"`
	Elapsed        time.Duration `json:"elapsed_ns"`
	LiveThreads    int64         `json:"live_threads"`
	CachedBlocks   int           `json:"cached_blocks"`
	CacheHits      int64         `json:"cache_hits"`
	CacheMisses    int64         `json:"cache_misses"`
	OSAllocs       uint64        `json:"os_allocs"`
	OSFrees        uint64        `json:"os_frees"`
	PagesAbandoned int64         `json:"pages_abandoned"`
	PagesReclaimed int64         `json:"pages_reclaimed"`
	PoolPages      int64         `json:"pool_pages"`
}

func runChurn() error {
	if churnThreads <= 0 || churnCycles <= 0 {
		return fmt.Errorf("threads and cycles must be positive")
	}
	rt := heapkit.Default()
	heapkit.Load()

	printVerbose("Churning %d threads x %d cycles\n", churnThreads, churnCycles)
	start := time.Now()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for range churnThreads {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range churnCycles {
				if err := <-heapkit.Go(churnThread(rt)); err != nil {
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					return
				}
			}
		}()
	}
	wg.Wait()
	if firstErr != nil {
		return fmt.Errorf("churn failed: %w", firstErr)
	}

	st := rt.Process.Stats()
	osc := rt.OS.Counters()
	seg := rt.Segments.Counters()
	res := ChurnResult{
		Threads:        churnThreads,
		Cycles:         churnCycles,
		Elapsed:        time.Since(start),
		LiveThreads:    rt.Process.ThreadCount(),
		CachedBlocks:   rt.Process.Cache().Len(),
		CacheHits:      st.MetaCacheHits.Count,
		CacheMisses:    st.MetaCacheMisses.Count,
		OSAllocs:       osc.Allocs,
		OSFrees:        osc.Frees,
		PagesAbandoned: seg.PagesAbandoned,
		PagesReclaimed: seg.PagesReclaimed,
		PoolPages:      seg.PoolPages,
	}

	if jsonOut {
		return printJSON(res)
	}
	printInfo("Churned %d thread lifetimes in %s\n", res.Threads*res.Cycles, res.Elapsed.Round(time.Microsecond))
	printInfo("  live threads:    %d\n", res.LiveThreads)
	printInfo("  cached blocks:   %d\n", res.CachedBlocks)
	printInfo("  cache hits:      %d\n", res.CacheHits)
	printInfo("  cache misses:    %d\n", res.CacheMisses)
	printInfo("  os allocs/frees: %d/%d\n", res.OSAllocs, res.OSFrees)
	printInfo("  pages abandoned: %d\n", res.PagesAbandoned)
	printInfo("  pages reclaimed: %d\n", res.PagesReclaimed)
	printInfo("  pages pooled:    %d\n", res.PoolPages)
	if churnStats && !quiet {
		return rt.Process.PrintStats(os.Stdout)
	}
	return nil
}

// churnThread is the body of one thread lifetime: reclaim what exited threads
// left, work in extra heaps, then leave pages live for the next thread.
func churnThread(rt *heapkit.Runtime) func(t *heap.Thread) error {
	return func(t *heap.Thread) error {
		rt.Process.Collect(t, false)
		for range churnHeaps {
			h, err := rt.Process.NewHeap(t)
			if err != nil {
				return err
			}
			rt.Segments.AddPages(h, 1, 0)
			if err := rt.Process.DeleteHeap(t, h); err != nil {
				return err
			}
		}
		rt.Segments.AddPages(t.Default(), churnPages, 0)
		return nil
	}
}
