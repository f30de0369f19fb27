/*
Package heapkit is the public entry point to a process-wide heapkit allocator.

# Quick Start

Bring the allocator up at process start and down at exit:

	heapkit.Load()
	defer heapkit.Done()

Run work on a goroutine that owns an OS thread and a heap:

	err := <-heapkit.Go(func(t *heap.Thread) error {
	    h := t.Default()
	    fmt.Println(h.Cookie())
	    return nil
	})

Or attach the calling goroutine:

	t := heapkit.Attach()
	defer heapkit.Detach(t)
	if err := heapkit.ThreadInit(t); err != nil {
	    return err
	}

# Options

Options are read from HEAPKIT_<NAME> environment variables at Load, for
example HEAPKIT_SHOW_STATS=1 or HEAPKIT_RESERVE_OS_MEMORY=64m. Set overrides
them:

	heapkit.SetOption(options.ShowStats, 1)

# Diagnostics

	heapkit.PrintStats(os.Stdout)
	fmt.Println(heapkit.ThreadCount())
*/
package heapkit
