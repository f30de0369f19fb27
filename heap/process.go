package heap

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/joshuapare/heapkit/internal/logger"
	"github.com/joshuapare/heapkit/internal/options"
	"github.com/joshuapare/heapkit/internal/osmem"
	"github.com/joshuapare/heapkit/internal/prng"
	"github.com/joshuapare/heapkit/internal/stats"
)

const (
	maxHugePages        = 128 * 1024
	hugePageReserveTime = 500 * time.Millisecond
)

// Config configures a Process.
type Config struct {
	// OS is the OS layer. Default: osmem.New().
	OS OS

	// Options is the option store. Default: options.New().
	Options Options

	// Segments is the segment manager. Required.
	Segments Segments

	// Logger receives lifecycle diagnostics. Default: logger.L.
	// Load narrows or widens its level from the verbose and show_errors
	// options.
	Logger *slog.Logger

	// SharedLibrary skips the forced collect at Done in release builds,
	// for hosts that unload the allocator while other code may still run.
	SharedLibrary bool

	// Redirected reports that the host routes its allocator through heapkit.
	Redirected bool

	// StatsOut receives statistics printed at Done. Default: os.Stderr.
	StatsOut io.Writer
}

// Process is the process-wide allocator state: the main heap, the metadata
// cache, the thread registry and the lifecycle flags.
type Process struct {
	cfg      Config
	os       OS
	opts     Options
	segments Segments
	log      *slog.Logger

	// level gates log; baseLevel is the lowest level Config.Logger accepts.
	level     slog.LevelVar
	baseLevel slog.Level

	loaded     atomic.Bool
	initState  atomic.Uint32
	done       atomic.Bool
	preloading atomic.Bool
	redirected atomic.Bool

	mainBoot  atomic.Uint32
	mainID    atomic.Uint64
	synthetic atomic.Uint64
	main      *mainRecord

	emptyState heapState
	empty      Heap

	cache   *Cache
	threads Registry
	stats   stats.Stats
}

// NewProcess returns an unloaded process. Nothing touches the OS until the
// first Load, Init, ThreadInit or NewThread.
func NewProcess(cfg Config) (*Process, error) {
	if cfg.Segments == nil {
		return nil, errors.New("heap: Config.Segments is required")
	}
	if cfg.OS == nil {
		cfg.OS = osmem.New()
	}
	if cfg.Options == nil {
		cfg.Options = options.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.L
	}
	if cfg.StatsOut == nil {
		cfg.StatsOut = os.Stderr
	}

	p := &Process{
		cfg:       cfg,
		os:        cfg.OS,
		opts:      cfg.Options,
		segments:  cfg.Segments,
		baseLevel: logger.MinLevel(cfg.Logger.Handler()),
	}
	p.level.Set(p.baseLevel)
	p.log = slog.New(logger.Filter(cfg.Logger.Handler(), &p.level))
	resetPageQueues(&p.emptyState)
	p.empty = Heap{st: &p.emptyState}
	p.main = newMainRecord(&p.empty)
	p.preloading.Store(true)
	p.cache = newCache(p.os, &p.stats, p.log)
	return p, nil
}

// Load is the process-load hook. It runs once; later calls return at once.
func (p *Process) Load() {
	if !p.loaded.CompareAndSwap(false, true) {
		return
	}
	main := p.ensureMainHeap()
	p.preloading.Store(false)
	p.redirected.Store(p.cfg.Redirected)
	p.opts.Init()
	p.applyLogLevel()
	p.Init()

	if p.redirected.Load() {
		p.log.Debug("malloc is redirected")
	}
	if main.st.random.IsWeak() && !prng.Reseed(&main.st.random, p.os) {
		p.log.Debug("main heap random context is weakly seeded")
	}
}

// applyLogLevel sets the logging level from the options: verbose logs
// everything, show_errors keeps the logger's own level, and otherwise only
// errors are logged.
func (p *Process) applyLogLevel() {
	lvl := p.baseLevel
	switch {
	case p.opts.IsEnabled(options.Verbose):
		lvl = slog.LevelDebug
	case !p.opts.IsEnabled(options.ShowErrors):
		lvl = max(lvl, slog.LevelError)
	}
	p.level.Set(lvl)
}

// Init initializes the process once: CPU and OS probes, the main heap and
// thread, statistics, then the configured memory reservations. A concurrent
// caller returns once the first caller has finished.
func (p *Process) Init() {
	if !claim(&p.initState) {
		return
	}
	p.log.Debug("process init", "thread", p.os.ThreadID())

	p.os.DetectCPU()
	p.os.Init()
	p.ensureMainHeap()
	main := p.MainThread()
	if err := p.threadInit(main); err != nil {
		p.log.Error("heap: main thread init failed", "err", err)
	}

	p.main.block.data.Stats().Reset()
	p.stats.Reset()
	// the main thread stays registered across the reset
	p.stats.Threads.Increase(1)

	p.reserve()
	p.initState.Store(stateDone)
}

func (p *Process) reserve() {
	if p.opts.IsEnabled(options.ReserveHugeOSPages) {
		pages := int(p.opts.GetClamp(options.ReserveHugeOSPages, 0, maxHugePages))
		timeout := time.Duration(pages) * hugePageReserveTime
		var (
			n   int
			err error
		)
		if at := p.opts.Get(options.ReserveHugeOSPagesAt); at != -1 {
			n, err = p.os.ReserveHugePagesAt(pages, int(at), timeout)
		} else {
			n, err = p.os.ReserveHugePagesInterleave(pages, 0, timeout)
		}
		if err != nil {
			p.log.Warn("heap: unable to reserve huge OS pages", "requested", pages, "reserved", n, "err", err)
		}
	}
	if p.opts.IsEnabled(options.ReserveOSMemory) {
		if kib := p.opts.Get(options.ReserveOSMemory); kib > 0 {
			commit := p.opts.IsEnabled(options.EagerCommit)
			large := p.opts.IsEnabled(options.LargeOSPages)
			if err := p.os.ReserveRegion(int(kib)*1024, commit, large); err != nil {
				p.log.Warn("heap: unable to reserve OS memory", "kib", kib, "err", err)
			}
		}
	}
}

// Done is the process-exit hook. It runs once, and only after Init.
func (p *Process) Done() {
	if p.initState.Load() != stateDone {
		return
	}
	if !p.done.CompareAndSwap(false, true) {
		return
	}

	// a shared library may be unloaded while other threads still allocate
	if debugBuild || !p.cfg.SharedLibrary {
		p.segments.Collect(p.MainHeap(), true)
		p.cache.Drain()
	}
	if p.opts.IsEnabled(options.ShowStats) || p.opts.IsEnabled(options.Verbose) {
		if err := p.PrintStats(p.cfg.StatsOut); err != nil {
			p.log.Warn("heap: unable to print statistics", "err", err)
		}
	}
	p.log.Debug("process done", "thread", p.os.ThreadID())
	p.preloading.Store(true)
}

// Collect returns free memory of t's default heap to the OS. With force,
// live pages are abandoned too, and a forced collect of the main thread's
// backing heap also drains the metadata cache.
func (p *Process) Collect(t *Thread, force bool) {
	h := t.heap
	if !h.IsInitialized() {
		return
	}
	p.segments.Collect(h, force)
	if force && p.IsMainThread(t) && h.IsBacking() {
		p.cache.Drain()
	}
}

// Preloading reports whether the process is outside its Load..Done window.
func (p *Process) Preloading() bool {
	return p.preloading.Load()
}

// IsRedirected reports whether the host routes its allocator through heapkit.
func (p *Process) IsRedirected() bool {
	return p.redirected.Load()
}

// ThreadCount returns the number of threads with an active heap.
func (p *Process) ThreadCount() int64 {
	return p.threads.Count()
}

// Cache returns the metadata block cache.
func (p *Process) Cache() *Cache {
	return p.cache
}

// Stats returns a snapshot of the process statistics.
func (p *Process) Stats() stats.Stats {
	return p.stats.Snapshot()
}

// PrintStats writes the process statistics to w.
func (p *Process) PrintStats(w io.Writer) error {
	if err := p.stats.Print(w); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "  %-10s %12d\n  %-10s %12d\n", "live:", p.ThreadCount(), "cached:", p.cache.Len())
	return err
}

func (p *Process) fault(msg string, args ...any) {
	if debugBuild {
		panic(fmt.Sprintf("heap: %s %v", msg, args))
	}
	p.log.Error("heap: "+msg, args...)
}
