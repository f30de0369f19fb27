package heap

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/heapkit/internal/logger"
	"github.com/joshuapare/heapkit/internal/options"
)

// TestNewProcess_RequiresSegments tests config validation.
func TestNewProcess_RequiresSegments(t *testing.T) {
	_, err := NewProcess(Config{OS: newFakeOS()})
	require.Error(t, err)
}

// TestNewProcess_Preloading tests the state before Load.
func TestNewProcess_Preloading(t *testing.T) {
	e := newTestProcess(t, nil)

	assert.True(t, e.p.Preloading())
	assert.False(t, e.p.IsRedirected())
	assert.Zero(t, e.os.inits.Load(), "nothing touches the OS before first use")
}

// TestInit_Once tests that repeated init runs the probes once.
func TestInit_Once(t *testing.T) {
	e := newTestProcess(t, nil)

	for range 3 {
		e.p.Init()
	}
	assert.Equal(t, int32(1), e.os.cpus.Load())
	assert.Equal(t, int32(1), e.os.inits.Load())
	assert.Equal(t, int64(1), e.p.ThreadCount())
	assert.Equal(t, ThreadActive, e.p.MainThread().State())
}

// TestInit_ResetsStats tests the statistics state after init.
func TestInit_ResetsStats(t *testing.T) {
	e := newTestProcess(t, nil)
	e.p.Init()

	st := e.p.Stats()
	assert.NotZero(t, st.Start)
	assert.Equal(t, int64(1), st.Threads.Current, "the main thread stays counted")
	assert.Zero(t, st.MetaCacheMisses.Count)
	assert.Zero(t, e.p.MainHeap().Data().Stats().Threads.Load().Current)
}

// TestLoad tests the process-load hook.
func TestLoad(t *testing.T) {
	e := newTestProcess(t, map[string]string{"HEAPKIT_SHOW_STATS": "yes"},
		func(c *Config) { c.Redirected = true })

	e.p.Load()
	e.p.Load()

	assert.False(t, e.p.Preloading())
	assert.True(t, e.p.IsRedirected())
	assert.True(t, e.opts.IsEnabled(options.ShowStats), "environment read at load")
	assert.Equal(t, int32(1), e.os.inits.Load())
	assert.False(t, e.p.MainHeap().st.random.IsWeak(), "main heap reseeded from strong entropy")
}

// TestLoad_NoEntropy tests that the main heap stays weakly seeded without strong entropy.
func TestLoad_NoEntropy(t *testing.T) {
	e := newTestProcess(t, nil)
	e.os.noEntropy = true

	cookie := e.p.MainHeap().Cookie()
	e.p.Load()
	assert.True(t, e.p.MainHeap().st.random.IsWeak())
	assert.Equal(t, cookie, e.p.MainHeap().Cookie(), "reseeding never changes the cookie")
}

// TestInit_Reservations tests that memory reservation options reach the OS layer.
func TestInit_Reservations(t *testing.T) {
	tests := []struct {
		name       string
		env        map[string]string
		hugeAt     []reserveCall
		interleave []reserveCall
		regions    []regionCall
	}{
		{
			name: "nothing by default",
		},
		{
			name:       "huge pages interleaved",
			env:        map[string]string{"HEAPKIT_RESERVE_HUGE_OS_PAGES": "4"},
			interleave: []reserveCall{{4, 0, 2 * time.Second}},
		},
		{
			name: "huge pages on one node",
			env: map[string]string{
				"HEAPKIT_RESERVE_HUGE_OS_PAGES":    "2",
				"HEAPKIT_RESERVE_HUGE_OS_PAGES_AT": "1",
			},
			hugeAt: []reserveCall{{2, 1, time.Second}},
		},
		{
			name:       "huge pages clamped",
			env:        map[string]string{"HEAPKIT_RESERVE_HUGE_OS_PAGES": "500000"},
			interleave: []reserveCall{{maxHugePages, 0, maxHugePages * hugePageReserveTime}},
		},
		{
			name:    "os memory",
			env:     map[string]string{"HEAPKIT_RESERVE_OS_MEMORY": "2m"},
			regions: []regionCall{{2 << 20, true, false}},
		},
		{
			name: "os memory uncommitted on large pages",
			env: map[string]string{
				"HEAPKIT_RESERVE_OS_MEMORY": "64",
				"HEAPKIT_EAGER_COMMIT":      "off",
				"HEAPKIT_LARGE_OS_PAGES":    "1",
			},
			regions: []regionCall{{64 << 10, false, true}},
		},
		{
			name:       "negative huge pages clamped",
			env:        map[string]string{"HEAPKIT_RESERVE_HUGE_OS_PAGES": "-3"},
			interleave: []reserveCall{{0, 0, 0}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestProcess(t, tt.env)
			e.p.Load()

			assert.Equal(t, tt.hugeAt, e.os.hugeAt)
			assert.Equal(t, tt.interleave, e.os.interleave)
			assert.Equal(t, tt.regions, e.os.regions)
		})
	}
}

// TestDone_BeforeInit tests that done without init does nothing.
func TestDone_BeforeInit(t *testing.T) {
	e := newTestProcess(t, nil)

	e.p.Done()
	assert.Empty(t, e.segs.collected)
	assert.True(t, e.p.Preloading())
	assert.Zero(t, e.os.inits.Load())
}

// TestDone_CollectsOnce tests the forced collect at process done.
func TestDone_CollectsOnce(t *testing.T) {
	e := newTestProcess(t, nil)
	e.p.Load()

	a := e.p.NewThread(2)
	require.NoError(t, e.p.ThreadInit(a))
	e.p.ThreadDone(a)
	require.Equal(t, 1, e.p.Cache().Len())

	e.p.Done()
	e.p.Done()

	assert.Equal(t, []collectCall{{e.p.MainHeap(), true}}, e.segs.collected)
	assert.Zero(t, e.p.Cache().Len(), "forced main collect drains the cache")
	assert.True(t, e.p.Preloading())
}

// TestDone_CollectsMainBacking tests that done collects the main backing heap
// even when the main thread's default heap was swapped.
func TestDone_CollectsMainBacking(t *testing.T) {
	e := newTestProcess(t, nil)
	e.p.Load()

	main := e.p.MainThread()
	extra, err := e.p.NewHeap(main)
	require.NoError(t, err)
	_, err = e.p.SetDefault(main, extra)
	require.NoError(t, err)

	a := e.p.NewThread(2)
	require.NoError(t, e.p.ThreadInit(a))
	e.p.ThreadDone(a)
	require.Equal(t, 1, e.p.Cache().Len())

	e.p.Done()
	assert.Equal(t, []collectCall{{e.p.MainHeap(), true}}, e.segs.collected)
	assert.Zero(t, e.p.Cache().Len())
}

// TestLoad_LogLevel tests that the verbose and show_errors options set the logging level.
func TestLoad_LogLevel(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		shown []string
		quiet []string
	}{
		{"errors only", nil, []string{"err-msg"}, []string{"warn-msg", "debug-msg"}},
		{"show_errors", map[string]string{"HEAPKIT_SHOW_ERRORS": "1"}, []string{"err-msg", "warn-msg"}, []string{"debug-msg"}},
		{"verbose", map[string]string{"HEAPKIT_VERBOSE": "1"}, []string{"err-msg", "warn-msg", "debug-msg"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			e := newTestProcess(t, tt.env, func(c *Config) {
				c.Logger = logger.New(logger.Options{Enabled: true, Writer: &buf})
			})
			e.p.Load()
			buf.Reset()

			e.p.log.Debug("debug-msg")
			e.p.log.Warn("warn-msg")
			e.p.log.Error("err-msg")
			for _, m := range tt.shown {
				assert.Contains(t, buf.String(), m)
			}
			for _, m := range tt.quiet {
				assert.NotContains(t, buf.String(), m)
			}
		})
	}
}

// TestProcess_LogLevelBeforeLoad tests that the configured logger level holds until Load.
func TestProcess_LogLevelBeforeLoad(t *testing.T) {
	var buf bytes.Buffer
	e := newTestProcess(t, nil, func(c *Config) {
		c.Logger = logger.New(logger.Options{Enabled: true, Writer: &buf})
	})

	e.p.Init()
	e.p.log.Debug("debug-msg")
	e.p.log.Warn("warn-msg")
	assert.NotContains(t, buf.String(), "debug-msg")
	assert.Contains(t, buf.String(), "warn-msg")
}

// TestDone_SharedLibrary tests that a shared library skips the forced collect.
func TestDone_SharedLibrary(t *testing.T) {
	if debugBuild {
		t.Skip("debug builds always collect")
	}
	e := newTestProcess(t, nil, func(c *Config) { c.SharedLibrary = true })
	e.p.Load()

	e.p.Done()
	assert.Empty(t, e.segs.collected)
	assert.True(t, e.p.Preloading())
}

// TestDone_PrintsStats tests statistics output at done.
func TestDone_PrintsStats(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		print bool
	}{
		{"quiet", nil, false},
		{"show_stats", map[string]string{"HEAPKIT_SHOW_STATS": "1"}, true},
		{"verbose", map[string]string{"HEAPKIT_VERBOSE": "on"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			e := newTestProcess(t, tt.env, func(c *Config) { c.StatsOut = &out })
			e.p.Load()
			e.p.Done()

			if !tt.print {
				assert.Zero(t, out.Len())
				return
			}
			assert.Contains(t, out.String(), "heap stats:")
			assert.Contains(t, out.String(), "threads:")
			assert.Contains(t, out.String(), "live:")
		})
	}
}

// TestCollect tests delegation to the segment manager.
func TestCollect(t *testing.T) {
	e := newTestProcess(t, nil)
	e.p.Init()

	a := e.p.NewThread(2)
	require.NoError(t, e.p.ThreadInit(a))
	b := e.p.NewThread(3)
	require.NoError(t, e.p.ThreadInit(b))
	e.p.ThreadDone(b)
	require.Equal(t, 1, e.p.Cache().Len())

	e.p.Collect(a, true)
	e.p.Collect(e.p.MainThread(), false)
	assert.Equal(t, 1, e.p.Cache().Len(), "only a forced main collect drains")

	e.p.Collect(b, true)
	assert.Len(t, e.segs.collected, 2, "a torn down thread has nothing to collect")

	assert.Equal(t, []collectCall{{a.Default(), true}, {e.p.MainHeap(), false}}, e.segs.collected)
}

// TestPrintStats tests the statistics report.
func TestPrintStats(t *testing.T) {
	e := newTestProcess(t, nil)
	e.p.Init()

	var out bytes.Buffer
	require.NoError(t, e.p.PrintStats(&out))
	assert.Contains(t, out.String(), "meta-hits:")
	assert.Contains(t, out.String(), "cached:")
}

// TestFault_Release tests that release builds log logic faults.
func TestFault_Release(t *testing.T) {
	if debugBuild {
		t.Skip("debug builds panic")
	}
	var buf bytes.Buffer
	e := newTestProcess(t, nil, func(c *Config) {
		c.Logger = logger.New(logger.Options{Enabled: true, Writer: &buf})
	})

	e.p.fault("broken invariant", "thread", 7)
	assert.Contains(t, buf.String(), "heap: broken invariant")
	assert.Contains(t, buf.String(), "thread=7")
}

// TestHeapDone_MissingBacking tests teardown of thread-data without a live backing heap.
func TestHeapDone_MissingBacking(t *testing.T) {
	if debugBuild {
		t.Skip("debug builds panic")
	}
	e := newTestProcess(t, nil)

	a := e.p.NewThread(2)
	require.NoError(t, e.p.ThreadInit(a))
	h := a.Default()
	h.Data().backing.active = false

	e.p.heapDone(h, false)
	assert.Zero(t, e.segs.abandonedCount())
	assert.Zero(t, e.p.Cache().Len())
}
