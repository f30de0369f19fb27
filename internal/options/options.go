// Package options is the allocator's option store.
//
// Option values come from built-in defaults, then from the environment
// (HEAPKIT_<NAME>, read once by Init), then from explicit Set calls. Reads are
// lock-free: every change publishes a new immutable snapshot.
package options

import (
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	s "github.com/prataprc/gosettings"

	"github.com/joshuapare/heapkit/internal/logger"
)

// Option names.
const (
	ShowErrors           = "show_errors"
	ShowStats            = "show_stats"
	Verbose              = "verbose"
	EagerCommit          = "eager_commit"
	LargeOSPages         = "large_os_pages"
	ReserveHugeOSPages   = "reserve_huge_os_pages"
	ReserveHugeOSPagesAt = "reserve_huge_os_pages_at"
	ReserveOSMemory      = "reserve_os_memory"
)

// EnvPrefix prefixes the environment variable of every option.
const EnvPrefix = "HEAPKIT_"

// Defaultsettings for every recognized option.
//
// "show_errors" (bool, default: false)
//		Log warnings and below at the logger's own level. Without it (and
//		without verbose) only errors are logged once the process is loaded.
//
// "show_stats" (bool, default: false)
//		Print statistics at process done.
//
// "verbose" (bool, default: false)
//		Log lifecycle events at debug level, and print statistics at done.
//
// "eager_commit" (bool, default: true)
//		Commit the memory reserved by reserve_os_memory up front.
//
// "large_os_pages" (bool, default: false)
//		Allow large OS pages for the reserve_os_memory region.
//
// "reserve_huge_os_pages" (int64, default: 0)
//		Number of 1GiB huge pages to reserve at process init.
//
// "reserve_huge_os_pages_at" (int64, default: -1)
//		NUMA node for the huge page reservation, -1 interleaves.
//
// "reserve_os_memory" (int64, default: 0)
//		KiB of OS memory to reserve at process init.
func Defaultsettings() s.Settings {
	return s.Settings{
		ShowErrors:           false,
		ShowStats:            false,
		Verbose:              false,
		EagerCommit:          true,
		LargeOSPages:         false,
		ReserveHugeOSPages:   int64(0),
		ReserveHugeOSPagesAt: int64(-1),
		ReserveOSMemory:      int64(0),
	}
}

// snapshot is an immutable view of the option values.
type snapshot struct {
	setts    s.Settings
	explicit map[string]bool // set through Set, never overridden by Init
	inited   bool
}

// Store holds option values.
type Store struct {
	snap   atomic.Pointer[snapshot]
	lookup func(string) (string, bool)
}

// New returns a store reading the process environment.
func New() *Store {
	return NewWithEnv(os.LookupEnv)
}

// NewWithEnv returns a store reading overrides through lookup.
func NewWithEnv(lookup func(string) (string, bool)) *Store {
	st := &Store{lookup: lookup}
	st.snap.Store(&snapshot{setts: Defaultsettings(), explicit: map[string]bool{}})
	return st
}

// Init reads every option from the environment once.
func (st *Store) Init() {
	for {
		old := st.snap.Load()
		if old.inited {
			return
		}
		next := old.with(func(setts s.Settings, explicit map[string]bool) {
			for name, def := range Defaultsettings() {
				if explicit[name] {
					continue
				}
				raw, ok := st.lookup(EnvPrefix + strings.ToUpper(name))
				if !ok {
					continue
				}
				if v, ok := parse(name, raw, def); ok {
					setts[name] = v
				} else {
					logger.L.Warn("options: invalid environment value", "option", name, "value", raw)
				}
			}
		})
		next.inited = true
		if st.snap.CompareAndSwap(old, next) {
			st.logValues(next.setts)
			return
		}
	}
}

// IsEnabled reports whether option name is enabled (nonzero).
func (st *Store) IsEnabled(name string) bool {
	return st.Get(name) != 0
}

// Get returns the value of option name; bools read as 0 or 1.
// Unknown names read as 0.
func (st *Store) Get(name string) int64 {
	snap := st.load()
	switch snap.setts[name].(type) {
	case nil:
		return 0
	case bool:
		if snap.setts.Bool(name) {
			return 1
		}
		return 0
	}
	return snap.setts.Int64(name)
}

// GetClamp returns option name clamped to [lo, hi].
func (st *Store) GetClamp(name string, lo, hi int64) int64 {
	v := st.Get(name)
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Set overrides option name. Init never replaces an explicitly set value.
func (st *Store) Set(name string, value int64) {
	def, ok := Defaultsettings()[name]
	if !ok {
		logger.L.Warn("options: unknown option", "option", name)
		return
	}
	var v interface{} = value
	if _, isBool := def.(bool); isBool {
		v = value != 0
	}
	for {
		old := st.snap.Load()
		next := old.with(func(setts s.Settings, explicit map[string]bool) {
			setts[name] = v
			explicit[name] = true
		})
		if st.snap.CompareAndSwap(old, next) {
			return
		}
	}
}

// SetEnabled overrides a boolean option.
func (st *Store) SetEnabled(name string, enabled bool) {
	v := int64(0)
	if enabled {
		v = 1
	}
	st.Set(name, v)
}

// Settings returns a copy of the current values.
func (st *Store) Settings() s.Settings {
	return make(s.Settings).Mixin(st.load().setts)
}

func (st *Store) load() *snapshot {
	snap := st.snap.Load()
	if !snap.inited {
		st.Init()
		snap = st.snap.Load()
	}
	return snap
}

func (st *Store) logValues(setts s.Settings) {
	v, _ := setts[Verbose].(bool)
	if !v {
		return
	}
	for name := range Defaultsettings() {
		logger.L.Debug("option", "name", name, "value", setts[name])
	}
}

func (snap *snapshot) with(fn func(s.Settings, map[string]bool)) *snapshot {
	next := &snapshot{
		setts:    make(s.Settings).Mixin(snap.setts),
		explicit: make(map[string]bool, len(snap.explicit)+1),
		inited:   snap.inited,
	}
	for k, v := range snap.explicit {
		next.explicit[k] = v
	}
	fn(next.setts, next.explicit)
	return next
}

// parse converts an environment value to the type of def.
func parse(name, raw string, def interface{}) (interface{}, bool) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if _, isBool := def.(bool); isBool {
		switch raw {
		case "1", "true", "yes", "on":
			return true, true
		case "0", "false", "no", "off", "":
			return false, true
		}
		return nil, false
	}
	if name == ReserveOSMemory {
		kib, ok := parseKiB(raw)
		return kib, ok
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, false
	}
	return n, true
}

// parseKiB parses a size with an optional K, M, G or T suffix (KiB when absent).
func parseKiB(raw string) (int64, bool) {
	raw = strings.TrimSuffix(strings.TrimSuffix(raw, "b"), "i")
	mult := int64(1)
	if n := len(raw); n > 0 {
		switch raw[n-1] {
		case 'k':
			raw = raw[:n-1]
		case 'm':
			mult, raw = 1<<10, raw[:n-1]
		case 'g':
			mult, raw = 1<<20, raw[:n-1]
		case 't':
			mult, raw = 1<<30, raw[:n-1]
		}
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n * mult, true
}
