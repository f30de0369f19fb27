// Package logger holds the process-wide structured logger used by heapkit.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// L is the global logger instance. It's initialized to discard all output by default.
// Call Init() to enable logging.
var L *slog.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

const (
	logPrefix     = "heapkit-"
	logSuffix     = ".log"
	retentionDays = 30
)

// Options configures the logger initialization.
type Options struct {
	Enabled bool       // If false, all logging is discarded
	Verbose bool       // Lowers the level to Debug (the "verbose" option)
	Level   slog.Level // Minimum log level. Default: LevelInfo when enabled
	Writer  io.Writer  // Destination when LogDir is empty. Default: os.Stderr
	LogDir  string     // If set, log to a dated JSON file in this directory instead
}

// Init configures logging. Call before Load.
// If opts.Enabled is false, all log output is discarded.
func Init(opts Options) error {
	L = New(opts)
	if !opts.Enabled || opts.LogDir == "" {
		return nil
	}

	if err := os.MkdirAll(opts.LogDir, 0o755); err != nil {
		return err
	}

	// Clean up old logs (best-effort, ignore errors)
	cleanOldLogs(opts.LogDir)

	filename := filepath.Join(opts.LogDir, logPrefix+time.Now().Format("2006-01-02")+logSuffix)

	f, err := os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	L = slog.New(slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level(opts)}))
	return nil
}

// New builds a text logger from opts without touching L.
func New(opts Options) *slog.Logger {
	if !opts.Enabled {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level(opts)}))
}

func level(opts Options) slog.Level {
	if opts.Verbose {
		return slog.LevelDebug
	}
	return opts.Level
}

// MinLevel returns the lowest standard level h is enabled for, or a level
// above Error when h accepts none of them.
func MinLevel(h slog.Handler) slog.Level {
	for _, l := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError} {
		if h.Enabled(context.Background(), l) {
			return l
		}
	}
	return slog.LevelError + 4
}

// Filter wraps h so that a record is handled only when its level is at least
// lv.Level(). The level of h itself is not consulted, so lv may go below it.
func Filter(h slog.Handler, lv slog.Leveler) slog.Handler {
	return &filterHandler{h: h, lv: lv}
}

type filterHandler struct {
	h  slog.Handler
	lv slog.Leveler
}

func (f *filterHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= f.lv.Level()
}

func (f *filterHandler) Handle(ctx context.Context, r slog.Record) error {
	return f.h.Handle(ctx, r)
}

func (f *filterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &filterHandler{h: f.h.WithAttrs(attrs), lv: f.lv}
}

func (f *filterHandler) WithGroup(name string) slog.Handler {
	return &filterHandler{h: f.h.WithGroup(name), lv: f.lv}
}

// cleanOldLogs removes log files older than retentionDays.
func cleanOldLogs(logDir string) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	entries, err := os.ReadDir(logDir)
	if err != nil {
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, logPrefix) || !strings.HasSuffix(name, logSuffix) {
			continue
		}

		// Parse date from filename: heapkit-2024-01-05.log
		dateStr := strings.TrimPrefix(strings.TrimSuffix(name, logSuffix), logPrefix)
		logDate, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			continue
		}

		if logDate.Before(cutoff) {
			os.Remove(filepath.Join(logDir, name))
		}
	}
}
