// Package logging configures the process-wide structured logger and keeps
// a small ring of recent errors for the stats endpoint.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	gosync "sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// logger defaults to a discard handler until Init is called, so library
// code can log unconditionally.
var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

// Init configures logging. Console output is always on: INFO goes to
// stdout, WARN and above to stderr. When logDir is non-empty a rotating
// cloudpin.log is written there as well, at debug level when verbose.
func Init(logDir string, verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	console := &consoleHandler{
		stdout: slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}),
		stderr: slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}),
	}

	handlers := []slog.Handler{console, &errorCaptureHandler{}}

	if logDir != "" {
		os.MkdirAll(logDir, 0750) //nolint:errcheck
		file := slog.NewTextHandler(&lumberjack.Logger{
			Filename:   filepath.Join(logDir, "cloudpin.log"),
			MaxSize:    10,
			MaxBackups: 3,
		}, &slog.HandlerOptions{Level: level})
		handlers = append(handlers, file)
	}

	logger = slog.New(&multiHandler{handlers: handlers})
}

// Sub returns a child logger tagged with the given component name.
func Sub(component string) *slog.Logger {
	return logger.With("comp", component)
}

// Enabled reports whether the given level is enabled. Use it to guard
// expensive debug logging in hot paths.
func Enabled(level slog.Level) bool {
	return logger.Enabled(context.Background(), level)
}

// --- consoleHandler: routes INFO→stdout, WARN+→stderr ---

type consoleHandler struct {
	stdout slog.Handler
	stderr slog.Handler
}

func (h *consoleHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.stdout.Enabled(ctx, level) || h.stderr.Enabled(ctx, level)
}

func (h *consoleHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		return h.stderr.Handle(ctx, r)
	}
	return h.stdout.Handle(ctx, r)
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &consoleHandler{stdout: h.stdout.WithAttrs(attrs), stderr: h.stderr.WithAttrs(attrs)}
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	return &consoleHandler{stdout: h.stdout.WithGroup(name), stderr: h.stderr.WithGroup(name)}
}

// --- error capture ring ---

const ringSize = 8

// ErrorEntry is one captured error-level record.
type ErrorEntry struct {
	Time    time.Time `json:"time"`
	Comp    string    `json:"comp"`
	Message string    `json:"message"`
	Error   string    `json:"error,omitempty"`
}

var errorRing struct {
	mu      gosync.Mutex
	entries [ringSize]ErrorEntry
	count   int
}

// RecentErrors returns the most recent error records, newest first.
func RecentErrors() []ErrorEntry {
	errorRing.mu.Lock()
	defer errorRing.mu.Unlock()
	n := errorRing.count
	if n > ringSize {
		n = ringSize
	}
	out := make([]ErrorEntry, n)
	for i := 0; i < n; i++ {
		out[i] = errorRing.entries[(errorRing.count-1-i)%ringSize]
	}
	return out
}

type errorCaptureHandler struct {
	attrs []slog.Attr
}

func (h *errorCaptureHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelError
}

func (h *errorCaptureHandler) Handle(_ context.Context, r slog.Record) error {
	entry := ErrorEntry{Time: r.Time, Message: r.Message}
	capture := func(a slog.Attr) {
		switch a.Key {
		case "comp":
			entry.Comp = a.Value.String()
		case "err":
			entry.Error = a.Value.String()
		}
	}
	for _, a := range h.attrs {
		capture(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		capture(a)
		return true
	})
	errorRing.mu.Lock()
	errorRing.entries[errorRing.count%ringSize] = entry
	errorRing.count++
	errorRing.mu.Unlock()
	return nil
}

func (h *errorCaptureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &errorCaptureHandler{attrs: merged}
}

func (h *errorCaptureHandler) WithGroup(_ string) slog.Handler { return h }

// --- multiHandler: fans out to all handlers ---

type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, hh := range h.handlers {
		if hh.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, hh := range h.handlers {
		if hh.Enabled(ctx, r.Level) {
			if err := hh.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	hs := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		hs[i] = hh.WithAttrs(attrs)
	}
	return &multiHandler{handlers: hs}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	hs := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		hs[i] = hh.WithGroup(name)
	}
	return &multiHandler{handlers: hs}
}
