// Package logging implements the gateway's log sink contract (§6
// "Logs"): one rolling file per binary under log/<binary>_YYYYMMDD.log,
// line format "[HH:MM:SS.mmm file line LEVEL] msg", flushed every
// second.
//
// Grounded on logger/src/lib.rs's async rotating-file actor (a
// channel-fed worker goroutine owns the file, batches writes, and
// flushes on a ticker) reimplemented with log/slog as the facade and
// gopkg.in/natefinch/lumberjack.v2 doing the actual date-based
// rotation, since the teacher repo (and the rest of the pack) reach for
// lumberjack rather than hand-rolled rotation.
package logging

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FlushInterval matches the original actor's 1-second flush ticker.
const FlushInterval = 1 * time.Second

// ParseLevel maps the spec's level names to slog levels (§6 CLI
// "--level {trace|debug|info|warn|error}"). trace has no slog
// equivalent and is mapped to Debug.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "trace", "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// sizeRotationDisabled is set as lumberjack's MaxSize so its own
// size-based rotation never fires; the date rollover below is the only
// rotation trigger, matching the original actor.
const sizeRotationDisabled = 1 << 20 // megabytes; practically unreachable

// New opens (creating log/ if needed) a rotating log file named
// log/<binary>_YYYYMMDD.log and returns a ready-to-use *slog.Logger.
// The returned closer must be called on shutdown to flush the final
// buffered lines.
func New(binary string, level slog.Level) (*slog.Logger, func() error, error) {
	if err := os.MkdirAll("log", 0o755); err != nil {
		return nil, nil, fmt.Errorf("logging: create log dir: %w", err)
	}

	today := time.Now().Format("20060102")
	writer := &lumberjack.Logger{
		Filename: logPath(binary, today),
		MaxSize:  sizeRotationDisabled,
		MaxAge:   30, // days
		Compress: true,
	}

	h := newFlushingHandler(binary, writer, today, level)
	return slog.New(h), h.Close, nil
}

func logPath(binary, date string) string {
	return filepath.Join("log", fmt.Sprintf("%s_%s.log", binary, date))
}

// core is the shared, mutex-guarded file state behind every handler
// produced by WithAttrs/WithGroup clones of the same root — they all
// batch into the same buffer and get flushed (and, on a date change,
// rotated) by the one background goroutine started in
// newFlushingHandler.
type core struct {
	mu     sync.Mutex
	buf    *bufio.Writer
	writer *lumberjack.Logger
	binary string
	date   string
	done   chan struct{}
}

// flushingHandler renders one line per record in the original actor's
// "[{time} {file} {line} {level}] {msg}" shape, batching writes through
// a buffered writer that a background goroutine flushes every second.
type flushingHandler struct {
	core  *core
	level slog.Level
	attrs []slog.Attr
}

func newFlushingHandler(binary string, w *lumberjack.Logger, today string, level slog.Level) *flushingHandler {
	c := &core{
		buf:    bufio.NewWriter(w),
		writer: w,
		binary: binary,
		date:   today,
		done:   make(chan struct{}),
	}
	go c.flushLoop()
	return &flushingHandler{core: c, level: level}
}

func (c *core) flushLoop() {
	ticker := time.NewTicker(FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			c.buf.Flush()
			c.rotateIfDateChanged()
			c.mu.Unlock()
		case <-c.done:
			return
		}
	}
}

// rotateIfDateChanged swaps the lumberjack Filename and calls Rotate
// the first time the wall-clock date advances past the file currently
// open, so a new log/<binary>_YYYYMMDD.log is started for the new day.
// Callers must hold c.mu.
func (c *core) rotateIfDateChanged() {
	today := time.Now().Format("20060102")
	if today == c.date {
		return
	}
	c.writer.Filename = logPath(c.binary, today)
	_ = c.writer.Rotate()
	c.date = today
}

// Close flushes and closes the underlying file.
func (h *flushingHandler) Close() error {
	close(h.core.done)
	h.core.mu.Lock()
	defer h.core.mu.Unlock()
	h.core.buf.Flush()
	return h.core.writer.Close()
}

func (h *flushingHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func levelTag(l slog.Level) string {
	switch {
	case l < slog.LevelInfo:
		return "DEBUG"
	case l < slog.LevelWarn:
		return "INFO"
	case l < slog.LevelError:
		return "WARN"
	default:
		return "ERROR"
	}
}

// Handle renders r as one "[HH:MM:SS.mmm file line LEVEL] msg key=val…"
// line (§6 "Logs") and buffers it; the background goroutine flushes.
func (h *flushingHandler) Handle(_ context.Context, r slog.Record) error {
	file, line := callerInfo(r.PC)

	var b strings.Builder
	fmt.Fprintf(&b, "[%s %s %d %s] %s",
		r.Time.Format("15:04:05.000"), file, line, levelTag(r.Level), r.Message)

	for _, a := range h.attrs {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
		return true
	})
	b.WriteByte('\n')

	h.core.mu.Lock()
	defer h.core.mu.Unlock()
	_, err := h.core.buf.WriteString(b.String())
	return err
}

func callerInfo(pc uintptr) (file string, line int) {
	if pc == 0 {
		return "???", 0
	}
	frames := runtime.CallersFrames([]uintptr{pc})
	f, _ := frames.Next()
	return filepath.Base(f.File), f.Line
}

// WithAttrs returns a handler that includes attrs on every record.
func (h *flushingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &flushingHandler{
		core:  h.core,
		level: h.level,
		attrs: append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

// WithGroup is unsupported by this flat line format; it returns h
// unchanged, matching the original actor's single flat namespace.
func (h *flushingHandler) WithGroup(_ string) slog.Handler {
	return h
}
