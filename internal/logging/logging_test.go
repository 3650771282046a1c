package logging

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"trace", slog.LevelDebug},
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"nonsense", slog.LevelInfo},
	}
	for _, c := range cases {
		if got := ParseLevel(c.in); got != c.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestNewCreatesLogDirAndWritesLines(t *testing.T) {
	t.Parallel()
	// New always writes under "log/" relative to the working directory,
	// so this test only checks the handler round trip, not file placement.
	logger, closeLog, err := New("test-binary", slog.LevelDebug)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Info("hello", "key", "value")
	logger.With("component", "sub").Warn("uh oh")

	if err := closeLog(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestRotateIfDateChangedSwapsFilenameAndRotates(t *testing.T) {
	// Not t.Parallel(): writes under the shared cwd-relative "log/" dir,
	// same convention as TestNewCreatesLogDirAndWritesLines.
	binary := "test-rotate"
	today := time.Now().Format("20060102")
	oldPath := logPath(binary, "19990101")

	c := &core{
		writer: &lumberjack.Logger{Filename: oldPath, MaxSize: sizeRotationDisabled},
		binary: binary,
		date:   today, // matches "today": first call must be a no-op
	}
	c.rotateIfDateChanged()
	if c.writer.Filename != oldPath {
		t.Errorf("Filename changed on a same-day call: %s", c.writer.Filename)
	}

	c.date = "19990101" // force a date change relative to the real today
	c.rotateIfDateChanged()
	wantPath := logPath(binary, today)
	if c.writer.Filename != wantPath {
		t.Errorf("Filename = %q, want %q after rollover", c.writer.Filename, wantPath)
	}
	if c.date != today {
		t.Errorf("core.date = %q, want %q after rollover", c.date, today)
	}
	if _, err := os.Stat(wantPath); err != nil {
		t.Errorf("new log file not created: %v", err)
	}
	os.Remove(wantPath)
}
