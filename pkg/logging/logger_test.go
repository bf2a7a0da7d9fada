package logging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		name   string
		level  string
		enable slog.Level
	}{
		{"debug level", "debug", slog.LevelDebug},
		{"warn level", "warn", slog.LevelWarn},
		{"upper case", "ERROR", slog.LevelError},
		{"default info", "", slog.LevelInfo},
	}

	ctx := context.Background()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := New(tt.level)
			if !logger.Enabled(ctx, tt.enable) {
				t.Fatalf("expected level %s to be enabled", tt.enable)
			}
		})
	}
}

func TestDefaultLogger(t *testing.T) {
	logger := Default()
	logger.Info("test message", "key", "value")

	ctx := context.Background()
	if !logger.Enabled(ctx, slog.LevelInfo) {
		t.Error("Default() should enable info level")
	}
	if logger.Enabled(ctx, slog.LevelDebug) {
		t.Error("Default() should not enable debug level")
	}
	if logger.Ring() != nil {
		t.Error("Default() should not carry a ring buffer")
	}
}

func TestNewWithWriter_EmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter("info", &buf)
	logger.Info("hello", "session_key", "15551234567_abc")

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "{"))
	assert.Contains(t, out, `"msg":"hello"`)
	assert.Contains(t, out, `"session_key":"15551234567_abc"`)
}

func TestRing_CapturesRecordsNewestFirst(t *testing.T) {
	ring := NewRing(10)
	logger := NewWithRing("debug", ring)

	logger.Info("first")
	logger.Warn("second", "error", errors.New("boom"))
	logger.With("component", "engine").Error("third")

	entries := ring.Recent(10, "")
	require.Len(t, entries, 3)
	assert.Equal(t, "third", entries[0].Message)
	assert.Equal(t, "engine", entries[0].Attrs["component"])
	assert.Equal(t, "second", entries[1].Message)
	assert.Equal(t, "boom", entries[1].Attrs["error"])
	assert.Equal(t, "first", entries[2].Message)
}

func TestRing_FiltersByLevel(t *testing.T) {
	ring := NewRing(10)
	logger := NewWithRing("debug", ring)

	logger.Info("a")
	logger.Error("b")
	logger.Info("c")

	errs := ring.Recent(10, "error")
	require.Len(t, errs, 1)
	assert.Equal(t, "b", errs[0].Message)

	infos := ring.Recent(1, "INFO")
	require.Len(t, infos, 1)
	assert.Equal(t, "c", infos[0].Message)
}

func TestRing_EvictsOldest(t *testing.T) {
	ring := NewRing(3)
	logger := NewWithRing("info", ring)
	for _, msg := range []string{"1", "2", "3", "4", "5"} {
		logger.Info(msg)
	}

	assert.Equal(t, 3, ring.Len())
	entries := ring.Recent(10, "")
	require.Len(t, entries, 3)
	assert.Equal(t, "5", entries[0].Message)
	assert.Equal(t, "3", entries[2].Message)
}

func TestRing_RespectsLevelThreshold(t *testing.T) {
	ring := NewRing(5)
	logger := NewWithRing("warn", ring)
	logger.Info("ignored")
	logger.Warn("kept")

	assert.Equal(t, 1, ring.Len())
}

func TestRing_Clear(t *testing.T) {
	ring := NewRing(5)
	logger := NewWithRing("info", ring)
	logger.Info("a")
	logger.Info("b")

	assert.Equal(t, 2, ring.Clear())
	assert.Equal(t, 0, ring.Len())
	assert.Empty(t, ring.Recent(10, ""))
}

func TestRing_WrapsInPlace(t *testing.T) {
	ring := NewRing(4)
	for i := 0; i < 11; i++ {
		ring.add(Entry{Level: "INFO", Message: fmt.Sprint(i)})
	}

	assert.Equal(t, 4, ring.Len())
	assert.Equal(t, 4, ring.Cap())
	assert.Len(t, ring.entries, 4)

	var got []string
	for _, e := range ring.Recent(10, "") {
		got = append(got, e.Message)
	}
	assert.Equal(t, []string{"10", "9", "8", "7"}, got)

	ring.Clear()
	ring.add(Entry{Level: "INFO", Message: "after"})
	entries := ring.Recent(10, "")
	require.Len(t, entries, 1)
	assert.Equal(t, "after", entries[0].Message)
}
