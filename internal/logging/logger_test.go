package logging

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"trace":   TRACE,
		"DEBUG":   DEBUG,
		"info":    INFO,
		"warn":    WARN,
		"error":   ERROR,
		"verbose": INFO,
		"":        INFO,
	}
	for name, want := range tests {
		assert.Equal(t, want, ParseLevel(name), "уровень %q", name)
	}
	assert.Equal(t, "WARN", WARN.String())
	assert.Equal(t, "UNKNOWN", LogLevel(42).String())
}

func TestWriterLoggerFiltersLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger("codec", &buf, WARN)

	l.Debug("скрыто %d", 1)
	l.Info("скрыто")
	l.Warn("палитра %s", "vector")
	l.Error("обрыв на байте %d", 17)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "[WARN] [codec] палитра vector", lines[0])
	assert.Equal(t, "[ERROR] [codec] обрыв на байте 17", lines[1])
	assert.Equal(t, "codec", l.Component())
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() {
		l.Info("ничего")
		_ = l.Close()
	})
}

func TestHexDump(t *testing.T) {
	assert.Equal(t, "No data", HexDump(nil))

	dump := HexDump([]byte{0x00, 0x10, 0xff})
	assert.Contains(t, dump, "00 10 ff")

	// Дамп ограничен 256 байтами: 16 строк по 16 байт
	big := HexDump(make([]byte, 1000))
	assert.Equal(t, 16, strings.Count(big, "\n"))
}

func TestLogDecodeError(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger("codec", &buf, DEBUG)

	l.LogDecodeError("section #3", errors.New("truncated"), []byte{0xde, 0xad})

	out := buf.String()
	assert.Contains(t, out, "[ERROR] [codec] Decode error from section #3: truncated")
	assert.Contains(t, out, "Raw data (2 bytes):")
	assert.Contains(t, out, "de ad")
}

func TestFileLogger(t *testing.T) {
	dir := t.TempDir()
	SetLogDir(dir)
	defer SetLogDir("")

	l, err := NewLogger("storage")
	require.NoError(t, err)
	l.Debug("запись в файл")
	require.NoError(t, l.Close())

	files, err := filepath.Glob(filepath.Join(dir, "storage_*.log"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "[DEBUG] [storage] запись в файл", "Файл получает DEBUG независимо от консоли")
}

func TestLoggerManager(t *testing.T) {
	lm := &LoggerManager{loggers: make(map[string]*Logger)}

	a, err := lm.GetLogger("cache")
	require.NoError(t, err)
	b, err := lm.GetLogger("cache")
	require.NoError(t, err)
	assert.Same(t, a, b, "Логгер компонента должен переиспользоваться")
	assert.ElementsMatch(t, []string{"cache"}, lm.ListComponents())

	require.NoError(t, lm.SetLogLevel("cache", ERROR, ERROR))
	assert.Equal(t, ERROR, a.minConsoleLevel)
	assert.Error(t, lm.SetLogLevel("missing", INFO, INFO))

	require.NoError(t, lm.CloseAll())
	assert.Empty(t, lm.ListComponents())
}

func TestLoggerManagerConfigure(t *testing.T) {
	lm := &LoggerManager{loggers: make(map[string]*Logger)}

	early, err := lm.GetLogger(string(ComponentCodec))
	require.NoError(t, err)
	lm.Configure(map[string]string{"codec": "debug", "cache": "error"})
	assert.Equal(t, DEBUG, early.minConsoleLevel, "Уровень применяется к уже созданному логгеру")

	late, err := lm.GetLogger(string(ComponentCache))
	require.NoError(t, err)
	assert.Equal(t, ERROR, late.minConsoleLevel, "и к созданному после Configure")

	other, err := lm.GetLogger(string(ComponentAPI))
	require.NoError(t, err)
	assert.Equal(t, currentConsoleLevel(), other.minConsoleLevel)
	assert.Equal(t, []string{"api", "cache", "codec"}, lm.ListComponents())
}

func TestMustGetLoggerFallback(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))
	SetLogDir(filepath.Join(blocker, "logs"))
	defer SetLogDir("")

	lm := &LoggerManager{loggers: make(map[string]*Logger)}
	l := lm.MustGetLogger("storage")
	require.NotNil(t, l)
	assert.Equal(t, "storage", l.Component())
	assert.Empty(t, lm.ListComponents(), "Резервный логгер не регистрируется")
}

func TestSetConsoleLevel(t *testing.T) {
	SetConsoleLevel(WARN)
	defer SetConsoleLevel(INFO)

	l, err := NewLogger("events")
	require.NoError(t, err)
	assert.Equal(t, WARN, l.minConsoleLevel)
}
