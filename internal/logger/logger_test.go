package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFileLogger(t *testing.T, level Level) (*Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.log")
	l, err := New(level, path, "")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l, path
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel("WARNING"))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelNone, ParseLevel("none"))
	assert.Equal(t, LevelInfo, ParseLevel("anything else"))
}

func TestLevelGate(t *testing.T) {
	l, path := newFileLogger(t, LevelWarn)

	l.Debug("too quiet %d", 1)
	l.Info("still too quiet")
	l.Warn("loud enough")
	l.Error("definitely")

	log := readLog(t, path)
	assert.NotContains(t, log, "too quiet")
	assert.Contains(t, log, "[WARN] loud enough")
	assert.Contains(t, log, "[ERROR] definitely")
}

func TestWithPrefixChains(t *testing.T) {
	l, path := newFileLogger(t, LevelInfo)

	l.WithPrefix("listener").Info("started")
	l.WithPrefix("listener").WithPrefix("conn_1").Info("accepted")

	log := readLog(t, path)
	assert.Contains(t, log, "[listener] started")
	assert.Contains(t, log, "[listener:conn_1] accepted")
}

func TestSetLevelAffectsOnlyThatView(t *testing.T) {
	l, path := newFileLogger(t, LevelInfo)
	view := l.WithPrefix("quiet")
	view.SetLevel(LevelError)

	view.Info("suppressed")
	l.Info("visible")

	log := readLog(t, path)
	assert.NotContains(t, log, "suppressed")
	assert.Contains(t, log, "visible")
	assert.Equal(t, LevelError, view.GetLevel())
	assert.Equal(t, LevelInfo, l.GetLevel())
}

func TestEmptyPathDiscards(t *testing.T) {
	l, err := New(LevelDebug, "", "")
	require.NoError(t, err)
	// Nothing to assert beyond "does not crash": the sink is io.Discard.
	l.Info("dropped")
	require.NoError(t, l.Close())
}

func TestNoneLevelNeverOpensFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "never.log")
	l, err := New(LevelNone, path, "")
	require.NoError(t, err)
	l.Error("dropped")
	require.NoError(t, l.Close())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestCreatesLogDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "server.log")
	l, err := New(LevelInfo, path, "")
	require.NoError(t, err)
	defer l.Close()

	l.Info("hello")
	assert.Contains(t, readLog(t, path), "hello")
}

func TestGlobalFallbackDiscards(t *testing.T) {
	// Global without Init must hand back a working, silent logger.
	g := Global()
	require.NotNil(t, g)
	g.Info("dropped")
	Debug("dropped")
	Info("dropped")
	Warn("dropped")
	Error("dropped")
}

func TestLineFormat(t *testing.T) {
	l, path := newFileLogger(t, LevelInfo)
	l.WithPrefix("store").Info("initialized in %dms", 42)

	log := readLog(t, path)
	line := strings.TrimSpace(log)
	// timestamp [LEVEL] [prefix] message
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{3} \[INFO\] \[store\] initialized in 42ms$`, line)
}
