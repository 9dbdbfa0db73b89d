package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigureSilentByDefault(t *testing.T) {
	Configure("")
	l := Get(CategoryStore)
	require.Nil(t, l.sugar)
	// Writing to a silent logger must not panic.
	l.Info("hello %s", "world")
}

func TestConfigureWritesToFile(t *testing.T) {
	dir := t.TempDir()
	Configure(dir)
	defer Configure("")

	Store("ingest run %d", 1)
	StoreDebug("debug line")

	path := filepath.Join(dir, "store.log")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "ingest run 1")
	require.Contains(t, string(data), "debug line")
}

func TestTimerStopIsSafeOnNil(t *testing.T) {
	var timer *Timer
	timer.Stop()
}
