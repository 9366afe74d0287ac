package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewProdWritesJSON(t *testing.T) {
	out := filepath.Join(t.TempDir(), "log.json")
	log, err := New(Options{Mode: "prod", OutputPaths: []string{out}})
	require.NoError(t, err)

	log.Debug("hidden")
	log.Info("round started", zap.String("run_id", "abc"), zap.Int("round", 1))
	require.NoError(t, log.Sync())

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "round started", entry["msg"])
	assert.Equal(t, "abc", entry["run_id"])
}

func TestNewVerboseEnablesDebug(t *testing.T) {
	log, err := New(Options{Verbose: true, OutputPaths: []string{filepath.Join(t.TempDir(), "dev.log")}})
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zap.DebugLevel))

	quiet, err := New(Options{Mode: "dev", OutputPaths: []string{filepath.Join(t.TempDir(), "dev.log")}})
	require.NoError(t, err)
	assert.False(t, quiet.Core().Enabled(zap.DebugLevel))
}
