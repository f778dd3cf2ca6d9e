package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logfs.log")
	l, err := New(Config{Level: "warn", OutputFile: path})
	require.NoError(t, err)

	l.Info("dropped below level")
	l.Warn("page quarantined")
	require.NoError(t, l.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	require.Equal(t, "WARN", entry["level"])
	require.Equal(t, "page quarantined", entry["msg"])
	require.Equal(t, DefaultService, entry["service"])
}

func TestNew_ServiceAndBadLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.log")
	l, err := New(Config{Level: "loud", Format: "console", OutputFile: path, Service: "logfs-cli"})
	require.NoError(t, err)

	l.Debug("hidden")
	l.Info("shown")
	require.NoError(t, l.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "hidden")
	require.Contains(t, string(raw), "shown")
	require.Contains(t, string(raw), "logfs-cli")
}

func TestNew_UnwritableFile(t *testing.T) {
	_, err := New(Config{OutputFile: filepath.Join(t.TempDir(), "missing", "x.log")})
	require.Error(t, err)
}
