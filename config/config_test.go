package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sushant-115/logfs/core/logfs"
	"github.com/sushant-115/logfs/core/storage_engine/flash"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "logfs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
medium:
  page_size: 64
  page_end: 63
  pages_per_block: 4
  record_size: 8
  mode: Circular
device:
  image: /tmp/flash.img
logger:
  level: debug
telemetry:
  enabled: true
  prometheus_port: 9464
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, logfs.Circular, cfg.Medium.Mode)
	require.Equal(t, 64, cfg.Medium.PageSize)
	require.Equal(t, uint32(0), cfg.Medium.PageStart)
	require.Equal(t, "/tmp/flash.img", cfg.Device.Image)
	require.Equal(t, "debug", cfg.Logger.Level)
	require.Equal(t, "console", cfg.Logger.Format, "unset keys keep their defaults")
	require.True(t, cfg.Telemetry.Enabled)
	require.Equal(t, "logfs-cli", cfg.Telemetry.ServiceName)

	require.Equal(t, flash.Geometry{PageSize: 64, PageCount: 64, PagesPerBlock: 4}, cfg.Device.Geometry(cfg.Medium))
}

func TestLoad_Errors(t *testing.T) {
	tests := map[string]struct {
		body    string
		invalid bool
	}{
		"unknown key":      {body: "medium:\n  page_sise: 64\n"},
		"unknown mode":     {body: "medium:\n  mode: ring\n", invalid: true},
		"bad geometry":     {body: "medium:\n  record_size: 0\n", invalid: true},
		"device too small": {body: "device:\n  page_count: 128\n", invalid: true},
		"negative rate":    {body: "device:\n  throughput_bytes_per_sec: -1\n", invalid: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			require.Error(t, err)
			if tc.invalid {
				require.ErrorIs(t, err, logfs.ErrInvalidConfig)
			}
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestParse_EmptyDocumentIsDefault(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestMarshal_RoundTrips(t *testing.T) {
	cfg := Default()
	cfg.Medium.Mode = logfs.Circular
	cfg.Device.ThroughputBytesPerSec = 4096

	raw, err := cfg.Marshal()
	require.NoError(t, err)
	require.Contains(t, string(raw), "mode: circular")

	back, err := Parse(raw)
	require.NoError(t, err)
	require.Equal(t, cfg, back)
}
