package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapLookup(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := &ConsoleConfig{RosbridgeURL: ptrString("ws://10.0.0.5:9090"), MaxPointNumber: ptrInt(1000)}
	err := applyEnv(cfg, mapLookup(map[string]string{
		"LIDAR_CONSOLE_ROSBRIDGE_URL":    "wss://scanner.local:9090",
		"LIDAR_CONSOLE_MAX_POINT_NUMBER": "200000",
		"LIDAR_CONSOLE_TARGET_FPS":       "12.5",
		"LIDAR_CONSOLE_RECONNECT":        "false",
		"LIDAR_CONSOLE_ODOMETRY_TOPIC":   "/odom",
		"LIDAR_CONSOLE_GRPC_LISTEN":      "",
		"LIDAR_CONSOLE_SPEED_UNITS":      "kmph",
	}))
	require.NoError(t, err)

	assert.Equal(t, "wss://scanner.local:9090", cfg.GetRosbridgeURL())
	assert.Equal(t, 200000, cfg.GetMaxPointNumber())
	assert.Equal(t, 12.5, cfg.GetTargetFPS())
	assert.False(t, cfg.GetReconnect())
	assert.Equal(t, "/odom", cfg.GetOdometryTopic())
	assert.Equal(t, "", cfg.GetGRPCListen())
	assert.Equal(t, "kmph", cfg.GetSpeedUnits())
	// Untouched keys keep their values.
	assert.Equal(t, "/lidar_out", cfg.GetPointCloudTopic())
}

func TestApplyEnvErrors(t *testing.T) {
	for key, val := range map[string]string{
		"LIDAR_CONSOLE_MAX_POINT_NUMBER": "lots",
		"LIDAR_CONSOLE_TARGET_FPS":       "fast",
		"LIDAR_CONSOLE_RECONNECT":        "perhaps",
		"LIDAR_CONSOLE_COMPRESSION":      "zstd",
	} {
		t.Run(key, func(t *testing.T) {
			err := applyEnv(EmptyConsoleConfig(), mapLookup(map[string]string{key: val}))
			assert.Error(t, err)
		})
	}
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "console.env")
	require.NoError(t, os.WriteFile(path, []byte("LIDAR_CONSOLE_LISTEN=:9999\nLIDAR_CONSOLE_WORKER_INBOX=4\n"), 0644))

	t.Setenv("LIDAR_CONSOLE_LISTEN", "")
	os.Unsetenv("LIDAR_CONSOLE_LISTEN")
	t.Setenv("LIDAR_CONSOLE_WORKER_INBOX", "8")

	require.NoError(t, LoadEnv(filepath.Join(dir, "missing.env"), path))

	cfg := EmptyConsoleConfig()
	require.NoError(t, ApplyEnv(cfg))
	assert.Equal(t, ":9999", cfg.GetListen())
	// Variables already set win over the file.
	assert.Equal(t, 8, cfg.GetWorkerInbox())
}
