package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, time.Second, cfg.ReconnectBaseDelay)
	assert.Equal(t, 10*time.Second, cfg.ReconnectMaxDelay)
	assert.Equal(t, 3, cfg.HeartbeatMaxMissed)
	assert.Equal(t, 10, cfg.GraceTicks)
	assert.Equal(t, 1, cfg.CompletionTicks())
}

func TestLoad_EnvFileAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("ROOM_CODE=K3X9QZ\nCOMPLETION_DELAY=2500ms\n"), 0o600))
	t.Setenv("RECONNECT_MAX_ATTEMPTS", "4")
	t.Cleanup(func() {
		os.Unsetenv("ROOM_CODE")
		os.Unsetenv("COMPLETION_DELAY")
	})

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "K3X9QZ", cfg.RoomCode)
	assert.Equal(t, 4, cfg.ReconnectMaxAttempts)
	assert.Equal(t, 3, cfg.CompletionTicks())
}

func TestLoad_RejectsHeartbeatFasterThanPing(t *testing.T) {
	t.Setenv("HEARTBEAT_CHECK_INTERVAL", "2s")
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}
