package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-fusion3d/config"
)

// TestConfigureWritesRotatingFile checks entries reach the configured file with their fields.
func TestConfigureWritesRotatingFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "fusion3d.log")
	require.NoError(t, Configure(config.LogConfig{Level: "debug", File: file, MaxSizeMB: 1}))
	t.Cleanup(func() { _ = Configure(config.LogConfig{Level: "info"}) })

	assert.True(t, DebugEnabled())
	Debug(Fields{"voxels": 3}, "voxel grid built")
	Info(nil, "detector ready")

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "voxel grid built")
	assert.Contains(t, string(data), "voxels")
	assert.Contains(t, string(data), "detector ready")
}

// TestConfigureLevel checks the level filter and the rejection of unknown levels.
func TestConfigureLevel(t *testing.T) {
	t.Cleanup(func() { _ = Configure(config.LogConfig{Level: "info"}) })

	require.NoError(t, Configure(config.LogConfig{Level: "warn"}))
	assert.Equal(t, logrus.WarnLevel, Logger().GetLevel())
	assert.False(t, DebugEnabled())

	require.NoError(t, Configure(config.LogConfig{}))
	assert.Equal(t, logrus.InfoLevel, Logger().GetLevel())

	assert.Error(t, Configure(config.LogConfig{Level: "loud"}))
}
