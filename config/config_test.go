package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "./data", cfg.Storage.DataDir)
	assert.Equal(t, "snappy", cfg.Storage.Compression)
	assert.Equal(t, 5000, cfg.Recovery.BatchMaxOps)
	assert.Equal(t, int64(0), cfg.Recovery.BatchMaxBytes)
	assert.Equal(t, 4, cfg.Recovery.WriterPoolSize)
	assert.False(t, cfg.Recovery.TakeUnstableCheckpointOnShutdown)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	yaml := `
storage:
  data_dir: /var/lib/nexusdoc
  compression: zstd
recovery:
  take_unstable_checkpoint_on_shutdown: true
  batch_max_ops: 100
  writer_pool_size: 8
logging:
  level: debug
`
	cfg, err := Load(strings.NewReader(yaml))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/nexusdoc", cfg.Storage.DataDir)
	assert.Equal(t, "zstd", cfg.Storage.Compression)
	assert.True(t, cfg.Recovery.TakeUnstableCheckpointOnShutdown)
	assert.Equal(t, 100, cfg.Recovery.BatchMaxOps)
	assert.Equal(t, 8, cfg.Recovery.WriterPoolSize)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Fields left out of the YAML keep their defaults.
	assert.Equal(t, 0, int(cfg.Recovery.BatchMaxBytes))
}

func TestLoad_RejectsBadValues(t *testing.T) {
	testCases := []struct {
		name string
		yaml string
	}{
		{"unknown compression", "storage:\n  compression: brotli\n"},
		{"negative ops", "recovery:\n  batch_max_ops: -1\n"},
		{"negative pool", "recovery:\n  writer_pool_size: -2\n"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tc.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "./data", cfg.Storage.DataDir)
}

func TestParseDuration(t *testing.T) {
	assert.Equal(t, time.Second, ParseDuration("", time.Second, nil))
	assert.Equal(t, 2*time.Second, ParseDuration("2s", time.Second, nil))
	assert.Equal(t, time.Second, ParseDuration("junk", time.Second, nil))
}
