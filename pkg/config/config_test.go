package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "/mnt/media_rw", cfg.RawRoot)
	assert.Equal(t, "/mnt/runtime/write", cfg.FuseWriteRoot)
	assert.Equal(t, "/storage", cfg.VisibleRoot)
	assert.Equal(t, DefaultMediaUID, cfg.MediaUID)
	assert.Len(t, cfg.Hooks, 3)
	assert.Equal(t, "update", cfg.Hooks[0].Key)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "volumed.yaml")
	data := `
raw_root: /var/lib/volumed/raw
translator_path: /usr/libexec/sdcard
bridge_ready_timeout: 5s
hooks:
  - key: update
    trigger: OTA/update.zip
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/volumed/raw", cfg.RawRoot)
	assert.Equal(t, "/usr/libexec/sdcard", cfg.TranslatorPath)
	assert.Equal(t, 5*time.Second, cfg.BridgeReadyTimeout)
	assert.Len(t, cfg.Hooks, 1)

	// Untouched fields keep their defaults
	assert.Equal(t, "/mnt/runtime/read", cfg.FuseReadRoot)
}

func TestLoadMissingPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "relative raw root",
			mutate:  func(c *Config) { c.RawRoot = "media_rw" },
			wantErr: "must be absolute",
		},
		{
			name:    "empty translator",
			mutate:  func(c *Config) { c.TranslatorPath = "" },
			wantErr: "must not be empty",
		},
		{
			name:    "negative uid",
			mutate:  func(c *Config) { c.MediaUID = -1 },
			wantErr: "non-negative",
		},
		{
			name: "duplicate hook key",
			mutate: func(c *Config) {
				c.Hooks = append(c.Hooks, Hook{Key: "update", Trigger: "x/y.zip"})
			},
			wantErr: "duplicate hook key",
		},
		{
			name:    "hook missing trigger",
			mutate:  func(c *Config) { c.Hooks = []Hook{{Key: "update"}} },
			wantErr: "key and trigger",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateDefaultsTimeout(t *testing.T) {
	cfg := Default()
	cfg.BridgeReadyTimeout = 0
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultBridgeReadyTimeout, cfg.BridgeReadyTimeout)
}
