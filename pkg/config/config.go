// Package config holds daemon configuration with defaults matching the
// shipped platform layout. A YAML file may override any field.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Hook describes one post-mount trigger check: a file path relative to the
// raw mount and the property-slot key claimed when the file is present.
type Hook struct {
	// Key names the trigger slot (e.g. "update" claims sys.update.*).
	Key string `yaml:"key"`

	// Trigger is the file path checked under the raw mount.
	Trigger string `yaml:"trigger"`
}

// Config is the full daemon configuration.
type Config struct {
	// DevRoot is where per-volume device nodes are materialized.
	DevRoot string `yaml:"dev_root"`

	// RawRoot is the internal (non-user-facing) mount root.
	RawRoot string `yaml:"raw_root"`

	// Bridged view roots, one per permission level.
	FuseDefaultRoot string `yaml:"fuse_default_root"`
	FuseReadRoot    string `yaml:"fuse_read_root"`
	FuseWriteRoot   string `yaml:"fuse_write_root"`

	// VisibleRoot is the user-facing root for browsable volumes.
	VisibleRoot string `yaml:"visible_root"`

	// SecureStagePath is the system-wide bind target for legacy secure
	// app storage, staged only on the primary volume.
	SecureStagePath string `yaml:"secure_stage_path"`

	// TranslatorPath is the bridge process binary.
	TranslatorPath string `yaml:"translator_path"`

	// MediaUID/MediaGID own media files through the bridge.
	MediaUID int `yaml:"media_uid"`
	MediaGID int `yaml:"media_gid"`

	// BridgeReadyTimeout bounds the wait for the bridge process to bring
	// up its own mount. Zero means DefaultBridgeReadyTimeout.
	BridgeReadyTimeout time.Duration `yaml:"bridge_ready_timeout"`

	// PropertiesPath is the persistent property database. Empty selects
	// an in-memory store (trigger state lost on restart).
	PropertiesPath string `yaml:"properties_path"`

	// Hooks are evaluated in order after every successful native mount.
	Hooks []Hook `yaml:"hooks"`
}

const (
	// DefaultBridgeReadyTimeout bounds bridge startup. The translator
	// normally mounts within a few hundred milliseconds; anything past
	// this is treated as a wedged helper.
	DefaultBridgeReadyTimeout = 30 * time.Second

	// DefaultMediaUID is the media_rw user.
	DefaultMediaUID = 1023

	// DefaultMediaGID is the media_rw group.
	DefaultMediaGID = 1023
)

// Default returns the stock platform configuration.
func Default() Config {
	return Config{
		DevRoot:            "/dev/block/volumed",
		RawRoot:            "/mnt/media_rw",
		FuseDefaultRoot:    "/mnt/runtime/default",
		FuseReadRoot:       "/mnt/runtime/read",
		FuseWriteRoot:      "/mnt/runtime/write",
		VisibleRoot:        "/storage",
		SecureStagePath:    "/mnt/secure/asec",
		TranslatorPath:     "/system/bin/sdcard",
		MediaUID:           DefaultMediaUID,
		MediaGID:           DefaultMediaGID,
		BridgeReadyTimeout: DefaultBridgeReadyTimeout,
		Hooks: []Hook{
			{Key: "update", Trigger: "OTA/update.zip"},
			{Key: "startup", Trigger: "startup/start_up.sh"},
			{Key: "cust", Trigger: "cust/cust_update.zip"},
		},
	}
}

// Load reads a YAML config file over the defaults. A missing path argument
// ("") returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks fields that cannot be fixed up with defaults.
func (c *Config) Validate() error {
	roots := map[string]string{
		"dev_root":          c.DevRoot,
		"raw_root":          c.RawRoot,
		"fuse_default_root": c.FuseDefaultRoot,
		"fuse_read_root":    c.FuseReadRoot,
		"fuse_write_root":   c.FuseWriteRoot,
		"visible_root":      c.VisibleRoot,
		"secure_stage_path": c.SecureStagePath,
		"translator_path":   c.TranslatorPath,
	}
	for name, v := range roots {
		if v == "" {
			return fmt.Errorf("%s must not be empty", name)
		}
		if v[0] != '/' {
			return fmt.Errorf("%s must be absolute, got %q", name, v)
		}
	}

	if c.MediaUID < 0 || c.MediaGID < 0 {
		return fmt.Errorf("media_uid/media_gid must be non-negative")
	}

	if c.BridgeReadyTimeout < 0 {
		return fmt.Errorf("bridge_ready_timeout must be non-negative")
	}
	if c.BridgeReadyTimeout == 0 {
		c.BridgeReadyTimeout = DefaultBridgeReadyTimeout
	}

	seen := make(map[string]bool, len(c.Hooks))
	for _, h := range c.Hooks {
		if h.Key == "" || h.Trigger == "" {
			return fmt.Errorf("hook entries need both key and trigger")
		}
		if seen[h.Key] {
			return fmt.Errorf("duplicate hook key %q", h.Key)
		}
		seen[h.Key] = true
	}

	return nil
}
