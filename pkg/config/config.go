// Package config loads the mirror configuration. The destination directory
// identifies a mirror, so its settings live in a JSON file inside that
// directory. Precedence, lowest to highest: built-in defaults, the config
// file, PGL_MIRROR_* environment variables (optionally from a .env file),
// then command line flags applied by the caller.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"

	"pixelgardenlabs.io/pgl-mirror/pkg/plog"
	"pixelgardenlabs.io/pgl-mirror/pkg/stash"
	"pixelgardenlabs.io/pgl-mirror/pkg/util"
)

// ConfigFileName is the settings file inside the destination root. The name
// is excluded from mirror cleanup.
const ConfigFileName = "pgl-mirror.config.json"

// Config holds all settings for one mirror run.
type Config struct {
	// SourcePath is the root of the tree being mirrored.
	SourcePath string `json:"sourcePath"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"logLevel"`
	// DryRun logs mutating operations instead of performing them.
	DryRun bool `json:"dryRun"`
	// Once skips the live watch phase after the initial reconciliation.
	Once bool `json:"once"`
	// ModTimeWindowSec is the timestamp comparison granularity in seconds.
	ModTimeWindowSec int `json:"modTimeWindowSec"`
	// BufferSizeKB sizes the pooled copy buffers.
	BufferSizeKB int `json:"bufferSizeKB"`
	// Verify re-reads written files and checks their checksums.
	Verify bool `json:"verify"`
	// StashDeleted archives entries into the stash before cleanup deletes them.
	StashDeleted bool `json:"stashDeleted"`
	// StashFormat selects the stash archive compression.
	StashFormat stash.Format `json:"stashFormat"`
	// EventWorkers bounds concurrent live event applications.
	EventWorkers int `json:"eventWorkers"`

	// TargetPath locates the destination and therefore the config file
	// itself; it can never come from the file.
	TargetPath string `json:"-"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel:         "info",
		ModTimeWindowSec: 1,
		BufferSizeKB:     1024,
		StashFormat:      stash.FormatGzip,
		EventWorkers:     4,
	}
}

// Load assembles the configuration for the given destination: defaults,
// overlaid by the config file when present, overlaid by environment
// variables. Flags are applied afterwards by the caller.
func Load(targetPath string) (Config, error) {
	cfg := Default()
	expandedTarget, err := util.ExpandPath(targetPath)
	if err != nil {
		return cfg, fmt.Errorf("failed to expand target path: %w", err)
	}
	cfg.TargetPath = filepath.Clean(expandedTarget)

	path := filepath.Join(cfg.TargetPath, ConfigFileName)
	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		plog.Debug("Loaded config file", "path", path)
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg.applyEnv()
	if cfg.SourcePath != "" {
		expandedSource, err := util.ExpandPath(cfg.SourcePath)
		if err != nil {
			return cfg, fmt.Errorf("failed to expand source path: %w", err)
		}
		cfg.SourcePath = filepath.Clean(expandedSource)
	}
	return cfg, nil
}

// applyEnv overlays PGL_MIRROR_* variables. A .env file in the working
// directory is folded into the environment first, without overriding
// variables that are already set.
func (c *Config) applyEnv() {
	_ = godotenv.Load()

	envString("PGL_MIRROR_SOURCE", &c.SourcePath)
	envString("PGL_MIRROR_LOG_LEVEL", &c.LogLevel)
	envBool("PGL_MIRROR_DRY_RUN", &c.DryRun)
	envBool("PGL_MIRROR_ONCE", &c.Once)
	envInt("PGL_MIRROR_MOD_TIME_WINDOW_SEC", &c.ModTimeWindowSec)
	envInt("PGL_MIRROR_BUFFER_SIZE_KB", &c.BufferSizeKB)
	envBool("PGL_MIRROR_VERIFY", &c.Verify)
	envBool("PGL_MIRROR_STASH_DELETED", &c.StashDeleted)
	envInt("PGL_MIRROR_EVENT_WORKERS", &c.EventWorkers)

	if v, ok := os.LookupEnv("PGL_MIRROR_STASH_FORMAT"); ok {
		format, err := stash.ParseFormat(v)
		if err != nil {
			plog.Warn("Ignoring invalid environment value", "var", "PGL_MIRROR_STASH_FORMAT", "value", v)
			return
		}
		c.StashFormat = format
	}
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func envBool(key string, dst *bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		plog.Warn("Ignoring invalid environment value", "var", key, "value", v)
		return
	}
	*dst = parsed
}

func envInt(key string, dst *int) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		plog.Warn("Ignoring invalid environment value", "var", key, "value", v)
		return
	}
	*dst = parsed
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.SourcePath == "" || c.SourcePath == "." {
		return fmt.Errorf("source path is required")
	}
	if c.TargetPath == "" || c.TargetPath == "." {
		return fmt.Errorf("target path is required")
	}
	if c.ModTimeWindowSec < 1 {
		return fmt.Errorf("mod time window must be at least 1 second, got %d", c.ModTimeWindowSec)
	}
	if c.BufferSizeKB < 1 {
		return fmt.Errorf("buffer size must be at least 1 KiB, got %d", c.BufferSizeKB)
	}
	if c.EventWorkers < 1 {
		return fmt.Errorf("event workers must be at least 1, got %d", c.EventWorkers)
	}
	return nil
}

// Save writes the configuration to the destination's config file.
func (c Config) Save() error {
	if err := os.MkdirAll(c.TargetPath, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to create destination directory %s: %w", c.TargetPath, err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	path := filepath.Join(c.TargetPath, ConfigFileName)
	if err := os.WriteFile(path, append(data, '\n'), util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

// LogSummary emits the effective configuration once at startup.
func (c Config) LogSummary() {
	plog.Info("Effective configuration",
		"source", c.SourcePath,
		"target", c.TargetPath,
		"logLevel", c.LogLevel,
		"dryRun", c.DryRun,
		"once", c.Once,
		"modTimeWindowSec", c.ModTimeWindowSec,
		"bufferSizeKB", c.BufferSizeKB,
		"verify", c.Verify,
		"stashDeleted", c.StashDeleted,
		"stashFormat", c.StashFormat.String(),
		"eventWorkers", c.EventWorkers,
	)
}
