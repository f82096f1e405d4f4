// Package config loads apimon settings from ~/.config/apimon/config.yaml and
// APIMON_* environment variables.
package config

import (
	"os"
	"path/filepath"

	"apimon/internal/buffer"
	"apimon/internal/capture"
)

// Config holds the application configuration.
type Config struct {
	ProxyAddr    string `yaml:"proxy_addr"`     // APIMON_PROXY_ADDR
	UIAddr       string `yaml:"ui_addr"`        // APIMON_UI_ADDR
	SessionPath  string `yaml:"session_path"`   // APIMON_SESSION_PATH
	MaxItems     int    `yaml:"max_items"`      // APIMON_MAX_ITEMS
	MaxBodyBytes int    `yaml:"max_body_bytes"` // APIMON_MAX_BODY_BYTES
	MITM         bool   `yaml:"mitm"`           // APIMON_MITM
	ExportDir    string `yaml:"export_dir"`     // APIMON_EXPORT_DIR

	// DetailCacheSize bounds the number of rendered entry details kept.
	DetailCacheSize int `yaml:"detail_cache_size"` // APIMON_DETAIL_CACHE_SIZE

	LogLevel      string `yaml:"log_level"`        // APIMON_LOG_LEVEL
	LogFile       string `yaml:"log_file"`         // APIMON_LOG_FILE
	LogMaxSizeMB  int    `yaml:"log_max_size_mb"`  // APIMON_LOG_MAX_SIZE_MB
	LogMaxBackups int    `yaml:"log_max_backups"`  // APIMON_LOG_MAX_BACKUPS
	LogMaxAgeDays int    `yaml:"log_max_age_days"` // APIMON_LOG_MAX_AGE_DAYS
	LogCompress   bool   `yaml:"log_compress"`     // APIMON_LOG_COMPRESS
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ProxyAddr:       ":8080",
		UIAddr:          ":8081",
		SessionPath:     filepath.Join(os.TempDir(), "apimon", "session.db"),
		MaxItems:        buffer.MaxItems,
		MaxBodyBytes:    capture.MaxBodyBytes,
		MITM:            false,
		ExportDir:       ".",
		DetailCacheSize: 64,
		LogLevel:        "info",
		LogFile:         "",
		LogMaxSizeMB:    10,
		LogMaxBackups:   3,
		LogMaxAgeDays:   28,
		LogCompress:     true,
	}
}
