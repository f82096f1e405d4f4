package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Path returns the location of the config file.
func Path() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "apimon", "config.yaml"), nil
}

// Load reads the config file over the defaults and applies environment
// overrides. A missing file is not an error; a malformed one is.
func Load() (Config, error) {
	cfg := DefaultConfig()

	path, err := Path()
	if err == nil {
		data, readErr := os.ReadFile(path)
		switch {
		case readErr == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return DefaultConfig(), fmt.Errorf("parse %s: %w", path, err)
			}
		case !os.IsNotExist(readErr):
			return DefaultConfig(), fmt.Errorf("read %s: %w", path, readErr)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.ProxyAddr = getEnvString("APIMON_PROXY_ADDR", cfg.ProxyAddr)
	cfg.UIAddr = getEnvString("APIMON_UI_ADDR", cfg.UIAddr)
	cfg.SessionPath = getEnvString("APIMON_SESSION_PATH", cfg.SessionPath)
	cfg.MaxItems = getEnvInt("APIMON_MAX_ITEMS", cfg.MaxItems)
	cfg.MaxBodyBytes = getEnvInt("APIMON_MAX_BODY_BYTES", cfg.MaxBodyBytes)
	cfg.MITM = getEnvBool("APIMON_MITM", cfg.MITM)
	cfg.ExportDir = getEnvString("APIMON_EXPORT_DIR", cfg.ExportDir)
	cfg.DetailCacheSize = getEnvInt("APIMON_DETAIL_CACHE_SIZE", cfg.DetailCacheSize)
	cfg.LogLevel = getEnvString("APIMON_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = getEnvString("APIMON_LOG_FILE", cfg.LogFile)
	cfg.LogMaxSizeMB = getEnvInt("APIMON_LOG_MAX_SIZE_MB", cfg.LogMaxSizeMB)
	cfg.LogMaxBackups = getEnvInt("APIMON_LOG_MAX_BACKUPS", cfg.LogMaxBackups)
	cfg.LogMaxAgeDays = getEnvInt("APIMON_LOG_MAX_AGE_DAYS", cfg.LogMaxAgeDays)
	cfg.LogCompress = getEnvBool("APIMON_LOG_COMPRESS", cfg.LogCompress)
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		switch v {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return defaultVal
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}
