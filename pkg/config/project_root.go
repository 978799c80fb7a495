package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ResolveLogDir returns the absolute log directory, or "" when logs only go
// to stderr.
func ResolveLogDir(cfg *Config) string {
	if cfg == nil {
		return ""
	}
	dir := expandHomeDir(cfg.Logging.Dir)
	if dir == "" {
		return ""
	}
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return dir
}

func expandHomeDir(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
