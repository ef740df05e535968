// Package paths resolves where ollamcp keeps its config and cache on disk.
package paths

import (
	"os"
	"path/filepath"
)

const appName = "ollamcp"

// configNames lists the recognised config file names, in lookup order.
var configNames = []string{"config.toml", "config.yaml", "config.yml", "config.json"}

// ConfigDir is $XDG_CONFIG_HOME/ollamcp, or ~/.config/ollamcp.
func ConfigDir() string {
	return underBase("XDG_CONFIG_HOME", ".config")
}

// CacheDir is $XDG_CACHE_HOME/ollamcp, or ~/.cache/ollamcp.
func CacheDir() string {
	return underBase("XDG_CACHE_HOME", ".cache")
}

// ResultCacheDir holds cached tool results.
func ResultCacheDir() string {
	return filepath.Join(CacheDir(), "results")
}

// ConfigFile returns the first config file that exists in ConfigDir. When
// none does, it returns the config.toml path so callers can report where
// one belongs.
func ConfigFile() string {
	dir := ConfigDir()
	for _, name := range configNames {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return filepath.Join(dir, configNames[0])
}

// EnsureDir creates dir and its parents with owner-only permissions.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o700)
}

func underBase(envVar, homeSuffix string) string {
	if base := os.Getenv(envVar); base != "" {
		return filepath.Join(base, appName)
	}
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, homeSuffix, appName)
}
