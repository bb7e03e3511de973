package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// DefaultDataDir returns where the embedded store lives when no directory is
// configured: $XDG_DATA_HOME/pulse, then the platform's conventional
// application data location, then ~/.pulse. Without a home directory it
// falls back to ./data.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "./data"
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "pulse")
	}

	var candidates []string
	switch runtime.GOOS {
	case "darwin":
		candidates = []string{filepath.Join(home, "Library", "Application Support")}
	case "windows":
		candidates = []string{filepath.Join(home, "AppData", "Local")}
	default:
		candidates = []string{filepath.Join(home, ".local", "share"), "/var/lib"}
	}
	for _, dir := range candidates {
		if isDir(dir) {
			return filepath.Join(dir, "pulse")
		}
	}
	return filepath.Join(home, ".pulse")
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
