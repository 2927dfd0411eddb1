package config

import (
	"os"
	"path/filepath"
)

// Discover returns the config file to load. An explicit path wins, then
// $EDGE_BOT_CONFIG, then ~/.config/edge-bot/config.yaml, then
// ./config.yaml. It returns "" when none exist, meaning defaults plus
// environment only.
func Discover(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv("EDGE_BOT_CONFIG"); p != "" {
		return p
	}
	for _, p := range searchPaths() {
		if fileExists(p) {
			return p
		}
	}
	return ""
}

func searchPaths() []string {
	var paths []string
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "edge-bot", "config.yaml"))
	}
	return append(paths, "config.yaml")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
