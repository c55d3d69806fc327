package config

import (
	"os"
	"path/filepath"
)

const (
	CONFIG_PATH = "CONFIG_PATH"
)

var (
	ConfigFile = configFile("golog.toml")
)

func configFile(filename string) string {
	dir := os.Getenv(CONFIG_PATH)
	if dir != "" {
		return filepath.Join(dir, filename)
	}

	homeDir, err := os.UserHomeDir()
	if err == nil {
		return filepath.Join(homeDir, filename)
	}

	return filename
}
