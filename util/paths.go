package util

import (
	"fmt"
	"os"
	"path/filepath"
)

const AppConfigDir = ".config/" + Name

// GetConfigDir returns ~/.config/mammut, creating it when missing.
func GetConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	dir := filepath.Join(home, AppConfigDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return dir, nil
}

// ResolveFilePath prefers filename in the working directory, then in the
// config directory. When neither exists the config directory path is
// returned so the file gets created there.
func ResolveFilePath(filename string) string {
	return ResolveFilePathWithSubdir("", filename)
}

// ResolveFilePathWithSubdir is ResolveFilePath for files below subdir, such
// as .ssh/hostkey. The subdirectory is created in the config directory.
func ResolveFilePathWithSubdir(subdir, filename string) string {
	local := filepath.Join(subdir, filename)
	if _, err := os.Stat(local); err == nil {
		return local
	}

	configDir, err := GetConfigDir()
	if err != nil {
		return local
	}
	target := filepath.Join(configDir, subdir, filename)
	if _, err := os.Stat(target); err == nil {
		return target
	}
	if subdir != "" {
		os.MkdirAll(filepath.Dir(target), 0755)
	}
	return target
}
