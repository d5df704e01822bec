// Package config provides configuration management for bongbot.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/martiert/bongbot/internal/appinfo"
)

// ConfigDir returns the application configuration directory path,
// ~/.config/bongbot/ or the platform equivalent.
func ConfigDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get user config dir: %w", err)
	}
	return filepath.Join(dir, appinfo.DirName), nil
}

// EnsureConfigDir creates the configuration directory if it doesn't exist.
func EnsureConfigDir() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create config dir %q: %w", dir, err)
	}

	return dir, nil
}

// configPath returns the full path for a file in the configuration directory.
func configPath(filename string) (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, filename), nil
}

// DefaultBotPath returns the default path to the event-bot configuration.
func DefaultBotPath() (string, error) {
	return configPath(appinfo.BotConfigFileName)
}

// DefaultAdminPath returns the default path to the admin configuration.
func DefaultAdminPath() (string, error) {
	return configPath(appinfo.AdminConfigFileName)
}

// AdminLockPath returns the path to the admin single-instance lock file.
func AdminLockPath() (string, error) {
	return configPath(appinfo.AdminLockFileName)
}
