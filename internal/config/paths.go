// Package config provides configuration management for CSF Downloader.
package config

import (
	"os"
	"path/filepath"

	"github.com/ZazaJr24/CSF-Downloader/internal/constants"
)

// ConfigDirectory returns the directory holding config.toml.
//
// Locations:
//   - Windows: %APPDATA%\csf-downloader
//   - macOS: ~/Library/Application Support/csf-downloader
//   - Unix: ~/.config/csf-downloader
func ConfigDirectory() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), constants.AppName)
		}
		return filepath.Join(homeDir, ".config", constants.AppName)
	}
	return filepath.Join(configDir, constants.AppName)
}

// DefaultConfigPath returns the default location of config.toml.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDirectory(), constants.ConfigFileName)
}

// DefaultDataDir returns the directory for long-lived user data
// (depot key store). It shares the config directory.
func DefaultDataDir() string {
	return ConfigDirectory()
}

// DefaultCacheDir returns the directory for disposable data
// (content-server list, manifest cache).
//
// Locations:
//   - Windows: %LOCALAPPDATA%\csf-downloader
//   - macOS: ~/Library/Caches/csf-downloader
//   - Unix: ~/.cache/csf-downloader
func DefaultCacheDir() string {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), constants.AppName+"-cache")
		}
		return filepath.Join(homeDir, ".cache", constants.AppName)
	}
	return filepath.Join(cacheDir, constants.AppName)
}
