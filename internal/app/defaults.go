package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - TWOFA_CONFIG_PATH: config file location (default: ~/.config/2fa-stats.toml)
//   - TWOFA_HOME: base directory for cache and logs (default: ~/.local/share/2fa-stats)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// getConfigPath returns the config file path, checking TWOFA_CONFIG_PATH first.
func getConfigPath() (string, error) {
	if path := os.Getenv("TWOFA_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "2fa-stats.toml"), nil
}

// getBaseDir returns the data directory, checking TWOFA_HOME first and then
// falling back to the XDG default.
func getBaseDir() (string, error) {
	if path := os.Getenv("TWOFA_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "2fa-stats"), nil
}
