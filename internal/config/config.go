// Package config manages the AgroSync configuration and the .agrosync
// directory structure. It handles loading, saving, and initializing the
// client configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

const (
	AgroSyncDir  = ".agrosync"
	ConfigFile   = "config"
	DatabaseFile = "agrosync.db"
)

// SyncConfig holds the orchestrator tunables.
type SyncConfig struct {
	MaxRetries       int     `toml:"max_retries"`
	InitialBackoffMs int     `toml:"initial_backoff_ms"`
	MaxBackoffMs     int     `toml:"max_backoff_ms"`
	JitterFraction   float64 `toml:"jitter_fraction"`
	RequestTimeoutMs int     `toml:"request_timeout_ms"`
	MaxRequeuePasses int     `toml:"max_requeue_passes"`
}

// Config represents the AgroSync client configuration
type Config struct {
	ServerURL string     `toml:"server_url"`
	Token     string     `toml:"token"`
	UserID    string     `toml:"user_id"`
	Sync      SyncConfig `toml:"sync"`
	path      string     // path to .agrosync directory
}

// FindRoot finds the .agrosync directory by walking up from the current directory
func FindRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		p := filepath.Join(dir, AgroSyncDir)
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			return p, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not an agrosync workspace (or any parent up to root)")
		}
		dir = parent
	}
}

// Load loads the configuration from the .agrosync directory
func Load() (*Config, error) {
	root, err := FindRoot()
	if err != nil {
		return nil, err
	}
	return LoadFrom(root)
}

// LoadFrom loads the configuration from an explicit .agrosync directory
func LoadFrom(root string) (*Config, error) {
	configPath := filepath.Join(root, ConfigFile)
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.path = root
	return &cfg, nil
}

// Save saves the configuration to disk
func (c *Config) Save() error {
	configPath := filepath.Join(c.path, ConfigFile)
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(configPath, data, 0600)
}

// Path returns the path to the .agrosync directory
func (c *Config) Path() string {
	return c.path
}

// DatabasePath returns the path to the local SQLite database
func (c *Config) DatabasePath() string {
	return filepath.Join(c.path, DatabaseFile)
}

// Initialize creates a new .agrosync directory with initial configuration
func Initialize(serverURL, token, userID string) (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	root := filepath.Join(cwd, AgroSyncDir)

	// Check if already initialized
	if _, err := os.Stat(root); err == nil {
		return nil, fmt.Errorf("agrosync workspace already exists")
	}

	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create .agrosync directory: %w", err)
	}

	cfg := &Config{
		ServerURL: serverURL,
		Token:     token,
		UserID:    userID,
		Sync: SyncConfig{
			MaxRetries:       5,
			InitialBackoffMs: 500,
			MaxBackoffMs:     300000,
			JitterFraction:   0.25,
			RequestTimeoutMs: 30000,
			MaxRequeuePasses: 3,
		},
		path: root,
	}

	if err := cfg.Save(); err != nil {
		// Cleanup on failure
		os.RemoveAll(root)
		return nil, err
	}

	return cfg, nil
}
