package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for 2fa-stats.
type Config struct {
	BaseDir            string              `toml:"base_dir"`
	LogDir             string              `toml:"log_dir"`
	DefaultEnvironment string              `toml:"default_environment"`
	Environments       []EnvironmentConfig `toml:"environments"`
	Database           DatabaseConfig      `toml:"database"`
	Archive            ArchiveConfig       `toml:"archive"`
	Encryption         EncryptionConfig    `toml:"encryption"`
	Harvest            HarvestConfig       `toml:"harvest"`
}

// EnvironmentConfig is one API deployment to harvest.
type EnvironmentConfig struct {
	Name         string `toml:"name"`
	BaseURL      string `toml:"base_url"`
	APIKey       string `toml:"api_key"`
	APIKeyHeader string `toml:"api_key_header,omitempty"` // defaults to X-Api-Key
}

// DatabaseConfig represents configuration for the cache store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite", "memory" or "postgres"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite

	// Postgres-specific fields (only used when Type == "postgres")
	DSN      string `toml:"dsn,omitempty"`
	MaxConns int    `toml:"max_conns,omitempty"`
}

// ArchiveConfig configures where cache snapshots are published.
// An empty Type disables publishing.
type ArchiveConfig struct {
	Type string `toml:"type"` // "", "memory", "filesystem" or "s3"

	// S3-specific fields (only used when Type == "s3")
	S3Bucket string `toml:"s3_bucket,omitempty"`
	S3Prefix string `toml:"s3_prefix,omitempty"`
	S3Region string `toml:"s3_region,omitempty"`
	// S3Endpoint targets an S3-compatible service (path-style addressing).
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used for snapshots.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "none" (default), "age" or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// HarvestConfig tunes the transport, the harvester and the refreshers.
// Zero values mean "use the default"; see WithDefaults.
type HarvestConfig struct {
	RatePermits     int `toml:"rate_permits"`
	RateWindowMS    int `toml:"rate_window_ms"`
	QueueLimit      int `toml:"queue_limit"`
	RetryAttempts   int `toml:"retry_attempts"`
	RetryBackoffMS  int `toml:"retry_backoff_ms"`
	RequestTimeoutS int `toml:"request_timeout_seconds"`

	Fanout      int  `toml:"fanout"`
	KeepPartial bool `toml:"keep_partial"`
	PageLimit   int  `toml:"page_limit"`

	DetailParallelism int `toml:"detail_parallelism"`
	DetailTimeoutS    int `toml:"detail_timeout_seconds"`
	MaxPages          int `toml:"max_pages"`

	// Per-kind overrides keyed by distributors, vendors, clients or users.
	MaxResults map[string]int `toml:"max_results,omitempty"`
	PageSize   map[string]int `toml:"page_size,omitempty"`
}

// WithDefaults returns a copy of h with unset fields filled in.
func (h HarvestConfig) WithDefaults() HarvestConfig {
	set := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}
	set(&h.RatePermits, 4)
	set(&h.RateWindowMS, 1000)
	set(&h.QueueLimit, 10000)
	set(&h.RetryAttempts, 3)
	set(&h.RetryBackoffMS, 1000)
	set(&h.RequestTimeoutS, 240)
	set(&h.Fanout, 8)
	set(&h.PageLimit, 100)
	set(&h.DetailParallelism, 5)
	set(&h.DetailTimeoutS, 60)
	set(&h.MaxPages, 100)
	return h
}

// NewConfig creates a new Config rooted at baseDir with a file-backed SQLite
// cache and no publishing.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Encryption: EncryptionConfig{
			Type:           "none",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "2fa-stats.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "2fa-stats.key"),
		},
	}
}

// Environment returns the environment called name, or the default
// environment when name is empty.
func (c *Config) Environment(name string) (*EnvironmentConfig, error) {
	if name == "" {
		name = c.DefaultEnvironment
	}
	if name == "" && len(c.Environments) == 1 {
		return &c.Environments[0], nil
	}
	if name == "" {
		return nil, fmt.Errorf("no environment selected and no default_environment configured")
	}
	for i := range c.Environments {
		if c.Environments[i].Name == name {
			return &c.Environments[i], nil
		}
	}
	return nil, fmt.Errorf("unknown environment: %s", name)
}

// Validate checks the fields every command relies on.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Environments))
	for _, env := range c.Environments {
		if env.Name == "" {
			return fmt.Errorf("environment without a name")
		}
		if seen[env.Name] {
			return fmt.Errorf("duplicate environment: %s", env.Name)
		}
		seen[env.Name] = true
		if env.BaseURL == "" {
			return fmt.Errorf("environment %s: base_url required", env.Name)
		}
	}
	for kind := range c.Harvest.MaxResults {
		if !knownKind(kind) {
			return fmt.Errorf("harvest.max_results: unknown kind %q", kind)
		}
	}
	for kind := range c.Harvest.PageSize {
		if !knownKind(kind) {
			return fmt.Errorf("harvest.page_size: unknown kind %q", kind)
		}
	}
	return nil
}

func knownKind(k string) bool {
	switch k {
	case "distributors", "vendors", "clients", "users":
		return true
	}
	return false
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads and validates a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// The file holds API keys.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
