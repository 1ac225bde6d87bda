// Package config reads and writes the faceattend TOML configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"faceattend/internal/attend"
)

// Config represents the main configuration for faceattend.
type Config struct {
	HostID     string           `toml:"host_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Database   DatabaseConfig   `toml:"database"`
	Encryption EncryptionConfig `toml:"encryption"`
	Extractor  ExtractorConfig  `toml:"extractor"`
	Matching   MatchingConfig   `toml:"matching"`
	Liveness   LivenessConfig   `toml:"liveness"`
	Ingest     IngestConfig     `toml:"ingest"`
	Vaults     []VaultConfig    `toml:"vaults"`
}

// DatabaseConfig represents configuration for the gallery database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// EncryptionConfig locates the age key file that seals templates.
type EncryptionConfig struct {
	KeyPath string `toml:"key_path"`
}

// ExtractorConfig points at the face embedding server.
type ExtractorConfig struct {
	URL       string   `toml:"url"`
	Dimension int      `toml:"dimension"`
	Timeout   Duration `toml:"timeout"`
}

// MatchingConfig tunes recognition.
type MatchingConfig struct {
	Threshold float64 `toml:"threshold"` // Euclidean distance; a match must be strictly below
}

// LivenessConfig tunes the motion check run at enrollment.
type LivenessConfig struct {
	Threshold float64 `toml:"threshold"` // mean absolute gray difference, 0-255
}

// IngestConfig configures the drop-folder worker. DropDir and ArchiveDir
// must be on the same filesystem.
type IngestConfig struct {
	DropDir    string   `toml:"drop_dir"`
	ArchiveDir string   `toml:"archive_dir"`
	Interval   Duration `toml:"interval"`
	MinAge     Duration `toml:"min_age"`
	Ignore     []string `toml:"ignore,omitempty"`
}

// VaultConfig represents configuration for a snapshot vault.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// Duration is a time.Duration written as a string such as "5s".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

// NewConfig creates a new Config with the provided values and defaults for
// everything else.
func NewConfig(hostID, baseDir string) *Config {
	return &Config{
		HostID:  hostID,
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Encryption: EncryptionConfig{
			KeyPath: filepath.Join(baseDir, "keys", "faceattend.key"),
		},
		Extractor: ExtractorConfig{
			URL:       "http://localhost:8000",
			Dimension: attend.DefaultDimension,
			Timeout:   Duration{30 * time.Second},
		},
		Matching: MatchingConfig{Threshold: attend.DefaultMatchThreshold},
		Liveness: LivenessConfig{Threshold: attend.DefaultLivenessThreshold},
		Ingest: IngestConfig{
			DropDir:    filepath.Join(baseDir, "drop"),
			ArchiveDir: filepath.Join(baseDir, "archive"),
			Interval:   Duration{attend.DefaultIngestInterval},
			MinAge:     Duration{2 * time.Second},
		},
	}
}

// Validate reports every inconsistency in the configuration at once.
func (c *Config) Validate() error {
	var errs []error
	if c.HostID == "" {
		errs = append(errs, errors.New("host_id is required"))
	}
	if c.Encryption.KeyPath == "" {
		errs = append(errs, errors.New("encryption.key_path is required"))
	}
	if c.Extractor.Dimension < 0 {
		errs = append(errs, fmt.Errorf("extractor.dimension must not be negative, got %d", c.Extractor.Dimension))
	}
	if c.Matching.Threshold < 0 {
		errs = append(errs, fmt.Errorf("matching.threshold must not be negative, got %v", c.Matching.Threshold))
	}
	if c.Liveness.Threshold < 0 {
		errs = append(errs, fmt.Errorf("liveness.threshold must not be negative, got %v", c.Liveness.Threshold))
	}
	if c.Ingest.DropDir != "" && c.Ingest.DropDir == c.Ingest.ArchiveDir {
		errs = append(errs, errors.New("ingest.drop_dir and ingest.archive_dir must differ"))
	}
	names := make(map[string]bool)
	for i, v := range c.Vaults {
		if v.Name == "" {
			errs = append(errs, fmt.Errorf("vaults[%d].name is required", i))
		} else if names[v.Name] {
			errs = append(errs, fmt.Errorf("duplicate vault name %q", v.Name))
		}
		names[v.Name] = true
	}
	return errors.Join(errs...)
}

// Vault returns the vault config with the given name, or the first vault
// when name is empty.
func (c *Config) Vault(name string) (*VaultConfig, error) {
	if len(c.Vaults) == 0 {
		return nil, errors.New("no vaults configured")
	}
	if name == "" {
		return &c.Vaults[0], nil
	}
	for i := range c.Vaults {
		if c.Vaults[i].Name == name {
			return &c.Vaults[i], nil
		}
	}
	return nil, fmt.Errorf("vault %q not configured", name)
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

// ReadFromFile reads a Config from the specified file path.
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
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
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

// Init writes a new config file at path. An existing file is never replaced.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
