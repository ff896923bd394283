// Package config loads the warrant configuration file.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/warrant/internal/capability"
	"github.com/ppiankov/warrant/internal/features"
	"github.com/ppiankov/warrant/internal/ledger"
)

// Duration is a time.Duration written as "5m", "30s" and so on.
type Duration time.Duration

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// LedgerConfig selects the ledger backend.
type LedgerConfig struct {
	Backend string `yaml:"backend" json:"backend" validate:"oneof=memory file sqlite"`
	Path    string `yaml:"path" json:"path" validate:"required_unless=Backend memory"`
}

// KeysConfig locates the master seed keys are derived from.
type KeysConfig struct {
	SeedFile   string `yaml:"seed_file" json:"seed_file" validate:"required"`
	Generation uint32 `yaml:"generation" json:"generation"`
}

// TokensConfig controls capability token lifetimes.
type TokensConfig struct {
	TTL             Duration `yaml:"ttl" json:"ttl"`
	CleanupInterval Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
}

// ServerConfig holds gRPC server settings.
type ServerConfig struct {
	Port int `yaml:"port" json:"port" validate:"min=0,max=65535"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" json:"format" validate:"oneof=text json"`
}

// Config is the full warrant configuration.
type Config struct {
	PolicyPath string          `yaml:"policy_path" json:"policy_path" validate:"required"`
	Ledger     LedgerConfig    `yaml:"ledger" json:"ledger"`
	Keys       KeysConfig      `yaml:"keys" json:"keys"`
	Tokens     TokensConfig    `yaml:"tokens" json:"tokens"`
	Server     ServerConfig    `yaml:"server" json:"server"`
	Features   map[string]bool `yaml:"features" json:"features"`
	Log        LogConfig       `yaml:"log" json:"log"`
}

// DefaultDir returns ~/.warrant, or a temp directory when there is no home.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "warrant")
	}
	return filepath.Join(home, ".warrant")
}

// DefaultPath is where Load looks when given no path.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

// Default returns the built-in configuration rooted at dir.
func Default(dir string) *Config {
	return &Config{
		PolicyPath: filepath.Join(dir, "policy.yaml"),
		Ledger: LedgerConfig{
			Backend: ledger.BackendFile,
			Path:    filepath.Join(dir, "ledger.jsonl"),
		},
		Keys: KeysConfig{
			SeedFile: filepath.Join(dir, "keys", "master.seed"),
		},
		Tokens: TokensConfig{
			TTL:             Duration(capability.DefaultTTL),
			CleanupInterval: Duration(time.Minute),
		},
		Server:   ServerConfig{Port: 50051},
		Features: map[string]bool{},
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads the configuration at path over the defaults. Empty path
// means DefaultPath. A missing file yields the defaults; a file that
// fails to parse or validate is an error. Relative paths in the file are
// resolved against the file's directory.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	cfg := Default(filepath.Dir(path))

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := decode(data, path, cfg); err != nil {
		return nil, err
	}
	cfg.resolve(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func decode(data []byte, path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	return nil
}

func (c *Config) resolve(dir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		if strings.HasPrefix(p, "~/") {
			if home, err := os.UserHomeDir(); err == nil {
				return filepath.Join(home, p[2:])
			}
		}
		return filepath.Join(dir, p)
	}
	c.PolicyPath = abs(c.PolicyPath)
	c.Ledger.Path = abs(c.Ledger.Path)
	c.Keys.SeedFile = abs(c.Keys.SeedFile)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags, token bounds and feature names.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return err
	}
	if ttl := c.Tokens.TTL.Std(); ttl <= 0 || ttl > capability.MaxTTL {
		return fmt.Errorf("invalid config: tokens.ttl %s must be in (0, %s]", ttl, capability.MaxTTL)
	}
	if c.Tokens.CleanupInterval.Std() <= 0 {
		return fmt.Errorf("invalid config: tokens.cleanup_interval must be positive")
	}
	var unknown []string
	for name := range c.Features {
		if !isKnownFeature(name) {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("invalid config: unknown features %s", strings.Join(unknown, ", "))
	}
	return nil
}

func isKnownFeature(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, k := range features.Known {
		if k == name {
			return true
		}
	}
	return false
}

// Flags returns the configured feature flags, overridable by
// WARRANT_FEATURE_<NAME> environment variables.
func (c *Config) Flags() features.Flags {
	return features.WithEnv(features.FromMap(c.Features))
}
