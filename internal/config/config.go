// Package config loads kittycore settings from an optional TOML file
// overlaid by KITTYCORE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "KITTYCORE_"

const (
	defaultDeposit    = 10_000
	defaultSQLitePath = "kittycore.db"
	defaultFSRoot     = "./blobdata"
)

// Config is the full settings tree.
type Config struct {
	// Deposit is the collateral reserved per kitty.
	Deposit uint64        `toml:"deposit" env:"DEPOSIT"`
	Storage StorageConfig `toml:"storage" envPrefix:"STORAGE_"`
	Blob    BlobConfig    `toml:"blob" envPrefix:"BLOB_"`
	Log     LogConfig     `toml:"log" envPrefix:"LOG_"`
	Metrics MetricsConfig `toml:"metrics" envPrefix:"METRICS_"`
}

// StorageConfig selects the registry store.
type StorageConfig struct {
	Driver      string `toml:"driver" env:"DRIVER"`
	SQLitePath  string `toml:"sqlite_path" env:"SQLITE_PATH"`
	PostgresDSN string `toml:"postgres_dsn" env:"POSTGRES_DSN"`
}

// BlobConfig selects the blob store holding ledger state and archives.
type BlobConfig struct {
	Driver string   `toml:"driver" env:"DRIVER"`
	FSRoot string   `toml:"fs_root" env:"FS_ROOT"`
	S3     S3Config `toml:"s3" envPrefix:"S3_"`
}

type S3Config struct {
	Bucket          string `toml:"bucket" env:"BUCKET"`
	Region          string `toml:"region" env:"REGION"`
	Endpoint        string `toml:"endpoint" env:"ENDPOINT"`
	AccessKeyID     string `toml:"access_key_id" env:"ACCESS_KEY_ID"`
	SecretAccessKey string `toml:"secret_access_key" env:"SECRET_ACCESS_KEY"`
	SessionToken    string `toml:"session_token" env:"SESSION_TOKEN"`
	PathStyle       bool   `toml:"path_style" env:"PATH_STYLE"`
}

type LogConfig struct {
	Level  string `toml:"level" env:"LEVEL"`
	Format string `toml:"format" env:"FORMAT"`
}

// MetricsConfig controls the Prometheus textfile written after each command.
// An empty Textfile disables it.
type MetricsConfig struct {
	Textfile string `toml:"textfile" env:"TEXTFILE"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Deposit: defaultDeposit,
		Storage: StorageConfig{Driver: "sqlite", SQLitePath: defaultSQLitePath},
		Blob:    BlobConfig{Driver: "fs", FSRoot: defaultFSRoot},
		Log:     LogConfig{Level: "info", Format: "console"},
	}
}

// Load applies path (when non-empty) and then the process environment on top
// of Default, and validates the result.
func Load(path string) (Config, error) {
	return load(path, nil)
}

// LoadWithEnv is Load with an explicit environment instead of os.Environ.
func LoadWithEnv(path string, environ map[string]string) (Config, error) {
	if environ == nil {
		environ = map[string]string{}
	}
	return load(path, environ)
}

func load(path string, environ map[string]string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decodeFile overlays the keys present in the file; unknown keys are an error.
func decodeFile(path string, cfg *Config) error {
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		sort.Strings(keys)
		return fmt.Errorf("load config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return nil
}

func (c *Config) normalize() {
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	c.Blob.Driver = strings.ToLower(strings.TrimSpace(c.Blob.Driver))
	c.Log.Level = strings.TrimSpace(c.Log.Level)
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Deposit == 0 {
		errs = append(errs, errors.New("deposit must be positive"))
	}
	switch c.Storage.Driver {
	case "memory":
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("storage.sqlite_path required for sqlite"))
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	switch c.Blob.Driver {
	case "fs", "memory":
	case "s3":
		if c.Blob.S3.Bucket == "" {
			errs = append(errs, errors.New("blob.s3.bucket required for s3"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown blob driver %q", c.Blob.Driver))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}
