package config

import (
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"github.com/NamanBalaji/tfm/internal/errors"
)

const (
	appName        = "tfm"
	configFileName = "config.yaml"
)

// Remote store kinds.
const (
	RemoteFS    = "fs"
	RemoteS3    = "s3"
	RemoteMinio = "minio"
)

// Config holds the configuration options for the application.
type Config struct {
	ChunkSize           int64         `yaml:"chunkSize,omitempty"`
	Workers             int           `yaml:"workers,omitempty"`
	MaxRetries          int           `yaml:"maxRetries,omitempty"`
	RetryDelay          time.Duration `yaml:"retryDelay,omitempty"`
	MaxConcurrentChunks int           `yaml:"maxConcurrentChunks,omitempty"`
	AutoClean           bool          `yaml:"autoClean,omitempty"`
	StateDir            string        `yaml:"stateDir,omitempty"`
	Remote              *RemoteConfig `yaml:"remote,omitempty"`
}

// RemoteConfig selects and configures the remote store.
type RemoteConfig struct {
	Type           string `yaml:"type,omitempty"`
	Root           string `yaml:"root,omitempty"`
	Bucket         string `yaml:"bucket,omitempty"`
	Prefix         string `yaml:"prefix,omitempty"`
	Region         string `yaml:"region,omitempty"`
	Profile        string `yaml:"profile,omitempty"`
	Endpoint       string `yaml:"endpoint,omitempty"`
	Insecure       bool   `yaml:"insecure,omitempty"`
	ForcePathStyle bool   `yaml:"forcePathStyle,omitempty"`
}

// Path returns the default location of the configuration file.
func Path() string {
	return filepath.Join(xdg.ConfigHome, appName, configFileName)
}

// GetConfig reads the configuration file at the default location.
// If the configuration file does not exist, it returns the default configuration.
func GetConfig() (*Config, error) {
	return Load(Path())
}

// Load reads the configuration file at path, filling every zero field from
// the defaults.
func Load(path string) (*Config, error) {
	defaults := DefaultConfig()

	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &defaults, nil
		}

		return nil, err
	}

	if len(b) == 0 {
		return &defaults, nil
	}

	var cfg Config

	err = yaml.Unmarshal(b, &cfg)
	if err != nil {
		return nil, err
	}

	remote := zeroOr(cfg.Remote, defaults.Remote)

	return &Config{
		ChunkSize:           zeroOr(cfg.ChunkSize, defaults.ChunkSize),
		Workers:             zeroOr(cfg.Workers, defaults.Workers),
		MaxRetries:          zeroOr(cfg.MaxRetries, defaults.MaxRetries),
		RetryDelay:          zeroOr(cfg.RetryDelay, defaults.RetryDelay),
		MaxConcurrentChunks: zeroOr(cfg.MaxConcurrentChunks, defaults.MaxConcurrentChunks),
		AutoClean:           zeroOr(cfg.AutoClean, defaults.AutoClean),
		StateDir:            zeroOr(cfg.StateDir, defaults.StateDir),
		Remote: &RemoteConfig{
			Type:           zeroOr(remote.Type, defaults.Remote.Type),
			Root:           zeroOr(remote.Root, defaults.Remote.Root),
			Bucket:         remote.Bucket,
			Prefix:         remote.Prefix,
			Region:         remote.Region,
			Profile:        remote.Profile,
			Endpoint:       remote.Endpoint,
			Insecure:       remote.Insecure,
			ForcePathStyle: remote.ForcePathStyle,
		},
	}, nil
}

func DefaultConfig() Config {
	return Config{
		ChunkSize:           chunkSize,
		Workers:             workers,
		MaxRetries:          maxRetries,
		RetryDelay:          retryDelay,
		MaxConcurrentChunks: maxConcurrentChunks,
		AutoClean:           autoClean,
		StateDir:            stateDir,
		Remote: &RemoteConfig{
			Type: remoteType,
			Root: remoteRoot,
		},
	}
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	if c.ChunkSize <= 0 {
		return errors.NewInvalidArgumentError("chunkSize must be positive, got %d", c.ChunkSize)
	}

	if c.Workers < 0 {
		return errors.NewInvalidArgumentError("workers must not be negative, got %d", c.Workers)
	}

	if c.MaxRetries < 0 {
		return errors.NewInvalidArgumentError("maxRetries must not be negative, got %d", c.MaxRetries)
	}

	if c.MaxConcurrentChunks < 0 {
		return errors.NewInvalidArgumentError("maxConcurrentChunks must not be negative, got %d", c.MaxConcurrentChunks)
	}

	if c.Remote == nil {
		return errors.NewInvalidArgumentError("remote store is not configured")
	}

	switch c.Remote.Type {
	case RemoteFS:
		if c.Remote.Root == "" {
			return errors.NewInvalidArgumentError("remote.root is required for the fs store")
		}
	case RemoteS3, RemoteMinio:
		if c.Remote.Bucket == "" {
			return errors.NewInvalidArgumentError("remote.bucket is required for the %s store", c.Remote.Type)
		}

		if c.Remote.Type == RemoteMinio && c.Remote.Endpoint == "" {
			return errors.NewInvalidArgumentError("remote.endpoint is required for the minio store")
		}
	default:
		return errors.NewInvalidArgumentError("unknown remote type %q", c.Remote.Type)
	}

	return nil
}

// DBPath is where the job state database lives.
func (c *Config) DBPath() string {
	return filepath.Join(c.StateDir, "jobs.db")
}

// LogPath is where log records are appended.
func (c *Config) LogPath() string {
	return filepath.Join(c.StateDir, appName+".log")
}

// zeroOr returns def if v is the zero value for its type.
func zeroOr[T any](v, def T) T {
	if reflect.ValueOf(v).IsZero() {
		return def
	}

	return v
}
