// Package config loads histfs configuration from YAML files.
package config

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Metadata backends.
const (
	BackendDevice = "device"
	BackendBadger = "badger"
)

// Log formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Device describes the image holding the filesystem.
type Device struct {
	Path string `yaml:"path"`

	// Blocks is the size of the image created by mkfs, in blocks.
	Blocks int64  `yaml:"blocks"`
	Inodes uint32 `yaml:"inodes"`
}

// Cache configures block cache.
type Cache struct {
	TTL      time.Duration `yaml:"ttl"`
	Capacity uint64        `yaml:"capacity"`
}

// Metadata selects the inode store.
type Metadata struct {
	Backend   string `yaml:"backend"`
	BadgerDir string `yaml:"badgerDir"`
}

// Logging configures logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the histfs configuration.
type Config struct {
	Device   Device   `yaml:"device"`
	Cache    Cache    `yaml:"cache"`
	Metadata Metadata `yaml:"metadata"`
	Logging  Logging  `yaml:"logging"`
}

// Errors returned by Validate.
var (
	ErrDevicePathMissing  = errors.New("device.path is not set in config")
	ErrInodesMissing      = errors.New("device.inodes must be positive")
	ErrUnknownBackend     = errors.New("metadata.backend must be either device or badger")
	ErrUnknownLogLevel    = errors.New("logging.level must be one of debug, info, warn, error")
	ErrUnknownLogFormat   = errors.New("logging.format must be either text or json")
	ErrNegativeDeviceSize = errors.New("device.blocks must not be negative")
)

// Default returns default configuration.
func Default() Config {
	return Config{
		Device: Device{
			Path:   "histfs.img",
			Blocks: 2560,
			Inodes: 128,
		},
		Cache: Cache{
			TTL:      5 * time.Minute,
			Capacity: 4096,
		},
		Metadata: Metadata{
			Backend: BackendDevice,
		},
		Logging: Logging{
			Level:  "info",
			Format: FormatText,
		},
	}
}

// Load reads configuration file. Fields missing in the file keep their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config file %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate verifies configuration.
func (c Config) Validate() error {
	if c.Device.Path == "" {
		return errors.WithStack(ErrDevicePathMissing)
	}
	if c.Device.Blocks < 0 {
		return errors.WithStack(ErrNegativeDeviceSize)
	}
	if c.Device.Inodes == 0 {
		return errors.WithStack(ErrInodesMissing)
	}
	if c.Metadata.Backend != BackendDevice && c.Metadata.Backend != BackendBadger {
		return errors.Wrapf(ErrUnknownBackend, "got %q", c.Metadata.Backend)
	}
	if _, err := c.Logging.SlogLevel(); err != nil {
		return err
	}
	if c.Logging.Format != FormatText && c.Logging.Format != FormatJSON {
		return errors.Wrapf(ErrUnknownLogFormat, "got %q", c.Logging.Format)
	}
	return nil
}

// SlogLevel returns the configured level.
func (l Logging) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, errors.Wrapf(ErrUnknownLogLevel, "got %q", l.Level)
	}
}
