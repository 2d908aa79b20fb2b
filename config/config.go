// Package config holds the settings shared by the authorkit tools. Values
// come from defaults, an optional TOML or YAML file, a .env file and
// AUTHORKIT_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/miku/authorkit"
)

// EnvPrefix prefixes all environment overrides.
const EnvPrefix = "AUTHORKIT_"

var ErrInvalid = errors.New("config: invalid")

// Config for the clustering and merge tools.
type Config struct {
	// DataDir is the generic data dir for all authorkit tools.
	DataDir string `toml:"data_dir" yaml:"data_dir"`
	// Database is the path to the SQLite database, relative to DataDir if
	// not absolute.
	Database string `toml:"database" yaml:"database"`
	// MatrixDir is where similarity matrix snapshots live.
	MatrixDir string `toml:"matrix_dir" yaml:"matrix_dir"`
	// Checkpoint is the merge checkpoint file.
	Checkpoint     string  `toml:"checkpoint" yaml:"checkpoint"`
	LogLevel       string  `toml:"log_level" yaml:"log_level"`
	Workers        int     `toml:"workers" yaml:"workers"`
	WedgeThreshold float64 `toml:"wedge_threshold" yaml:"wedge_threshold"`
	MaxNamePairs   int     `toml:"max_name_pairs" yaml:"max_name_pairs"`
}

// DefaultFile is the config file looked up when none is given.
func DefaultFile() string {
	return filepath.Join(xdg.ConfigHome, authorkit.AppName, "config.toml")
}

// Default returns the built in configuration.
func Default() *Config {
	return &Config{
		DataDir:        filepath.Join(xdg.DataHome, authorkit.AppName),
		Database:       "authorkit.db",
		MatrixDir:      "matrix",
		Checkpoint:     "merge.checkpoint.json",
		LogLevel:       "info",
		Workers:        4,
		WedgeThreshold: 0.8,
		MaxNamePairs:   2500,
	}
}

// Load returns the defaults, overlaid with the file at path if it exists,
// then with the environment. An empty path means DefaultFile.
func Load(path string) (*Config, error) {
	c := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultFile()
	}
	if err := c.LoadFile(path); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	if err := c.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return c, c.Validate()
}

// LoadFile overlays the values of a TOML or YAML file, chosen by extension.
func (c *Config) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(b, c)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, c)
	default:
		return fmt.Errorf("%w: unknown config format %s", ErrInvalid, path)
	}
	if err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// LoadDotEnv reads .env files into the environment, existing variables win.
// Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overlays AUTHORKIT_* variables, e.g. AUTHORKIT_WORKERS=8.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	str("DATA_DIR", &c.DataDir)
	str("DATABASE", &c.Database)
	str("MATRIX_DIR", &c.MatrixDir)
	str("CHECKPOINT", &c.Checkpoint)
	str("LOG_LEVEL", &c.LogLevel)
	if v, ok := lookup(EnvPrefix + "WORKERS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %sWORKERS: %v", ErrInvalid, EnvPrefix, err)
		}
		c.Workers = n
	}
	if v, ok := lookup(EnvPrefix + "MAX_NAME_PAIRS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %sMAX_NAME_PAIRS: %v", ErrInvalid, EnvPrefix, err)
		}
		c.MaxNamePairs = n
	}
	if v, ok := lookup(EnvPrefix + "WEDGE_THRESHOLD"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: %sWEDGE_THRESHOLD: %v", ErrInvalid, EnvPrefix, err)
		}
		c.WedgeThreshold = f
	}
	return nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch {
	case c.DataDir == "":
		return fmt.Errorf("%w: empty data dir", ErrInvalid)
	case c.Workers < 1:
		return fmt.Errorf("%w: workers must be positive, got %d", ErrInvalid, c.Workers)
	case c.WedgeThreshold <= 0 || c.WedgeThreshold > 1:
		return fmt.Errorf("%w: wedge threshold must be in (0, 1], got %v", ErrInvalid, c.WedgeThreshold)
	case c.MaxNamePairs < 1:
		return fmt.Errorf("%w: max name pairs must be positive, got %d", ErrInvalid, c.MaxNamePairs)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Level returns the parsed log level, info if unparsable.
func (c *Config) Level() logrus.Level {
	l, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return l
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

// DatabasePath returns the absolute database path.
func (c *Config) DatabasePath() string { return c.resolve(c.Database) }

// MatrixPath returns the absolute matrix snapshot directory.
func (c *Config) MatrixPath() string { return c.resolve(c.MatrixDir) }

// CheckpointPath returns the absolute checkpoint file path.
func (c *Config) CheckpointPath() string { return c.resolve(c.Checkpoint) }
