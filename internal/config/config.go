// Package config loads the goobstore YAML configuration. Values may be
// overridden with GOOBSTORE_ environment variables, e.g. GOOBSTORE_SCHEMA_VERSION.
package config

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/maloquacious/goobstore/internal/logger"
	"github.com/maloquacious/goobstore/internal/migration"
	"github.com/maloquacious/goobstore/internal/store"
)

// EnvPrefix is the prefix for environment overrides.
const EnvPrefix = "GOOBSTORE"

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // error, warn, info, debug
	Format string `mapstructure:"format" yaml:"format"` // text, json
}

type SchemaConfig struct {
	// Version is the schema version the application expects.
	Version string `mapstructure:"version" yaml:"version"`
}

// StoreConfig describes one store.
type StoreConfig struct {
	Kind               string         `mapstructure:"kind" yaml:"kind"`
	Configuration      string         `mapstructure:"configuration" yaml:"configuration"`
	Location           string         `mapstructure:"location" yaml:"location"`
	MappingSearchPaths []string       `mapstructure:"mapping_search_paths" yaml:"mapping_search_paths"`
	MigrationOptions   []string       `mapstructure:"migration_options" yaml:"migration_options"`
	OpenOptions        map[string]any `mapstructure:"open_options" yaml:"open_options"`
}

type Config struct {
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Schema  SchemaConfig  `mapstructure:"schema" yaml:"schema"`
	Stores  []StoreConfig `mapstructure:"stores" yaml:"stores"`
}

// Load reads the YAML file at path, applies environment overrides and
// validates the result. Relative store locations and mapping search paths
// are taken relative to the directory holding the file.
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	cfg.resolvePaths(dir)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Read parses YAML from r. Paths are left as written.
func Read(r io.Reader) (*Config, error) {
	v := newViper()
	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("schema.version", "")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToSliceHookFunc(","),
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) resolvePaths(dir string) {
	rel := func(p string) string {
		if p == "" || filepath.IsAbs(p) || strings.HasPrefix(p, "file:") {
			return p
		}
		return filepath.Join(dir, p)
	}
	for i := range c.Stores {
		s := &c.Stores[i]
		if s.Kind == string(store.KindMemory) {
			continue
		}
		s.Location = rel(s.Location)
		for j, p := range s.MappingSearchPaths {
			s.MappingSearchPaths[j] = rel(p)
		}
	}
}

// Validate checks the schema version, the logging options and every store.
func (c *Config) Validate() error {
	var errs []error
	if _, ok := migration.Normalize(c.Schema.Version); !ok {
		errs = append(errs, fmt.Errorf("schema.version: invalid version %q", c.Schema.Version))
	}
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}

	seen := make(map[string]int)
	for i, s := range c.Stores {
		if err := s.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("stores[%d]: %w", i, err))
		}
		if s.Configuration == "" {
			continue
		}
		if j, dup := seen[s.Configuration]; dup {
			errs = append(errs, fmt.Errorf("stores[%d]: configuration %q already used by stores[%d]", i, s.Configuration, j))
		}
		seen[s.Configuration] = i
	}
	return errors.Join(errs...)
}

// Validate checks that the store's kind is known and its options parse.
func (s StoreConfig) Validate() error {
	switch store.Kind(s.Kind) {
	case store.KindSQLite, store.KindBinary:
		if s.Location == "" {
			return fmt.Errorf("%s store needs a location", s.Kind)
		}
	case store.KindMemory:
		if s.Location != "" {
			return errors.New("memory store takes no location")
		}
		if len(s.MigrationOptions) > 0 {
			return errors.New("memory store takes no migration options")
		}
	default:
		return fmt.Errorf("unknown store kind %q", s.Kind)
	}
	if _, err := store.ParseMigrationOptions(s.MigrationOptions...); err != nil {
		return err
	}
	return nil
}

// Descriptor builds the store descriptor. Memory stores yield a plain
// descriptor; file-backed kinds yield a local descriptor.
func (s StoreConfig) Descriptor() (store.Storage, error) {
	if store.Kind(s.Kind) == store.KindMemory {
		desc, err := store.NewDescriptor(store.KindMemory, s.Configuration, s.OpenOptions)
		if err != nil {
			return nil, err
		}
		return desc, nil
	}
	opts, err := store.ParseMigrationOptions(s.MigrationOptions...)
	if err != nil {
		return nil, err
	}
	desc, err := store.NewLocalDescriptor(store.Kind(s.Kind), s.Location,
		store.WithConfiguration(s.Configuration),
		store.WithOpenOptions(s.OpenOptions),
		store.WithMappingSearchPaths(s.MappingSearchPaths...),
		store.WithMigrationOptions(opts),
	)
	if err != nil {
		return nil, err
	}
	return desc, nil
}

// Store returns the store with the given configuration name.
func (c *Config) Store(name string) (StoreConfig, bool) {
	for _, s := range c.Stores {
		if s.Configuration == name {
			return s, true
		}
	}
	return StoreConfig{}, false
}

// Logger builds a logger from the logging section.
func (c *Config) Logger(w io.Writer) (*logger.SlogLogger, error) {
	return logger.New(w, logger.Options{Level: c.Logging.Level, Format: c.Logging.Format})
}
