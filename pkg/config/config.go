// Package config loads formctl settings. Later sources override earlier ones:
// defaults, the TOML file, the .env file, FORMENGINE_* environment variables,
// then command-line flags applied by the caller through Set.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Defaults.
const (
	DefaultPath    = "formengine.toml"
	DefaultEnvFile = ".env"
	EnvPrefix      = "FORMENGINE_"
)

// Config holds every setting.
type Config struct {
	DB  DBConfig  `toml:"db"`
	Log LogConfig `toml:"log"`
}

// DBConfig selects the repository database.
type DBConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // text or json
}

// Keys names every setting accepted by Set, in dotted form.
var Keys = []string{"db.driver", "db.dsn", "log.level", "log.format"}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		DB:  DBConfig{Driver: "sqlite", DSN: "file:formengine.db"},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads settings from path and envFile on top of the defaults, then
// applies the environment. An empty path reads DefaultPath if it exists; an
// explicit path must exist. The same holds for envFile and DefaultEnvFile.
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	// 1. TOML file
	if err := decodeFile(&cfg, path); err != nil {
		return Config{}, err
	}

	// 2. .env file, never overriding the real environment
	dotenv, err := readEnvFile(envFile)
	if err != nil {
		return Config{}, err
	}

	// 3. Environment
	lookup := func(name string) (string, bool) {
		if v, ok := os.LookupEnv(name); ok {
			return v, true
		}
		v, ok := dotenv[name]
		return v, ok
	}
	for _, key := range Keys {
		if v, ok := lookup(EnvName(key)); ok {
			if err := cfg.Set(key, v); err != nil {
				return Config{}, fmt.Errorf("%s: %w", EnvName(key), err)
			}
		}
	}

	return cfg, cfg.Validate()
}

func decodeFile(cfg *Config, path string) error {
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("config %s: unknown key %q", path, undecoded[0].String())
	}
	return nil
}

func readEnvFile(path string) (map[string]string, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultEnvFile
	}
	env, err := godotenv.Read(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading env file %s: %w", path, err)
	}
	return env, nil
}

// EnvName returns the environment variable for a dotted key.
func EnvName(key string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Set assigns one setting by its dotted key.
func (c *Config) Set(key, value string) error {
	switch key {
	case "db.driver":
		c.DB.Driver = value
	case "db.dsn":
		c.DB.DSN = value
	case "log.level":
		c.Log.Level = value
	case "log.format":
		c.Log.Format = value
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	return nil
}

// Get returns one setting by its dotted key.
func (c Config) Get(key string) (string, error) {
	switch key {
	case "db.driver":
		return c.DB.Driver, nil
	case "db.dsn":
		return c.DB.DSN, nil
	case "log.level":
		return c.Log.Level, nil
	case "log.format":
		return c.Log.Format, nil
	}
	return "", fmt.Errorf("unknown setting %q", key)
}

// Validate checks that every setting has a usable value.
func (c Config) Validate() error {
	switch c.DB.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("db.driver must be sqlite or postgres, got %q", c.DB.Driver)
	}
	if c.DB.DSN == "" {
		return errors.New("db.dsn is required")
	}
	if _, err := c.level(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

func (c Config) level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return l, nil
}

// Logger builds the slog logger described by c, writing to w.
func (c Config) Logger(w io.Writer) (*slog.Logger, error) {
	level, err := c.level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// Write encodes c as TOML.
func (c Config) Write(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}
