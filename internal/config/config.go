// Package config loads the service configuration from config.yaml, with
// ${VAR} references expanded from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "config.yaml"

type Config struct {
	Application struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"application"`

	Server struct {
		Port                  string   `yaml:"port"`
		MaxConcurrentRequests int      `yaml:"max_concurrent_requests"`
		RequestTimeout        Duration `yaml:"request_timeout"`
	} `yaml:"server"`

	Database struct {
		Driver         string   `yaml:"driver"`
		DSN            string   `yaml:"dsn"`
		MaxConnections int      `yaml:"max_connections"`
		IdleTimeout    Duration `yaml:"idle_timeout"`
		AbsTimeout     Duration `yaml:"abs_timeout"`
	} `yaml:"database"`

	ViewState struct {
		Table string `yaml:"table"`
	} `yaml:"viewstate"`

	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`

	Tables []Table `yaml:"tables"`
}

// Table declares one grid table. Columns maps column name to a declared
// type; when empty the columns are read from the catalog.
type Table struct {
	Name     string            `yaml:"name"`
	Source   string            `yaml:"source"`
	Columns  map[string]string `yaml:"columns"`
	Prefetch *bool             `yaml:"prefetch"`
}

// PrefetchEnabled defaults to true
func (t Table) PrefetchEnabled() bool {
	return t.Prefetch == nil || *t.Prefetch
}

// Duration accepts Go duration strings ("30s", "2m") in YAML
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Load reads path (DefaultPath when empty). A missing file is not an error:
// defaults alone describe an in-memory engine with no tables.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // .env is optional

	if path == "" {
		path = DefaultPath
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Application.Name == "" {
		c.Application.Name = "duckgrid"
	}
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.MaxConcurrentRequests <= 0 {
		c.Server.MaxConcurrentRequests = 1
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "duckdb"
	}
	if c.Database.AbsTimeout == 0 {
		c.Database.AbsTimeout = Duration(time.Minute)
	}
	if c.ViewState.Table == "" {
		c.ViewState.Table = "grid_states"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate rejects configurations the service cannot start with
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "duckdb", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.DSN == "" {
		return errors.New("database.dsn is required for the postgres driver")
	}

	seen := make(map[string]bool, len(c.Tables))
	for i, t := range c.Tables {
		if t.Name == "" {
			return fmt.Errorf("tables[%d]: name is required", i)
		}
		if seen[t.Name] {
			return fmt.Errorf("tables[%d]: duplicate table %q", i, t.Name)
		}
		seen[t.Name] = true
	}
	return nil
}

// Table looks up a configured table by name
func (c *Config) Table(name string) (Table, bool) {
	for _, t := range c.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}
