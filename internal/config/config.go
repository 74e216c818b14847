package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"
)

var (
	configData Config
	v          *viper.Viper
)

// Config holds all configuration settings.
type Config struct {
	// Node identity and the anet listener for remote invocation.
	Node struct {
		Host string
		Port int
	}
	// HTTP gateway configuration
	HTTP struct {
		Addr      string
		RateLimit float64 `mapstructure:"rate_limit"`
		Burst     int
	}
	// Plugin configuration
	Plugin struct {
		Path         string
		WasmPoolSize int `mapstructure:"wasm_pool_size"`
		AutoInstall  bool `mapstructure:"auto_install"`
	}
	// Database configuration
	Database struct {
		Driver string
		DSN    string
	}
	// Scheduler configuration
	Scheduler struct {
		Enabled bool
		Wake    []WakeEntry
	}
	// Logging configuration
	Log struct {
		Level  string
		Format string
	}
	// Secrets are read from the environment only.
	Secrets Secrets `mapstructure:"-"`
}

// WakeEntry publishes Event on the cron schedule Spec.
type WakeEntry struct {
	Event string
	Spec  string
}

// Secrets holds values that never live in the config file.
type Secrets struct {
	DatabaseDSN string `env:"PLUGINHOST_DATABASE_DSN"`
	AdminToken  string `env:"PLUGINHOST_ADMIN_TOKEN"`
}

// Address returns the node listener address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Node.Host, c.Node.Port)
}

// Initialize sets up the configuration system. An explicit file overrides the search paths.
func Initialize(file string) error {
	v = viper.New()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		// Set config name and paths
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.pluginhost")
		v.AddConfigPath("/etc/pluginhost/")

		// Create config file if it doesn't exist
		if err := ensureConfig(); err != nil {
			return fmt.Errorf("error creating config file: %w", err)
		}
	}

	cfg, err := load(v)
	if err != nil {
		return err
	}
	configData = *cfg

	return nil
}

// load reads v into a Config, applying defaults, environment and secrets.
func load(v *viper.Viper) (*Config, error) {
	// Set default values
	setDefaults(v)

	// Environment variables
	v.SetEnvPrefix("PLUGINHOST") // prefix for env vars
	v.AutomaticEnv()             // read in environment variables that match
	v.SetEnvKeyReplacer(         // replace dots with underscores in env vars
		strings.NewReplacer(".", "_"),
	)

	// Read in config file
	if err := v.ReadInConfig(); err != nil {
		// It's okay if we can't find a config file, we'll use defaults
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return decode(v)
}

// Refresh decodes the configuration again, picking up flags bound after Initialize.
func Refresh() error {
	if v == nil {
		return errors.New("configuration not initialized")
	}

	cfg, err := decode(v)
	if err != nil {
		return err
	}
	configData = *cfg

	return nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	// Unmarshal config into struct
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into config struct: %w", err)
	}

	if err := ParseEnv(&cfg.Secrets); err != nil {
		return nil, err
	}
	if cfg.Secrets.DatabaseDSN != "" {
		cfg.Database.DSN = cfg.Secrets.DatabaseDSN
	}

	return &cfg, nil
}

// ParseEnv loads tagged fields from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	return nil
}

// setDefaults sets default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Node defaults
	v.SetDefault("node.host", "localhost")
	v.SetDefault("node.port", 1600)

	// HTTP defaults
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.rate_limit", 20.0)
	v.SetDefault("http.burst", 40)

	// Plugin defaults
	v.SetDefault("plugin.path", "plugins")
	v.SetDefault("plugin.wasm_pool_size", 4)
	v.SetDefault("plugin.auto_install", true)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "pluginhost.db")

	// Scheduler defaults
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.wake", []map[string]string{
		{"event": "core.cleaner.wake", "spec": "@every 1m"},
		{"event": "core.mail.wake", "spec": "@every 30s"},
		{"event": "core.assessment.wake", "spec": "@every 5m"},
	})

	// Logging defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "human")
}

const defaultConfig = `# Plugin host configuration file
node:
  host: localhost
  port: 1600

http:
  addr: ":8080"
  rate_limit: 20
  burst: 40

plugin:
  path: plugins
  wasm_pool_size: 4
  auto_install: true

database:
  driver: sqlite
  dsn: pluginhost.db

scheduler:
  enabled: true
  wake:
    - event: core.cleaner.wake
      spec: "@every 1m"
    - event: core.mail.wake
      spec: "@every 30s"
    - event: core.assessment.wake
      spec: "@every 5m"

log:
  level: info
  format: human
`

// ensureConfig creates a default config file if none exists.
func ensureConfig() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}

	dir := filepath.Join(home, ".pluginhost")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	configFile := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		if err := os.WriteFile(configFile, []byte(defaultConfig), 0o644); err != nil {
			return err
		}
	}

	return nil
}

// Get returns the current configuration.
func Get() *Config {
	return &configData
}

// GetViper returns the viper instance.
func GetViper() *viper.Viper {
	return v
}
