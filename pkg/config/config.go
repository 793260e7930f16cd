// Package config provides YAML-based configuration loading for kalm.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ErrNoConfigFile is returned by Watch when no config file was found to watch.
var ErrNoConfigFile = errors.New("config: no config file in use")

// Config is the root application configuration.
type Config struct {
	// AppName optional logical name of the process
	AppName string `mapstructure:"app_name"`

	// Environment is a free-form deployment tag (dev, staging, prod)
	Environment string `mapstructure:"environment"`

	// Host overrides the detected local address put in envelope origins
	Host string `mapstructure:"host"`

	// Encoder selects the wire codec: msg-pack, cbor, json or proto
	Encoder string `mapstructure:"encoder"`

	// StartupTimeout bounds the whole bootstrap chain, adapters included
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`

	// ShutdownTimeout bounds the coordinated adapter stop
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// Log holds logging configuration
	Log LogConfig `mapstructure:"log"`

	// Adapters lists transports to start, keyed by transport name
	Adapters map[string]AdapterConfig `mapstructure:"adapters"`

	// Connections holds per-transport outbound settings
	Connections map[string]ConnectionConfig `mapstructure:"connections"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// DefaultAdapters is the transport set used when the config names none.
func DefaultAdapters() map[string]AdapterConfig {
	return map[string]AdapterConfig{
		"ipc": {Port: 4001, Evt: "message", Path: "/tmp/socket-"},
	}
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		AppName:         "kalm",
		Environment:     "dev",
		Encoder:         "msg-pack",
		StartupTimeout:  10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/kalm.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Adapters:    DefaultAdapters(),
		Connections: map[string]ConnectionConfig{},
	}
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix KALM and `.`/`-` are replaced with `_`.
// Example: KALM_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
	_, cfg, err := load(path)
	return cfg, err
}

func load(path string) (*viper.Viper, *Config, error) {
	def := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("KALM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("app_name", def.AppName)
	v.SetDefault("environment", def.Environment)
	v.SetDefault("host", def.Host)
	v.SetDefault("encoder", def.Encoder)
	v.SetDefault("startup_timeout", def.StartupTimeout)
	v.SetDefault("shutdown_timeout", def.ShutdownTimeout)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)
	v.SetDefault("log.outputs", def.Log.Outputs)
	v.SetDefault("log.development", def.Log.Development)
	v.SetDefault("log.rotation.enable", def.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", def.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", def.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", def.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", def.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", def.Log.Rotation.Compress)

	if path == "" {
		if envPath := os.Getenv("KALM_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("kalm")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".kalm"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var viperConfigFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &viperConfigFileNotFound) {
			return nil, nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	return v, cfg, nil
}

// decode unmarshals the current viper state. Adapter defaults are applied only
// when the file names no adapters at all, so a file listing just `tcp` does
// not also start the default ipc transport.
func decode(v *viper.Viper) (*Config, error) {
	cfg := Default()
	cfg.Adapters = nil
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if !v.IsSet("adapters") {
		cfg.Adapters = DefaultAdapters()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate normalizes the config in place and rejects invalid values.
func (c *Config) Validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
		// ok
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}
	if strings.TrimSpace(c.Encoder) == "" {
		c.Encoder = "msg-pack"
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = 10 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}

	adapters := make(map[string]AdapterConfig, len(c.Adapters))
	for name, ac := range c.Adapters {
		name = strings.ToLower(strings.TrimSpace(name))
		if ac.Port < 0 || ac.Port > 65535 {
			return fmt.Errorf("invalid adapters.%s.port: %d", name, ac.Port)
		}
		adapters[name] = ac
	}
	c.Adapters = adapters

	// every started transport gets connection settings, derived from its
	// listening side when not given explicitly
	conns := make(map[string]ConnectionConfig, len(c.Connections))
	for name, cc := range c.Connections {
		conns[strings.ToLower(strings.TrimSpace(name))] = cc
	}
	for name, ac := range c.Adapters {
		cc := conns[name]
		if cc.Port == 0 {
			cc.Port = ac.Port
		}
		if cc.Path == "" {
			cc.Path = ac.Path
		}
		if cc.DialTimeout <= 0 {
			cc.DialTimeout = 5 * time.Second
		}
		conns[name] = cc
	}
	c.Connections = conns
	return nil
}

// Watch loads the config at path and calls fn with a freshly decoded config
// every time the file changes. Decode errors are passed to fn and the
// previous config stays in effect for the caller.
func Watch(path string, fn func(*Config, error)) error {
	v, _, err := load(path)
	if err != nil {
		return err
	}
	if v.ConfigFileUsed() == "" {
		return ErrNoConfigFile
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		zap.L().Info("config changed", zap.String("file", e.Name), zap.String("op", e.Op.String()))
		fn(decode(v))
	})
	v.WatchConfig()
	return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
