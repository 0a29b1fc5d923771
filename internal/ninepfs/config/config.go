// Package config loads and validates ninepd's ServerConfig: a YAML file,
// NINEPD_* environment overrides for keys that file sets, and defaults for
// every field still zero, following the teacher's pkg/config layering and
// decode-hook conventions. No command-line flag sets a config field.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ninep-go/ninepd/internal/logger"
)

// ServerConfig is the top-level configuration for the ninepd server.
type ServerConfig struct {
	BindAddress       string        `mapstructure:"bind_address" validate:"required" yaml:"bind_address"`
	Port              int           `mapstructure:"port" validate:"min=1,max=65535" yaml:"port"`
	MaxSessions       int           `mapstructure:"max_sessions" validate:"min=1" yaml:"max_sessions"`
	MaxFIDsPerSession int           `mapstructure:"max_fids_per_session" validate:"min=1" yaml:"max_fids_per_session"`
	MSizeCeiling      uint32        `mapstructure:"msize_ceiling" validate:"min=512" yaml:"msize_ceiling"`
	LockTimeout       time.Duration `mapstructure:"lock_timeout" validate:"gt=0" yaml:"lock_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0" yaml:"shutdown_timeout"`

	Storage StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Control ControlConfig  `mapstructure:"control" yaml:"control"`
	Metrics MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	Logging logger.Config  `mapstructure:"logging" yaml:"logging"`
	Audit   AuditConfig    `mapstructure:"audit" yaml:"audit"`
	Ring    RingConfig     `mapstructure:"ring" yaml:"ring"`
	Tracing TracingConfig  `mapstructure:"tracing" yaml:"tracing"`
}

// StorageConfig selects and configures one of the three storage.Backend
// implementations, the way the teacher's pkg/config/stores.go selects a
// metadata/content store driver.
type StorageConfig struct {
	// Driver picks the backend: "local", "memory", or "s3".
	Driver string              `mapstructure:"driver" validate:"required,oneof=local memory s3" yaml:"driver"`
	Local  LocalStorageConfig  `mapstructure:"local" yaml:"local"`
	Memory MemoryStorageConfig `mapstructure:"memory" yaml:"memory"`
	S3     S3StorageConfig     `mapstructure:"s3" yaml:"s3"`
}

// LocalStorageConfig configures internal/ninepfs/storage/localfat.
type LocalStorageConfig struct {
	BasePath  string `mapstructure:"base_path" yaml:"base_path"`
	CreateDir bool   `mapstructure:"create_dir" yaml:"create_dir"`
}

// MemoryStorageConfig configures internal/ninepfs/storage/memfs.
type MemoryStorageConfig struct {
	CapacityBytes uint64 `mapstructure:"capacity_bytes" yaml:"capacity_bytes"`
}

// S3StorageConfig configures internal/ninepfs/storage/s3fat.
type S3StorageConfig struct {
	Bucket string `mapstructure:"bucket" yaml:"bucket"`
	Prefix string `mapstructure:"prefix" yaml:"prefix"`
	Region string `mapstructure:"region" yaml:"region"`
}

// ControlConfig configures the unauthenticated HTTP control-plane API.
type ControlConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	BindAddress string `mapstructure:"bind_address" yaml:"bind_address"`
	Port        int    `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
type MetricsConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	BindAddress string `mapstructure:"bind_address" yaml:"bind_address"`
	Port        int    `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// TracingConfig configures OpenTelemetry span export.
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
}

// AuditConfig configures the durable session-audit store.
type AuditConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `mapstructure:"driver" validate:"omitempty,oneof=sqlite postgres" yaml:"driver"`
	// DSN is the SQLite file path, or the Postgres connection string.
	DSN string `mapstructure:"dsn" yaml:"dsn"`
}

// RingConfig configures the in-memory/Badger-backed recent-sessions ring.
type RingConfig struct {
	Capacity int    `mapstructure:"capacity" validate:"omitempty,min=1" yaml:"capacity"`
	DBPath   string `mapstructure:"db_path" yaml:"db_path"`
}

// ApplyDefaults fills in every unset field with the defaults named in
// ninepd's external interface documentation.
func ApplyDefaults(cfg *ServerConfig) {
	if cfg.BindAddress == "" {
		cfg.BindAddress = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = 564
	}
	if cfg.MaxSessions == 0 {
		cfg.MaxSessions = 3
	}
	if cfg.MaxFIDsPerSession == 0 {
		cfg.MaxFIDsPerSession = 64
	}
	if cfg.MSizeCeiling == 0 {
		cfg.MSizeCeiling = 65536
	}
	if cfg.LockTimeout == 0 {
		cfg.LockTimeout = 5 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "memory"
	}
	if cfg.Storage.Memory.CapacityBytes == 0 {
		cfg.Storage.Memory.CapacityBytes = 1 << 30
	}
	if cfg.Storage.Local.BasePath != "" {
		cfg.Storage.Local.CreateDir = true
	}

	if cfg.Control.BindAddress == "" {
		cfg.Control.BindAddress = "127.0.0.1"
	}
	if cfg.Control.Port == 0 {
		cfg.Control.Port = 5640
	}

	if cfg.Metrics.BindAddress == "" {
		cfg.Metrics.BindAddress = "127.0.0.1"
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Audit.Driver == "" {
		cfg.Audit.Driver = "sqlite"
	}
	if cfg.Audit.Driver == "sqlite" && cfg.Audit.DSN == "" {
		cfg.Audit.DSN = filepath.Join(defaultStateDir(), "audit.db")
	}

	if cfg.Ring.Capacity == 0 {
		cfg.Ring.Capacity = 256
	}
	if cfg.Ring.DBPath == "" {
		cfg.Ring.DBPath = filepath.Join(defaultStateDir(), "ring")
	}

	if cfg.Tracing.Endpoint == "" {
		cfg.Tracing.Endpoint = "localhost:4317"
	}
}

// Validate runs struct-tag validation over cfg.
func Validate(cfg *ServerConfig) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Storage.Driver == "local" && cfg.Storage.Local.BasePath == "" {
		return fmt.Errorf("invalid configuration: storage.local.base_path is required when storage.driver is \"local\"")
	}
	if cfg.Storage.Driver == "s3" && cfg.Storage.S3.Bucket == "" {
		return fmt.Errorf("invalid configuration: storage.s3.bucket is required when storage.driver is \"s3\"")
	}
	return nil
}

// GetDefaultConfig returns a ServerConfig with every default applied, for
// `ninepd config init` and `ninepctl init`. It equals what Load returns
// when no config file exists.
func GetDefaultConfig() *ServerConfig {
	cfg := &ServerConfig{}
	ApplyDefaults(cfg)
	return cfg
}

// Load reads configuration from the file, the environment, and defaults.
//
//   - Configuration file: YAML, at configPath or the default location
//   - Environment variables: NINEPD_* (e.g. NINEPD_PORT, NINEPD_STORAGE_DRIVER)
//     override a value only for a key the file sets; when no file is found
//     the environment is not consulted
//   - Defaults: ApplyDefaults fills every field still zero afterwards
func Load(configPath string) (*ServerConfig, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	cfg := &ServerConfig{}
	if found {
		if err := v.Unmarshal(cfg, viper.DecodeHook(decodeHooks())); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("NINEPD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(defaultConfigDir())
	v.SetConfigName("config")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(durationDecodeHook())
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// SaveConfig writes cfg to path as YAML, matching the teacher's init-command
// bootstrap flow.
func SaveConfig(cfg *ServerConfig, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func defaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "ninepd")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "ninepd")
}

func defaultStateDir() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "ninepd")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "state", "ninepd")
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.yaml")
}
