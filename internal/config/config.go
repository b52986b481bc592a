// Package config loads the ftpd daemon configuration.
//
// Configuration comes from a YAML file and FTPD_* environment variables
// (FTPD_SERVER_ADDRESS=:2121, FTPD_LOGGING_LEVEL=debug). Environment
// variables win over the file; defaults fill whatever is left unset.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config is the complete daemon configuration.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`

	Server ServerConfig `mapstructure:"server"`

	// ShutdownTimeout bounds the graceful shutdown on SIGINT/SIGTERM.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`

	Metrics MetricsConfig `mapstructure:"metrics"`

	Anonymous AnonymousConfig `mapstructure:"anonymous"`

	Users []UserConfig `mapstructure:"users" validate:"dive"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=DEBUG INFO WARN ERROR"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
	Output string `mapstructure:"output" validate:"required"`
}

type ServerConfig struct {
	Address        string        `mapstructure:"address" validate:"required,hostname_port"`
	WelcomeMessage string        `mapstructure:"welcome_message"`
	MaxConnections int           `mapstructure:"max_connections" validate:"gte=0"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout" validate:"gte=0"`
	DataTimeout    time.Duration `mapstructure:"data_timeout" validate:"gt=0"`

	// PublicHost is advertised in PASV replies when the server sits behind NAT.
	PublicHost   string             `mapstructure:"public_host" validate:"omitempty,hostname|ip"`
	PassivePorts PassivePortsConfig `mapstructure:"passive_ports"`

	// BandwidthLimit caps each session's data transfers in bytes per
	// second. Zero is unlimited.
	BandwidthLimit int64 `mapstructure:"bandwidth_limit" validate:"gte=0"`
}

// PassivePortsConfig restricts PASV/EPSV listeners to [Min, Max]. Both zero
// lets the OS choose.
type PassivePortsConfig struct {
	Min int `mapstructure:"min" validate:"omitempty,min=1024,max=65535"`
	Max int `mapstructure:"max" validate:"omitempty,max=65535,gtefield=Min"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address" validate:"omitempty,hostname_port"`
}

type AnonymousConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Root     string `mapstructure:"root" validate:"required_if=Enabled true"`
	Writable bool   `mapstructure:"writable"`
}

// UserConfig is one account. PasswordHash is a bcrypt hash as printed by
// "ftpd hash-password".
type UserConfig struct {
	Name         string `mapstructure:"name" validate:"required"`
	PasswordHash string `mapstructure:"password_hash" validate:"required,startswith=$2"`
	Root         string `mapstructure:"root" validate:"required"`
	ReadOnly     bool   `mapstructure:"read_only"`
}

// envKeys are the scalar keys that can be set from the environment even
// when the config file does not mention them.
var envKeys = []string{
	"logging.level",
	"logging.format",
	"logging.output",
	"server.address",
	"server.welcome_message",
	"server.max_connections",
	"server.idle_timeout",
	"server.data_timeout",
	"server.public_host",
	"server.passive_ports.min",
	"server.passive_ports.max",
	"server.bandwidth_limit",
	"shutdown_timeout",
	"metrics.enabled",
	"metrics.address",
	"anonymous.enabled",
	"anonymous.root",
	"anonymous.writable",
}

// Load reads the configuration at configPath, or only the environment and
// defaults when configPath is empty. The result is validated.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v)

	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return nil, fmt.Errorf("configuration file not found: %w", err)
		}
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func setupViper(v *viper.Viper) {
	v.SetConfigType("yaml")
	v.SetEnvPrefix("FTPD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
	)
}

// durationDecodeHook accepts "30s" style strings and plain integers
// (nanoseconds) for time.Duration fields.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
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
