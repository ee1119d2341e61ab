// Package config loads the Conductor's startup configuration.
//
// Grounded on the Go lightning-rod port's own use of github.com/spf13/viper for
// section-based configuration (the on-device half of this same platform), and on
// the original Python control-plane's oslo.config sections, which this package's
// [conductor]/[wamp]/[nginx] sections mirror literally (spec.md §6).
//
// Configuration is read once at startup (per spec.md §6 "Configuration is read
// once at startup") from an INI file, with environment variable overrides layered
// on top the way viper idiomatically does (IOTRONIC_CONDUCTOR_HEARTBEAT_TIMEOUT
// overrides conductor.heartbeat_timeout, etc).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Conductor holds [conductor] section settings.
type Conductor struct {
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
	ServicePortMin   int           `mapstructure:"service_port_min"`
	ServicePortMax   int           `mapstructure:"service_port_max"`
}

// Wamp holds [wamp] section settings.
type Wamp struct {
	TransportURL         string        `mapstructure:"wamp_transport_url"`
	Realm                string        `mapstructure:"wamp_realm"`
	RegisterAgent        bool          `mapstructure:"register_agent"`
	AutoPingInterval     time.Duration `mapstructure:"autoPingInterval"`
	AutoPingTimeout      time.Duration `mapstructure:"autoPingTimeout"`
	SkipCertVerify       bool          `mapstructure:"skip_cert_verify"`
	ServiceAllowListPath string        `mapstructure:"service_allow_list_path"`
}

// Nginx holds [nginx] section settings.
type Nginx struct {
	Path           string `mapstructure:"nginx_path"`
	WstunEndpoint  string `mapstructure:"wstun_endpoint"`
}

// Events holds [events] section settings for the internal NATS fan-out bus.
type Events struct {
	NatsURL string `mapstructure:"nats_url"`
}

// Config is the full, typed startup configuration.
type Config struct {
	Conductor Conductor `mapstructure:"conductor"`
	Wamp      Wamp      `mapstructure:"wamp"`
	Nginx     Nginx     `mapstructure:"nginx"`
	Events    Events    `mapstructure:"events"`

	Database DatabaseConfig `mapstructure:"database"`
	LogLevel string         `mapstructure:"log_level"`
	LogPretty bool          `mapstructure:"log_pretty"`
}

// DatabaseConfig holds Postgres connection settings (ambient, not in spec.md's
// config sections, but required to construct the Repository).
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("conductor.heartbeat_timeout", "60s")
	v.SetDefault("conductor.service_port_min", 10000)
	v.SetDefault("conductor.service_port_max", 20000)

	v.SetDefault("wamp.wamp_realm", "s4t")
	v.SetDefault("wamp.register_agent", false)
	v.SetDefault("wamp.autoPingInterval", "10s")
	v.SetDefault("wamp.autoPingTimeout", "5s")
	v.SetDefault("wamp.skip_cert_verify", false)
	v.SetDefault("wamp.service_allow_list_path", "/etc/iotronic/allow_list.json")

	v.SetDefault("nginx.nginx_path", "/etc/nginx/conf.d/iotronic")
	v.SetDefault("nginx.wstun_endpoint", "localhost")

	v.SetDefault("events.nats_url", "nats://localhost:4222")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "iotronic")
	v.SetDefault("database.dbname", "iotronic")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)
}

// Load reads configuration from path (an INI file; empty path skips the file
// and relies on defaults + environment) and environment variables prefixed
// IOTRONIC_.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("ini")
	defaults(v)

	v.SetEnvPrefix("IOTRONIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if cfg.Conductor.ServicePortMin >= cfg.Conductor.ServicePortMax {
		return nil, fmt.Errorf("conductor.service_port_min (%d) must be less than service_port_max (%d)",
			cfg.Conductor.ServicePortMin, cfg.Conductor.ServicePortMax)
	}

	return &cfg, nil
}
