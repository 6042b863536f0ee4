// Package config loads settings from defaults, an optional config file and
// RIDECHAT_ prefixed environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"ride-messaging/internal/session"
	"ride-messaging/internal/store"
)

// EnvPrefix prefixes every environment override, e.g. RIDECHAT_RELAY_PORT.
const EnvPrefix = "RIDECHAT"

type Config struct {
	Env     string         `mapstructure:"env"`
	Session session.Config `mapstructure:"session"`
	Store   store.Config   `mapstructure:"store"`
	Relay   RelayConfig    `mapstructure:"relay"`
	AMQP    AMQPConfig     `mapstructure:"amqp"`
	Tracing TracingConfig  `mapstructure:"tracing"`
}

type RelayConfig struct {
	Port      string        `mapstructure:"port"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	Debug     bool          `mapstructure:"debug"`
}

type AMQPConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

type TracingConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")

	v.SetDefault("session.transport_url", "ws://localhost:8083/ws")
	v.SetDefault("session.reconnect_delay", 5*time.Second)
	v.SetDefault("session.typing_timeout", 3*time.Second)
	v.SetDefault("session.max_reconnect_attempts", 0)
	v.SetDefault("session.offline_policy", "fail")
	v.SetDefault("session.thread_namespace", "")
	v.SetDefault("session.io_timeout", 5*time.Second)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.redis_password", "")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.dynamo_table", "ride_messaging_kv")
	v.SetDefault("store.dynamo_region", "us-east-1")
	v.SetDefault("store.key_prefix", "ridechat:")

	v.SetDefault("relay.port", "8083")
	v.SetDefault("relay.jwt_secret", "")
	v.SetDefault("relay.token_ttl", 24*time.Hour)
	v.SetDefault("relay.debug", false)

	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.exchange", "ride_messaging.events")

	v.SetDefault("tracing.otlp_endpoint", "")
	v.SetDefault("tracing.service_name", "ride-messaging")
}

// Load reads configuration. An empty path skips the config file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Session.OfflinePolicy {
	case "", "fail", "queue":
	default:
		errs = append(errs, fmt.Errorf("session.offline_policy must be fail or queue, got %q", c.Session.OfflinePolicy))
	}
	if c.Session.ReconnectDelay < 0 {
		errs = append(errs, errors.New("session.reconnect_delay must not be negative"))
	}
	if c.Session.MaxReconnectAttempts < 0 {
		errs = append(errs, errors.New("session.max_reconnect_attempts must not be negative"))
	}
	if c.Relay.Port == "" {
		errs = append(errs, errors.New("relay.port is required"))
	}
	return errors.Join(errs...)
}

// IsProduction reports whether Env selects production behavior.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}
