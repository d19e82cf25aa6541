package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/woozar/prophecy-sub003/internal/consts"
)

// Config holds the stream service settings. Values come from an optional YAML
// file named by CONFIG_FILE, overridden by environment variables.
type Config struct {
	Port      string `yaml:"port"`
	Debug     bool   `yaml:"debug"`
	LogFormat string `yaml:"log_format"`

	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	StaleAfter        time.Duration `yaml:"stale_after"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	ConnectRate       float64       `yaml:"connect_rate"`
	ConnectBurst      int           `yaml:"connect_burst"`

	PublishToken string `yaml:"publish_token"`

	RedisConnectionString string `yaml:"redis_connection_string"`
	EventsChannel         string `yaml:"events_channel"`

	DatabaseURL     string        `yaml:"database_url"`
	NotifyChannel   string        `yaml:"notify_channel"`
	NotifyReconnect time.Duration `yaml:"notify_reconnect"`

	Auth0Domain   string `yaml:"auth0_domain"`
	Auth0Audience string `yaml:"auth0_audience"`
	AuthTestMode  bool   `yaml:"auth_test_mode"`
	TestJWTSecret string `yaml:"test_jwt_secret"`
}

func defaults() Config {
	return Config{
		Port:              "9000",
		LogFormat:         "text",
		HeartbeatInterval: 30 * time.Second,
		StaleAfter:        60 * time.Second,
		WriteTimeout:      10 * time.Second,
		ConnectRate:       50,
		ConnectBurst:      100,
		EventsChannel:     consts.DefaultEventsChannel,
		NotifyChannel:     consts.DefaultNotifyChannel,
		NotifyReconnect:   5 * time.Second,
	}
}

// Load builds the configuration from CONFIG_FILE (if set) and the environment.
func Load() (Config, error) {
	cfg := defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return cfg, err
		}
	}
	if err := overlayEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func overlayFile(cfg *Config, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func overlayEnv(cfg *Config) error {
	envString("STREAM_SERVICE_PORT", &cfg.Port)
	envString("LOG_FORMAT", &cfg.LogFormat)
	envString("PUBLISH_TOKEN", &cfg.PublishToken)
	envString("REDIS_CONNECTION_STRING", &cfg.RedisConnectionString)
	envString("EVENTS_CHANNEL", &cfg.EventsChannel)
	envString("DATABASE_URL", &cfg.DatabaseURL)
	envString("PG_NOTIFY_CHANNEL", &cfg.NotifyChannel)
	envString("AUTH0_DOMAIN", &cfg.Auth0Domain)
	envString("AUTH0_AUDIENCE", &cfg.Auth0Audience)
	envString("TEST_JWT_SECRET", &cfg.TestJWTSecret)
	if v := os.Getenv("AUTH0_TEST_MODE"); v != "" {
		cfg.AuthTestMode = v == "1"
	}

	var errs []error
	errs = append(errs,
		envBool("DEBUG", &cfg.Debug),
		envDur("HEARTBEAT_INTERVAL", &cfg.HeartbeatInterval),
		envDur("STALE_AFTER", &cfg.StaleAfter),
		envDur("WRITE_TIMEOUT", &cfg.WriteTimeout),
		envDur("PG_NOTIFY_RECONNECT", &cfg.NotifyReconnect),
		envFloat("CONNECT_RATE", &cfg.ConnectRate),
		envInt("CONNECT_BURST", &cfg.ConnectBurst),
	)
	return errors.Join(errs...)
}

// Validate checks relationships between settings.
func (c Config) Validate() error {
	if c.Port == "" {
		return errors.New("port must be set")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("invalid HEARTBEAT_INTERVAL %v: must be greater than zero", c.HeartbeatInterval)
	}
	if c.StaleAfter < c.HeartbeatInterval {
		return fmt.Errorf("invalid STALE_AFTER %v: must not be shorter than HEARTBEAT_INTERVAL %v", c.StaleAfter, c.HeartbeatInterval)
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("invalid WRITE_TIMEOUT %v", c.WriteTimeout)
	}
	if c.ConnectRate < 0 || c.ConnectBurst < 0 {
		return errors.New("invalid CONNECT_RATE/CONNECT_BURST: must not be negative")
	}
	if c.AuthTestMode && c.TestJWTSecret == "" {
		return errors.New("TEST_JWT_SECRET must be set when AUTH0_TEST_MODE=1")
	}
	if (c.Auth0Domain == "") != (c.Auth0Audience == "") {
		return errors.New("AUTH0_DOMAIN and AUTH0_AUDIENCE must be set together")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid LOG_FORMAT %q", c.LogFormat)
	}
	return nil
}

// AuthEnabled reports whether stream subscribers must present a token.
func (c Config) AuthEnabled() bool {
	return c.AuthTestMode || c.Auth0Domain != ""
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envBool(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = b
	return nil
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func envFloat(key string, dst *float64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = f
	return nil
}

func envDur(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}
