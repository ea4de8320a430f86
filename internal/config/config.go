package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration shared by the ingest and
// server processes. Values come from the YAML file first, then env
// overrides, then CLI flags applied by the caller.
type Config struct {
	Broker    BrokerConfig    `yaml:"broker"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	NATS      NATSConfig      `yaml:"nats"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Server    ServerConfig    `yaml:"server"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type BrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	UseTLS   string `yaml:"use_tls"` // "true", "false" or "insecure"
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	ClientID string `yaml:"client_id"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
}

type NATSConfig struct {
	Enabled         bool   `yaml:"enabled"`
	URL             string `yaml:"url"`
	Subject         string `yaml:"subject"`
	PublishRetryMax int    `yaml:"publish_retry_max"`
}

type IngestConfig struct {
	QueueSize               int    `yaml:"queue_size"`
	ReloadIntervalSeconds   int    `yaml:"registry_reload_interval_seconds"`
	RouteCacheSize          int    `yaml:"route_cache_size"`
	ConnectRetryWaitSeconds int    `yaml:"connect_retry_wait_seconds"`
	MetricsAddr             string `yaml:"metrics_addr"` // "" disables the listener
}

func (c IngestConfig) ReloadInterval() time.Duration {
	return time.Duration(c.ReloadIntervalSeconds) * time.Second
}

func (c IngestConfig) ConnectRetryWait() time.Duration {
	return time.Duration(c.ConnectRetryWaitSeconds) * time.Second
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

type RateLimitConfig struct {
	Rate          int `yaml:"rate"`
	WindowSeconds int `yaml:"window_seconds"`
}

func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// Load reads the YAML file at path (missing file is not an error, env
// can carry everything) and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(cfg)
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Broker: BrokerConfig{
			Host:     "localhost",
			Port:     1883,
			UseTLS:   "false",
			ClientID: "kit-web-ui-ingest",
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		NATS: NATSConfig{
			Subject:         "telemetry.events",
			PublishRetryMax: 3,
		},
		Ingest: IngestConfig{
			QueueSize:               1024,
			ReloadIntervalSeconds:   60,
			RouteCacheSize:          512,
			ConnectRetryWaitSeconds: 5,
			MetricsAddr:             ":9091",
		},
		Server:    ServerConfig{ListenAddr: ":8081"},
		RateLimit: RateLimitConfig{Rate: 60, WindowSeconds: 60},
	}
}

func applyEnv(cfg *Config) {
	setString(&cfg.Broker.Host, "MQTT_HOST")
	setInt(&cfg.Broker.Port, "MQTT_PORT")
	setString(&cfg.Broker.UseTLS, "MQTT_USE_TLS")
	setString(&cfg.Broker.Username, "MQTT_USERNAME")
	setString(&cfg.Broker.Password, "MQTT_PASSWORD")

	setString(&cfg.Database.Host, "DB_HOST")
	setInt(&cfg.Database.Port, "DB_PORT")
	setString(&cfg.Database.User, "DB_USER")
	setString(&cfg.Database.Password, "DB_PASSWORD")
	setString(&cfg.Database.Name, "DB_NAME")
	setString(&cfg.Database.SSLMode, "DB_SSLMODE")

	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Server.ListenAddr, "LISTEN_ADDR")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// Validate checks the settings a process cannot run without. Called
// before any connection attempt; a failure here is fatal.
func (c *Config) Validate() error {
	if c.Broker.Host == "" {
		return fmt.Errorf("broker host is required")
	}
	if c.Broker.Port <= 0 || c.Broker.Port > 65535 {
		return fmt.Errorf("broker port %d out of range", c.Broker.Port)
	}
	switch c.Broker.UseTLS {
	case "true", "false", "insecure":
	default:
		return fmt.Errorf("broker use_tls must be true, false or insecure, got %q", c.Broker.UseTLS)
	}
	if c.Database.User == "" || c.Database.Name == "" {
		return fmt.Errorf("database user and name are required")
	}
	if c.Ingest.QueueSize <= 0 {
		return fmt.Errorf("ingest queue_size must be positive")
	}
	return nil
}

// DatabaseURL builds the lib/pq connection string.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User, c.Database.Password,
		c.Database.Host, c.Database.Port, c.Database.Name, c.Database.SSLMode)
}

// BrokerURL builds the paho broker URL for the configured TLS mode.
func (c *Config) BrokerURL() string {
	scheme := "tcp"
	if c.Broker.UseTLS != "false" {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Broker.Host, c.Broker.Port)
}
