// Package config loads the server configuration from defaults, an optional
// YAML file and the environment, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stevemurr/simple-storage-server/store"
)

// Config is the complete server configuration.
type Config struct {
	Host           string   `yaml:"host"`
	Port           string   `yaml:"port"`
	APIPath        string   `yaml:"api_path"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxBodyBytes   int64    `yaml:"max_body_bytes"`
	// RateLimit is the sustained request rate per second; 0 disables limiting.
	RateLimit float64     `yaml:"rate_limit"`
	RateBurst int         `yaml:"rate_burst"`
	Log       LogConfig   `yaml:"log"`
	Store     StoreConfig `yaml:"store"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StoreConfig selects the document backend.
type StoreConfig struct {
	Backend       string        `yaml:"backend"`
	DataDir       string        `yaml:"data_dir"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Mongo         MongoConfig   `yaml:"mongo"`
	Redis         RedisConfig   `yaml:"redis"`
	Nats          NatsConfig    `yaml:"nats"`
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type NatsConfig struct {
	URL    string `yaml:"url"`
	Bucket string `yaml:"bucket"`
}

var (
	backends   = []string{"json", "sqlite", "leveldb", "memory", "mongo", "redis", "nats"}
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"json", "text"}
)

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Host:           "0.0.0.0",
		Port:           "8080",
		APIPath:        "/api",
		AllowedOrigins: []string{"*"},
		MaxBodyBytes:   1 << 20,
		RateBurst:      50,
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Store: StoreConfig{
			Backend:       "json",
			DataDir:       "./data",
			RetryInterval: store.DefaultRetryInterval,
			Mongo: MongoConfig{
				URI: "mongodb://localhost:27017/documents-storage",
			},
			Redis: RedisConfig{
				Addr: "localhost:6379",
			},
			Nats: NatsConfig{
				URL:    "nats://localhost:4222",
				Bucket: "documents",
			},
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path and then
// with the environment. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// ApplyEnv overrides fields with the environment variables that are set.
func (c *Config) ApplyEnv() error {
	c.Host = env("HOST", c.Host)
	c.Port = env("PORT", c.Port)
	c.APIPath = env("API_PATH", c.APIPath)
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = strings.Split(v, ",")
	}
	c.Log.Level = env("LOG_LEVEL", c.Log.Level)
	c.Log.Format = env("LOG_FORMAT", c.Log.Format)

	c.Store.Backend = env("STORE_BACKEND", c.Store.Backend)
	c.Store.DataDir = env("DATA_DIR", c.Store.DataDir)
	// Hosted MongoDB add-ons export their URI under their own names.
	c.Store.Mongo.URI = env("MONGODB_URI", env("MONGOLAB_URI", env("MONGOHQ_URL", c.Store.Mongo.URI)))
	c.Store.Mongo.Database = env("MONGODB_DATABASE", c.Store.Mongo.Database)
	c.Store.Redis.Addr = env("REDIS_ADDR", c.Store.Redis.Addr)
	c.Store.Redis.Password = env("REDIS_PASSWORD", c.Store.Redis.Password)
	c.Store.Nats.URL = env("NATS_URL", c.Store.Nats.URL)
	c.Store.Nats.Bucket = env("NATS_BUCKET", c.Store.Nats.Bucket)

	if v := os.Getenv("REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REDIS_DB: %w", err)
		}
		c.Store.Redis.DB = db
	}
	if v := os.Getenv("RETRY_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("RETRY_INTERVAL: %w", err)
		}
		c.Store.RetryInterval = d
	}
	if v := os.Getenv("RATE_LIMIT"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT: %w", err)
		}
		c.RateLimit = r
	}
	if v := os.Getenv("RATE_BURST"); v != "" {
		b, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RATE_BURST: %w", err)
		}
		c.RateBurst = b
	}
	if v := os.Getenv("MAX_BODY_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("MAX_BODY_BYTES: %w", err)
		}
		c.MaxBodyBytes = n
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	if p, err := strconv.Atoi(c.Port); err != nil || p < 0 || p > 65535 {
		return fmt.Errorf("invalid port: %s", c.Port)
	}
	if !strings.HasPrefix(c.APIPath, "/") {
		return fmt.Errorf("api_path must start with /: %q", c.APIPath)
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max_body_bytes must be positive: %d", c.MaxBodyBytes)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative: %g", c.RateLimit)
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		return fmt.Errorf("rate_burst must be positive when rate_limit is set: %d", c.RateBurst)
	}
	if !contains(logLevels, c.Log.Level) {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	if !contains(logFormats, c.Log.Format) {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}
	if !contains(backends, c.Store.Backend) {
		return fmt.Errorf("unknown store backend: %q (supported: %s)", c.Store.Backend, strings.Join(backends, ", "))
	}
	if c.Store.RetryInterval <= 0 {
		return fmt.Errorf("retry_interval must be positive: %s", c.Store.RetryInterval)
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

// StoreConfig maps the store section onto the factory configuration.
func (c *Config) StoreConfig() store.Config {
	return store.Config{
		Backend:       c.Store.Backend,
		DataDir:       c.Store.DataDir,
		MongoURI:      c.Store.Mongo.URI,
		MongoDatabase: c.Store.Mongo.Database,
		RedisAddr:     c.Store.Redis.Addr,
		RedisPassword: c.Store.Redis.Password,
		RedisDB:       c.Store.Redis.DB,
		NatsURL:       c.Store.Nats.URL,
		NatsBucket:    c.Store.Nats.Bucket,
		RetryInterval: c.Store.RetryInterval,
	}
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
