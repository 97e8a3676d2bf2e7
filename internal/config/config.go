// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	PoolSize int    `yaml:"pool_size"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type QPayConfig struct {
	APIURL        string `yaml:"api_url"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	InvoiceCode   string `yaml:"invoice_code"` // merchant template code
	CallbackURL   string `yaml:"callback_url"`
	WebhookSecret string `yaml:"webhook_secret"`
}

type SMTPConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	From       string `yaml:"from"`
	Password   string `yaml:"password"`
	AdminEmail string `yaml:"admin_email"`
}

// WorkerConfig decides the process role. Web-serving replicas keep enabled
// false so only designated background instances run the sweepers.
type WorkerConfig struct {
	Enabled           bool          `yaml:"enabled"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	ExpireInterval    time.Duration `yaml:"expire_interval"`
}

type AdminConfig struct {
	Password      string `yaml:"password"`
	SessionSecret string `yaml:"session_secret"`
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	QPay     QPayConfig     `yaml:"qpay"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	Worker   WorkerConfig   `yaml:"worker"`
	Admin    AdminConfig    `yaml:"admin"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.PoolSize <= 0 {
		cfg.Database.PoolSize = 10
	}
	if cfg.QPay.APIURL == "" {
		cfg.QPay.APIURL = "https://merchant.qpay.mn/v2"
	}
	if cfg.SMTP.Port == 0 {
		cfg.SMTP.Port = 587
	}
	if cfg.Worker.ReconcileInterval <= 0 {
		cfg.Worker.ReconcileInterval = time.Minute
	}
	if cfg.Worker.ExpireInterval <= 0 {
		cfg.Worker.ExpireInterval = time.Hour
	}

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if cfg.QPay.Username == "" || cfg.QPay.Password == "" {
		return nil, errors.New("qpay.username and qpay.password are required")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}
