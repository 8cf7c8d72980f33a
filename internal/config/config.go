// Package config loads runtime configuration for the pairchat services.
//
// Values come from the process environment (a .env file is loaded by the
// binaries before New is called) and may be overlaid by a YAML file named in
// PAIRCHAT_CONFIG. Environment variables always win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultJWTSecret is the development placeholder. Production refuses it.
const DefaultJWTSecret = "change-me"

var ErrInsecureJWTSecret = errors.New("JWT_SECRET must be set to a non-default value in production")

type Config struct {
	App struct {
		Env      string `yaml:"env"`
		HTTPAddr string `yaml:"http_addr"`
	} `yaml:"app"`

	Log struct {
		Level     string `yaml:"level"`
		Format    string `yaml:"format"`
		Component string `yaml:"component"`
		Source    bool   `yaml:"source"`
	} `yaml:"log"`

	DB struct {
		Driver   string `yaml:"driver"`
		DSN      string `yaml:"dsn"`
		Host     string `yaml:"host"`
		Port     string `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
	} `yaml:"db"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Auth struct {
		JWTSecret string        `yaml:"jwt_secret"`
		TokenTTL  time.Duration `yaml:"token_ttl"`
		Issuer    string        `yaml:"issuer"`
	} `yaml:"auth"`

	Blob struct {
		Dir     string `yaml:"dir"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"blob"`

	Telegram struct {
		Token string `yaml:"token"`
	} `yaml:"telegram"`

	Moderation struct {
		Words []string `yaml:"words"`
	} `yaml:"moderation"`

	RateLimit struct {
		MatchPerMinute   int `yaml:"match_per_minute"`
		MessagePerMinute int `yaml:"message_per_minute"`
	} `yaml:"rate_limit"`

	Janitor struct {
		Interval time.Duration `yaml:"interval"`
	} `yaml:"janitor"`
}

// New builds the configuration: defaults, then the optional YAML file, then
// environment overrides.
func New() (*Config, error) {
	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("PAIRCHAT_CONFIG")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if cfg.DB.DSN == "" {
		cfg.DB.DSN = cfg.buildDSN()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsProduction reports whether APP_ENV names the production environment.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.App.Env, "production")
}

func (c *Config) validate() error {
	if c.IsProduction() {
		secret := strings.TrimSpace(c.Auth.JWTSecret)
		if secret == "" || secret == DefaultJWTSecret {
			return ErrInsecureJWTSecret
		}
	}
	return nil
}

func defaults() *Config {
	cfg := &Config{}

	cfg.App.Env = "development"
	cfg.App.HTTPAddr = ":8080"

	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	cfg.Log.Component = "pairchat"

	cfg.DB.Driver = "postgres"
	cfg.DB.Host = "localhost"
	cfg.DB.Port = "5432"
	cfg.DB.User = "user"
	cfg.DB.Password = "password"
	cfg.DB.Name = "pairchatdb"

	cfg.Redis.Addr = "localhost:6379"

	cfg.Auth.JWTSecret = DefaultJWTSecret
	cfg.Auth.TokenTTL = 72 * time.Hour
	cfg.Auth.Issuer = "pairchat-service"

	cfg.Blob.Dir = "data/blobs"
	cfg.Blob.BaseURL = "/blobs"

	cfg.RateLimit.MatchPerMinute = 30
	cfg.RateLimit.MessagePerMinute = 120

	cfg.Janitor.Interval = time.Minute
	return cfg
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.App.Env = getEnvDefault("APP_ENV", c.App.Env)
	c.App.HTTPAddr = getEnvDefault("HTTP_ADDR", c.App.HTTPAddr)

	c.Log.Level = getEnvDefault("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnvDefault("LOG_FORMAT", c.Log.Format)
	c.Log.Component = getEnvDefault("LOG_COMPONENT", c.Log.Component)
	if v, ok := os.LookupEnv("LOG_SOURCE"); ok {
		c.Log.Source = isTruthy(v)
	}

	c.DB.Driver = getEnvDefault("DB_DRIVER", c.DB.Driver)
	c.DB.DSN = getEnvDefault("DB_DSN", c.DB.DSN)
	c.DB.Host = getEnvDefault("DB_HOST", c.DB.Host)
	c.DB.Port = getEnvDefault("DB_PORT", c.DB.Port)
	c.DB.User = getEnvDefault("DB_USER", c.DB.User)
	c.DB.Password = getEnvDefault("DB_PASSWORD", c.DB.Password)
	c.DB.Name = getEnvDefault("DB_NAME", c.DB.Name)

	c.Redis.Addr = getEnvDefault("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnvDefault("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)

	c.Auth.JWTSecret = getEnvDefault("JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.TokenTTL = getEnvDuration("JWT_TTL", c.Auth.TokenTTL)

	c.Blob.Dir = getEnvDefault("BLOB_DIR", c.Blob.Dir)
	c.Blob.BaseURL = getEnvDefault("BLOB_BASE_URL", c.Blob.BaseURL)

	c.Telegram.Token = getEnvDefault("TELEGRAM_BOT_TOKEN", c.Telegram.Token)

	if v := strings.TrimSpace(os.Getenv("MODERATION_WORDS")); v != "" {
		c.Moderation.Words = splitList(v)
	}

	c.RateLimit.MatchPerMinute = getEnvInt("RATE_MATCH_PER_MIN", c.RateLimit.MatchPerMinute)
	c.RateLimit.MessagePerMinute = getEnvInt("RATE_MESSAGE_PER_MIN", c.RateLimit.MessagePerMinute)

	c.Janitor.Interval = getEnvDuration("JANITOR_INTERVAL", c.Janitor.Interval)
}

func (c *Config) buildDSN() string {
	if c.DB.Driver == "sqlite" {
		return c.DB.Name + ".db"
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		c.DB.Host, c.DB.User, c.DB.Password, c.DB.Name, c.DB.Port)
}

func getEnvDefault(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getEnvInt(k string, def int) int {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvDuration(k string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
