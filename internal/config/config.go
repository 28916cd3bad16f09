package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config maps 1:1 onto environment variables; an optional .env file in the
// working directory is read for local development.
type Config struct {
	Port          string `mapstructure:"PORT"`
	Env           string `mapstructure:"APP_ENV"`
	LogLevel      string `mapstructure:"LOG_LEVEL"`
	AllowedOrigin string `mapstructure:"ALLOWED_ORIGIN"`

	// memory | postgres | mongo
	StoreBackend  string `mapstructure:"STORE_BACKEND"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	MongoURI      string `mapstructure:"MONGO_URI"`
	MongoDatabase string `mapstructure:"MONGO_DATABASE"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	AuthSecret            string `mapstructure:"AUTH_SECRET"`
	AccessTokenTTLMinutes int    `mapstructure:"ACCESS_TOKEN_TTL_MINUTES"`

	Timezone             string `mapstructure:"TIMEZONE"`
	SalesCacheTTLSeconds int    `mapstructure:"SALES_CACHE_TTL_SECONDS"`
	MetricsEnabled       bool   `mapstructure:"METRICS_ENABLED"`
}

var defaults = map[string]any{
	"PORT":                     "8080",
	"APP_ENV":                  "development",
	"LOG_LEVEL":                "info",
	"ALLOWED_ORIGIN":           "http://127.0.0.1:3000",
	"STORE_BACKEND":            "",
	"DATABASE_URL":             "",
	"MONGO_URI":                "",
	"MONGO_DATABASE":           "posledger",
	"REDIS_ADDR":               "",
	"REDIS_PASSWORD":           "",
	"REDIS_DB":                 0,
	"AUTH_SECRET":              "",
	"ACCESS_TOKEN_TTL_MINUTES": 480,
	"TIMEZONE":                 "Asia/Seoul",
	"SALES_CACHE_TTL_SECONDS":  30,
	"METRICS_ENABLED":          true,
}

func Load() (Config, error) {
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AutomaticEnv()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	// optional, missing file is fine
	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = inferBackend(cfg)
	}
	if cfg.AccessTokenTTLMinutes < 1 {
		cfg.AccessTokenTTLMinutes = 480
	}
	if cfg.SalesCacheTTLSeconds < 1 {
		cfg.SalesCacheTTLSeconds = 30
	}

	switch cfg.StoreBackend {
	case "memory", "postgres", "mongo":
	default:
		return Config{}, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return Config{}, fmt.Errorf("invalid TIMEZONE %q: %w", cfg.Timezone, err)
	}
	return cfg, nil
}

func inferBackend(cfg Config) string {
	switch {
	case cfg.DatabaseURL != "":
		return "postgres"
	case cfg.MongoURI != "":
		return "mongo"
	default:
		return "memory"
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c Config) TokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func (c Config) SalesCacheTTL() time.Duration {
	return time.Duration(c.SalesCacheTTLSeconds) * time.Second
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}
