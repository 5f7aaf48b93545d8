// Package config loads server settings from the environment.
//
// Values come from environment variables, optionally seeded from a .env file
// in the working directory. Every key has a default, so an empty
// environment starts a development server on SQLite.
package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the server.
type Config struct {
	Port        string `mapstructure:"PORT"`
	Environment string `mapstructure:"ENV"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`

	StoreDriver string `mapstructure:"STORE_DRIVER"` // sqlite | mongo | memory
	SQLitePath  string `mapstructure:"SQLITE_PATH"`
	MongoURI    string `mapstructure:"MONGO_URI"`
	MongoDB     string `mapstructure:"MONGO_DB"`

	// RedisAddr enables the shared execution lock. Empty uses an in-process lock.
	RedisAddr string `mapstructure:"REDIS_ADDR"`

	SchedulerEnabled bool   `mapstructure:"SCHEDULER_ENABLED"`
	SchedulerCron    string `mapstructure:"SCHEDULER_CRON"`
	OverdueCron      string `mapstructure:"OVERDUE_CRON"`

	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`
	SeedOnStart    bool   `mapstructure:"SEED_ON_START"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"STORE_DRIVER", "SQLITE_PATH", "MONGO_URI", "MONGO_DB",
	"REDIS_ADDR",
	"SCHEDULER_ENABLED", "SCHEDULER_CRON", "OVERDUE_CRON",
	"ALLOWED_ORIGINS", "SEED_ON_START",
}

// Load reads configuration from .env (if present) and the environment.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	viper.SetDefault("PORT", "8080")
	viper.SetDefault("ENV", "development")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("STORE_DRIVER", "sqlite")
	viper.SetDefault("SQLITE_PATH", "edusave.db")
	viper.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	viper.SetDefault("MONGO_DB", "edusave")
	viper.SetDefault("SCHEDULER_ENABLED", true)
	viper.SetDefault("SCHEDULER_CRON", "* * * * *")  // Every minute
	viper.SetDefault("OVERDUE_CRON", "0 1 * * *")    // At 01:00 daily
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
	viper.SetDefault("SEED_ON_START", false)
	viper.AutomaticEnv()

	for _, k := range keys {
		_ = viper.BindEnv(k)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case "sqlite", "mongo", "memory":
	default:
		return fmt.Errorf("STORE_DRIVER must be sqlite, mongo or memory, got %q", c.StoreDriver)
	}
	if c.StoreDriver == "mongo" && c.MongoURI == "" {
		return fmt.Errorf("MONGO_URI is required when STORE_DRIVER=mongo")
	}
	return nil
}

// IsDevelopment reports whether the server runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// Origins splits ALLOWED_ORIGINS into a list.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
