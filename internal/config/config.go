// Package config содержит логику чтения конфигурации сервиса вознаграждений.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	defaultRunAddress   = "localhost:8080"
	defaultSyncInterval = 30 * time.Second
)

// Config содержит параметры конфигурации сервиса вознаграждений.
type Config struct {
	RunAddress          string        `env:"RUN_ADDRESS"`
	DatabaseURI         string        `env:"DATABASE_URI"`
	CatalogAddress      string        `env:"CATALOG_ADDRESS"`
	RedisAddress        string        `env:"REDIS_ADDRESS"`
	KafkaBrokers        []string      `env:"KAFKA_BROKERS" envSeparator:","`
	SecretKey           string        `env:"SECRET_KEY"`
	AdminLogin          string        `env:"ADMIN_LOGIN"`
	CatalogSyncInterval time.Duration `env:"CATALOG_SYNC_INTERVAL"`
}

// Parse считывает конфигурацию из аргументов командной строки процесса и переменных окружения.
func Parse() (*Config, error) {
	return ParseArgs(os.Args[1:])
}

// ParseArgs считывает конфигурацию из переданных флагов и переменных окружения.
// Заданная переменная окружения имеет приоритет над флагом.
func ParseArgs(args []string) (*Config, error) {
	cfg := &Config{}

	var brokers string
	fs := flag.NewFlagSet("adrewards", flag.ContinueOnError)
	fs.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	fs.StringVar(&cfg.DatabaseURI, "d", "", "database URI, empty for in-memory storage")
	fs.StringVar(&cfg.CatalogAddress, "c", "", "advertisement catalog address")
	fs.StringVar(&cfg.RedisAddress, "r", "", "redis address for cooldown cache")
	fs.StringVar(&brokers, "k", "", "comma separated kafka brokers")
	fs.StringVar(&cfg.SecretKey, "s", "", "session signing key")
	fs.StringVar(&cfg.AdminLogin, "admin", "", "login promoted to administrator at startup")
	fs.DurationVar(&cfg.CatalogSyncInterval, "sync", defaultSyncInterval, "catalog sync interval")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}
	cfg.KafkaBrokers = splitList(brokers)

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.KafkaBrokers = splitList(strings.Join(cfg.KafkaBrokers, ","))

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.CatalogSyncInterval <= 0 {
		cfg.CatalogSyncInterval = defaultSyncInterval
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
