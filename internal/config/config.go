// Package config содержит логику чтения конфигурации платформы masterhub.
package config

import (
	"flag"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации платформы masterhub.
type Config struct {
	RunAddress   string `env:"RUN_ADDRESS"`
	DatabaseURI  string `env:"DATABASE_URI"`
	KafkaBrokers string `env:"KAFKA_BROKERS"`
	KafkaTopic   string `env:"KAFKA_TOPIC"`
	JWTSecret    string `env:"JWT_SECRET"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Значения из окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envKafkaBrokers := cfg.KafkaBrokers
	envKafkaTopic := cfg.KafkaTopic
	envJWTSecret := cfg.JWTSecret

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.KafkaBrokers, "k", "", "comma-separated kafka brokers for notifications")
	flag.StringVar(&cfg.KafkaTopic, "t", "masterhub-events", "kafka topic for notifications")
	flag.StringVar(&cfg.JWTSecret, "s", "masterhub-secret", "secret key for auth tokens")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envKafkaBrokers != "" {
		cfg.KafkaBrokers = envKafkaBrokers
	}
	if envKafkaTopic != "" {
		cfg.KafkaTopic = envKafkaTopic
	}
	if envJWTSecret != "" {
		cfg.JWTSecret = envJWTSecret
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}

// BrokerList возвращает список брокеров Kafka. Пустой список означает,
// что отправка уведомлений отключена.
func (c *Config) BrokerList() []string {
	if c.KafkaBrokers == "" {
		return nil
	}

	parts := strings.Split(c.KafkaBrokers, ",")
	brokers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			brokers = append(brokers, p)
		}
	}
	return brokers
}
