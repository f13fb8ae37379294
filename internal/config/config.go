// Package config содержит логику чтения конфигурации магазина.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config содержит параметры конфигурации магазина.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	AuthSecret  string `env:"AUTH_SECRET"`
	AMQPURL     string `env:"AMQP_URL"`
	UploadDir   string `env:"UPLOAD_DIR" envDefault:"uploads"`
	PublicURL   string `env:"PUBLIC_URL" envDefault:"http://localhost:5173"`

	SMTPAddress  string `env:"SMTP_ADDRESS"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM"`

	PayPalClientID string `env:"PAYPAL_CLIENT_ID"`
	PayPalSecret   string `env:"PAYPAL_SECRET"`
	PayPalAddress  string `env:"PAYPAL_ADDRESS"`
}

// Parse считывает конфигурацию из .env, переменных окружения и флагов
// командной строки. Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envAuthSecret := cfg.AuthSecret
	envAMQPURL := cfg.AMQPURL

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret key for auth tokens")
	flag.StringVar(&cfg.AMQPURL, "q", "", "AMQP broker URL (optional)")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if envAMQPURL != "" {
		cfg.AMQPURL = envAMQPURL
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.AuthSecret == "" {
		cfg.AuthSecret = "storefront-secret"
	}

	return cfg, nil
}
