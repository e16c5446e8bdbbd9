// internal/config/config.go
package config

import (
	"os"
	"strconv"
	"time"
)

type DBConfig struct {
	User     string
	Password string
	Host     string
	Port     string
	Name     string
	SSLMode  string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	TLS      bool
}

type Config struct {
	Port                string
	DB                  DBConfig
	SMTP                SMTPConfig
	AMQPURL             string
	DispatchConcurrency int
	SendTimeout         time.Duration
}

// Load reads configuration from the environment. Callers are expected
// to have loaded .env first (godotenv in each binary's main).
func Load() *Config {
	return &Config{
		Port: getenv("PORT", "8080"),
		DB: DBConfig{
			User:     getenv("DB_USER", "postgres"),
			Password: getenv("DB_PASSWORD", ""),
			Host:     getenv("DB_HOST", "localhost"),
			Port:     getenv("DB_PORT", "5432"),
			Name:     getenv("DB_NAME", "email_engine"),
			SSLMode:  getenv("DB_SSLMODE", "disable"),
		},
		SMTP: SMTPConfig{
			Host:     getenv("SMTP_HOST", "localhost"),
			Port:     getenvInt("SMTP_PORT", 587),
			Username: getenv("SMTP_USER", ""),
			Password: getenv("SMTP_PASSWORD", ""),
			From:     getenv("SMTP_FROM", "no-reply@localhost"),
			TLS:      getenvBool("SMTP_TLS", false),
		},
		AMQPURL:             os.Getenv("AMQP_URL"),
		DispatchConcurrency: getenvInt("DISPATCH_CONCURRENCY", 5),
		SendTimeout:         time.Duration(getenvInt("SEND_TIMEOUT_SECONDS", 15)) * time.Second,
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
