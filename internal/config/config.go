// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Member API backends.
const (
	BackendHTTP   = "http"
	BackendMemory = "memory"
)

// Journal backends.
const (
	JournalMemory   = "memory"
	JournalPostgres = "postgres"
)

type Config struct {
	// HTTP server
	Port string

	// Member API
	MemberAPIURL       string
	MemberAPIBackend   string
	MemberAPITimeout   time.Duration
	MemberAPIRateLimit float64
	MemberAPIBurst     int
	MemberAPIRetries   int

	// Operator seeded into the in-memory Member API
	DevOperatorEmail    string
	DevOperatorPassword string

	// Journal
	JournalBackend string
	DatabaseURL    string

	// Notifications
	AMQPURL         string
	AMQPExchange    string
	NotificationTTL time.Duration

	// Observability
	OTLPEndpoint string
	LogLevel     string
	LogFormat    string

	// Fault injection on the Member API transport
	ChaosFailureRate float64
	ChaosLatency     time.Duration
}

// Load reads an optional .env file and then the environment.
func Load() *Config {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	return &Config{
		Port: getEnv("PORT", "8080"),

		MemberAPIURL:       getEnv("MEMBER_API_URL", "http://localhost:8000"),
		MemberAPIBackend:   getEnv("MEMBER_API_BACKEND", BackendHTTP),
		MemberAPITimeout:   getEnvDuration("MEMBER_API_TIMEOUT", 10*time.Second),
		MemberAPIRateLimit: getEnvFloat("MEMBER_API_RATE_LIMIT", 20),
		MemberAPIBurst:     getEnvInt("MEMBER_API_BURST", 10),
		MemberAPIRetries:   getEnvInt("MEMBER_API_RETRIES", 3),

		DevOperatorEmail:    getEnv("DEV_OPERATOR_EMAIL", "desk@memberdesk.local"),
		DevOperatorPassword: getEnv("DEV_OPERATOR_PASSWORD", ""),

		JournalBackend: getEnv("JOURNAL_BACKEND", JournalMemory),
		DatabaseURL:    getEnv("DATABASE_URL", ""),

		AMQPURL:         getEnv("AMQP_URL", ""),
		AMQPExchange:    getEnv("AMQP_EXCHANGE", "memberdesk"),
		NotificationTTL: getEnvDuration("NOTIFICATION_TTL", 5*time.Second),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFormat:    getEnv("LOG_FORMAT", "text"),

		ChaosFailureRate: getEnvFloat("CHAOS_FAILURE_RATE", 0),
		ChaosLatency:     getEnvDuration("CHAOS_LATENCY", 0),
	}
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var problems []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		problems = append(problems, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		problems = append(problems, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	switch c.MemberAPIBackend {
	case BackendHTTP:
		if u, err := url.Parse(c.MemberAPIURL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			problems = append(problems, fmt.Sprintf("invalid Member API URL '%s': must be an absolute http(s) URL", c.MemberAPIURL))
		}
	case BackendMemory:
		if c.DevOperatorPassword == "" {
			problems = append(problems, "DEV_OPERATOR_PASSWORD is required when using the memory Member API")
		}
	default:
		problems = append(problems, fmt.Sprintf("invalid Member API backend '%s': must be one of [%s %s]", c.MemberAPIBackend, BackendHTTP, BackendMemory))
	}

	if c.MemberAPITimeout <= 0 {
		problems = append(problems, fmt.Sprintf("invalid Member API timeout %v: must be positive", c.MemberAPITimeout))
	}
	if c.MemberAPIRateLimit <= 0 {
		problems = append(problems, fmt.Sprintf("invalid Member API rate limit %v: must be positive", c.MemberAPIRateLimit))
	}
	if c.MemberAPIBurst < 1 {
		problems = append(problems, fmt.Sprintf("invalid Member API burst %d: must be at least 1", c.MemberAPIBurst))
	}
	if c.MemberAPIRetries < 1 || c.MemberAPIRetries > 10 {
		problems = append(problems, fmt.Sprintf("invalid Member API retries %d: must be between 1 and 10", c.MemberAPIRetries))
	}

	switch c.JournalBackend {
	case JournalMemory:
	case JournalPostgres:
		if c.DatabaseURL == "" {
			problems = append(problems, "DATABASE_URL is required when using the postgres journal")
		}
	default:
		problems = append(problems, fmt.Sprintf("invalid journal backend '%s': must be one of [%s %s]", c.JournalBackend, JournalMemory, JournalPostgres))
	}

	if c.AMQPURL != "" {
		if u, err := url.Parse(c.AMQPURL); err != nil {
			problems = append(problems, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if u.Scheme != "amqp" && u.Scheme != "amqps" {
			problems = append(problems, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", u.Scheme))
		}
		if c.AMQPExchange == "" {
			problems = append(problems, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
	}

	if c.NotificationTTL <= 0 {
		problems = append(problems, fmt.Sprintf("invalid notification TTL %v: must be positive", c.NotificationTTL))
	}

	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	if c.ChaosFailureRate < 0 || c.ChaosFailureRate > 1 {
		problems = append(problems, fmt.Sprintf("invalid chaos failure rate %v: must be between 0 and 1", c.ChaosFailureRate))
	}
	if c.ChaosLatency < 0 {
		problems = append(problems, fmt.Sprintf("invalid chaos latency %v: must not be negative", c.ChaosLatency))
	}

	if len(problems) > 0 {
		return errors.New("configuration validation failed:\n- " + strings.Join(problems, "\n- "))
	}
	return nil
}

// ChaosEnabled reports whether faults should be injected into Member API calls.
func (c *Config) ChaosEnabled() bool {
	return c.ChaosFailureRate > 0 || c.ChaosLatency > 0
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
