package config

import (
	"os"
	"strings"
	"time"
)

// Config captures process-level configuration for the server and the
// shared infrastructure clients.
type Config struct {
	Addr  string
	Kafka KafkaConfig
	Redis RedisConfig
}

// KafkaConfig configures the broker producer and consumer groups.
type KafkaConfig struct {
	Brokers  []string
	ClientID string
	// Namespace prefixes every topic this process produces or consumes.
	Namespace string
}

// RedisConfig configures the shared cache connection.
type RedisConfig struct {
	URL      string
	Password string

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	addr := os.Getenv("RAALLY_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		brokers = "localhost:9092"
	}

	clientID := os.Getenv("KAFKA_CLIENT_ID")
	if clientID == "" {
		clientID = "raally-app"
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379"
	}

	return Config{
		Addr: addr,
		Kafka: KafkaConfig{
			Brokers:   splitList(brokers),
			ClientID:  clientID,
			Namespace: "raally",
		},
		Redis: RedisConfig{
			URL:          redisURL,
			Password:     os.Getenv("REDIS_PASSWORD"),
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
