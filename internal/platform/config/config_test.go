package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("RAALLY_ADDR", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("KAFKA_CLIENT_ID", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("REDIS_PASSWORD", "")

	cfg := FromEnv()

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "raally-app", cfg.Kafka.ClientID)
	assert.Equal(t, "raally", cfg.Kafka.Namespace)
	assert.Equal(t, "redis://localhost:6379", cfg.Redis.URL)
	assert.Empty(t, cfg.Redis.Password)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("RAALLY_ADDR", ":9999")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092 ,")
	t.Setenv("KAFKA_CLIENT_ID", "raally-worker")
	t.Setenv("REDIS_URL", "redis://cache:6379/1")
	t.Setenv("REDIS_PASSWORD", "secret")

	cfg := FromEnv()

	assert.Equal(t, ":9999", cfg.Addr)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "raally-worker", cfg.Kafka.ClientID)
	assert.Equal(t, "redis://cache:6379/1", cfg.Redis.URL)
	assert.Equal(t, "secret", cfg.Redis.Password)
}
