// Package services owns the process-wide infrastructure clients. The
// Manager is the only entity permitted to construct, connect, or close the
// broker and cache clients; everything else borrows references through its
// accessors and must not hold them across a shutdown.
package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"raally/internal/cache"
	"raally/internal/eventbus"
	"raally/internal/kafka"
	"raally/internal/platform/config"
)

// ErrNotInitialized is returned by accessors used before Initialize has
// completed. This is a programmer-error guard, not a runtime condition to
// recover from.
var ErrNotInitialized = errors.New("services not initialized: call Initialize first")

const (
	healthKey = "health:check"
	healthTTL = 60 * time.Second
)

// Health reports per-subsystem status. Field names match the wire shape of
// the health endpoint.
type Health struct {
	Kafka bool `json:"kafka"`
	Redis bool `json:"redis"`
}

// Healthy reports whether every subsystem probe passed.
func (h Health) Healthy() bool { return h.Kafka && h.Redis }

// Manager holds the shared client handles for the process lifetime. Tests
// construct a fresh Manager instead of resetting global state.
type Manager struct {
	cfg    config.Config
	logger *slog.Logger

	mu          sync.Mutex
	broker      *kafka.Client
	cache       *cache.Client
	initialized bool
}

// NewManager builds an uninitialized manager. No connections are opened.
func NewManager(cfg config.Config, logger *slog.Logger) *Manager {
	return &Manager{cfg: cfg, logger: logger}
}

// Initialize constructs the cache client, connects the broker producer, and
// registers the standing event subscriptions. Idempotent: repeated calls
// reuse the existing client instances. Any failure propagates and should be
// treated as fatal at startup.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cache == nil {
		cacheClient, err := cache.New(m.cfg.Redis, m.logger)
		if err != nil {
			return err
		}
		m.cache = cacheClient
		m.logger.Info("cache client initialized")
	}

	if m.broker == nil {
		broker := kafka.NewClient(m.cfg.Kafka, m.logger)
		if err := broker.Initialize(ctx); err != nil {
			return err
		}
		m.broker = broker
		m.logger.Info("kafka client initialized")
	}

	// Subscriptions must be live before we return so no event published
	// right after startup is missed. Re-registration deduplicates.
	if err := eventbus.Register(ctx, m.broker, m.cache, m.logger); err != nil {
		return err
	}

	m.initialized = true
	m.logger.Info("all services initialized")
	return nil
}

// Shutdown disconnects the broker first, so consumer loops stop before the
// cache they depend on goes away, then closes the cache. Failures are
// logged but never abort the remaining steps; both handles are cleared so
// a later Initialize starts clean.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	broker := m.broker
	cacheClient := m.cache
	m.broker = nil
	m.cache = nil
	m.initialized = false
	m.mu.Unlock()

	if broker != nil {
		broker.Disconnect()
	}
	if cacheClient != nil {
		if err := cacheClient.Close(); err != nil {
			m.logger.Error("error closing cache client", "error", err)
		}
	}

	m.logger.Info("all services shut down")
}

// Broker returns the shared broker client, or ErrNotInitialized.
func (m *Manager) Broker() (*kafka.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized || m.broker == nil {
		return nil, ErrNotInitialized
	}
	return m.broker, nil
}

// Cache returns the shared cache client, or ErrNotInitialized.
func (m *Manager) Cache() (*cache.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized || m.cache == nil {
		return nil, ErrNotInitialized
	}
	return m.cache, nil
}

// HealthCheck probes both subsystems independently; one failing probe never
// prevents evaluating the other. The cache probe checks a well-known key
// and self-heals it with a short TTL when absent (the benign double-write
// on a first concurrent probe is acceptable).
func (m *Manager) HealthCheck(ctx context.Context) Health {
	m.mu.Lock()
	broker := m.broker
	cacheClient := m.cache
	m.mu.Unlock()

	var health Health

	if cacheClient != nil {
		health.Redis = cacheClient.Exists(ctx, healthKey)
		if !health.Redis {
			health.Redis = cacheClient.Set(ctx, healthKey, "ok", healthTTL)
		}
	}

	if broker != nil {
		health.Kafka = broker.HealthCheck(ctx)
	}

	return health
}
