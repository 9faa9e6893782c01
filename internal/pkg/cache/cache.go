package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/BeanCounter/internal/pkg/env"
)

var client *redis.Client

// Config describes the Redis (or Dragonfly) server shared by redemption
// state, event publishing and rate limiting.
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// ConfigFromEnv reads CACHE_HOST, CACHE_PORT, CACHE_PASSWORD and CACHE_DB.
func ConfigFromEnv() Config {
	return Config{
		Host:     env.GetEnv("CACHE_HOST", "localhost"),
		Port:     env.GetEnvInt("CACHE_PORT", 6379),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		DB:       env.GetEnvInt("CACHE_DB", 0),
	}
}

// Addr returns host:port.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SetupCache connects to the cache server and keeps the client for GetClient.
// The connection is verified with PING.
func SetupCache(ctx context.Context, cfg Config) (*redis.Client, error) {
	c := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("connect to cache at %s: %w", cfg.Addr(), err)
	}
	log.Infof("[Cache] Connected to %s (db %d)", cfg.Addr(), cfg.DB)

	client = c
	return c, nil
}

// GetClient returns the client created by SetupCache, or nil before setup.
func GetClient() *redis.Client {
	return client
}

// Close releases the shared client.
func Close() error {
	if client == nil {
		return nil
	}
	err := client.Close()
	client = nil
	return err
}
