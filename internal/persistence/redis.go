package persistence

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-realtime/internal/config"
)

// Redis wraps the go-redis client.
type Redis struct {
	Client *redis.Client
	// Reachable records whether the startup ping succeeded.
	Reachable bool
}

// NewRedis connects to Redis using the provided configuration.
func NewRedis(cfg config.RedisConfig, logger *zap.Logger) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	r := &Redis{Client: client}
	if err := client.Ping(context.Background()).Err(); err != nil {
		logger.Warn("unable to reach redis; correlation tokens checked by the store only", zap.Error(err))
	} else {
		r.Reachable = true
		logger.Info("connected to redis")
	}
	return r
}

// Close closes the client.
func (r *Redis) Close() {
	if r != nil && r.Client != nil {
		_ = r.Client.Close()
	}
}

// Ping verifies Redis connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if r == nil || r.Client == nil {
		return errors.New("redis client not configured")
	}
	return r.Client.Ping(ctx).Err()
}

// ClientHandle returns the underlying client, or nil when Redis was
// unreachable at startup.
func (r *Redis) ClientHandle() *redis.Client {
	if r == nil || !r.Reachable {
		return nil
	}
	return r.Client
}
