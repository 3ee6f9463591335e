package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CorrelationCache remembers which stored message a client correlation token
// produced, so a resent message is recognised before touching the store.
type CorrelationCache interface {
	Lookup(ctx context.Context, ticketID, token string) (messageID string, found bool, err error)
	Remember(ctx context.Context, ticketID, token, messageID string) error
}

type redisCorrelationCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCorrelationCache returns a Redis-backed cache. A nil client yields a no-op cache.
func NewCorrelationCache(client *redis.Client, ttl time.Duration) CorrelationCache {
	if client == nil {
		return NopCorrelationCache{}
	}
	return &redisCorrelationCache{client: client, ttl: ttl}
}

func correlationKey(ticketID, token string) string {
	return fmt.Sprintf("ticket:%s:corr:%s", ticketID, token)
}

func (c *redisCorrelationCache) Lookup(ctx context.Context, ticketID, token string) (string, bool, error) {
	id, err := c.client.Get(ctx, correlationKey(ticketID, token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// Remember keeps the first message id recorded for the token.
func (c *redisCorrelationCache) Remember(ctx context.Context, ticketID, token, messageID string) error {
	return c.client.SetNX(ctx, correlationKey(ticketID, token), messageID, c.ttl).Err()
}

// NopCorrelationCache never finds anything; the store's own token check still applies.
type NopCorrelationCache struct{}

func (NopCorrelationCache) Lookup(context.Context, string, string) (string, bool, error) {
	return "", false, nil
}

func (NopCorrelationCache) Remember(context.Context, string, string, string) error {
	return nil
}
