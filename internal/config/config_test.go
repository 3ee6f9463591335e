package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("WS_ALLOWED_ORIGINS", "")
	t.Setenv("APP_PORT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.App.Addr())
	assert.Empty(t, cfg.Postgres.DSN)
	assert.Equal(t, time.Hour, cfg.Redis.CorrelationTTL())
	assert.Equal(t, 64, cfg.WebSocket.SendBuffer)
	assert.Equal(t, 30*time.Second, cfg.WebSocket.PingPeriod())
	assert.Equal(t, 60*time.Second, cfg.WebSocket.PongWait())
	assert.Nil(t, cfg.WebSocket.AllowedOrigins)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("APP_PORT", "9090")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("CORRELATION_TTL_MINUTES", "5")
	t.Setenv("WS_SEND_BUFFER", "16")
	t.Setenv("WS_PING_SECONDS", "15")
	t.Setenv("WS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("POSTGRES_RUN_MIGRATIONS", "false")
	t.Setenv("AUTH_BCRYPT_COST", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.App.Port)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, 5*time.Minute, cfg.Redis.CorrelationTTL())
	assert.Equal(t, 16, cfg.WebSocket.SendBuffer)
	assert.Equal(t, 15*time.Second, cfg.WebSocket.PingPeriod())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.WebSocket.AllowedOrigins)
	assert.False(t, cfg.Postgres.RunMigrations)
	assert.Equal(t, 12, cfg.Auth.BcryptCost)
}

func TestLoadRejectsBadRedisDB(t *testing.T) {
	t.Setenv("REDIS_DB", "zero")

	_, err := Load()
	assert.Error(t, err)
}

func TestDurationFallbacks(t *testing.T) {
	assert.Equal(t, time.Duration(0), AppConfig{}.RequestTimeout())
	assert.Equal(t, 10*time.Second, WebSocketConfig{}.WriteWait())
	assert.Equal(t, 2*time.Minute, WebSocketConfig{PongWaitSeconds: 120}.PongWait())
}
