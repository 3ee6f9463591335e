package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	WebSocket    WebSocketConfig
	Notification NotificationConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values. An empty DSN selects the in-memory ticket store.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr                  string
	Password              string
	DB                    int
	CorrelationTTLMinutes int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters. AdminEmail and AdminPassword
// seed a staff account at startup when both are set.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	BcryptCost            int
	AdminEmail            string
	AdminPassword         string
}

// WebSocketConfig tunes the real-time socket endpoint.
type WebSocketConfig struct {
	SendBuffer       int
	PingSeconds      int
	PongWaitSeconds  int
	WriteWaitSeconds int
	MaxMessageBytes  int64
	AllowedOrigins   []string
}

// NotificationConfig enables the log-only email and webhook hooks.
type NotificationConfig struct {
	EmailFrom  string
	WebhookURL string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "ticket-realtime"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:                  getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:              os.Getenv("REDIS_PASSWORD"),
			DB:                    redisDB,
			CorrelationTTLMinutes: getEnvAsInt("CORRELATION_TTL_MINUTES", 60),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
			AdminEmail:            os.Getenv("AUTH_ADMIN_EMAIL"),
			AdminPassword:         os.Getenv("AUTH_ADMIN_PASSWORD"),
		},
		WebSocket: WebSocketConfig{
			SendBuffer:       getEnvAsInt("WS_SEND_BUFFER", 64),
			PingSeconds:      getEnvAsInt("WS_PING_SECONDS", 30),
			PongWaitSeconds:  getEnvAsInt("WS_PONG_WAIT_SECONDS", 60),
			WriteWaitSeconds: getEnvAsInt("WS_WRITE_WAIT_SECONDS", 10),
			MaxMessageBytes:  int64(getEnvAsInt("WS_MAX_MESSAGE_BYTES", 32768)),
			AllowedOrigins:   getEnvAsList("WS_ALLOWED_ORIGINS"),
		},
		Notification: NotificationConfig{
			EmailFrom:  getEnv("NOTIFY_EMAIL_FROM", "noreply@example.com"),
			WebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// CorrelationTTL bounds how long a correlation token is remembered.
func (r RedisConfig) CorrelationTTL() time.Duration {
	if r.CorrelationTTLMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(r.CorrelationTTLMinutes) * time.Minute
}

// PingPeriod returns the keepalive interval.
func (w WebSocketConfig) PingPeriod() time.Duration {
	return secondsOr(w.PingSeconds, 30)
}

// PongWait returns the read deadline extended on every pong.
func (w WebSocketConfig) PongWait() time.Duration {
	return secondsOr(w.PongWaitSeconds, 60)
}

// WriteWait returns the per-frame write deadline.
func (w WebSocketConfig) WriteWait() time.Duration {
	return secondsOr(w.WriteWaitSeconds, 10)
}

func secondsOr(val, fallback int) time.Duration {
	if val <= 0 {
		val = fallback
	}
	return time.Duration(val) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
