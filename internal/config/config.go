package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Logger   LoggerConfig
	Auth     AuthConfig
	Mail     MailConfig
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

// PostgresConfig holds DB connection values.
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
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	BcryptCost            int
}

// MailConfig drives the notification dispatch engine. All values have sane
// defaults and can be overridden per environment.
type MailConfig struct {
	GatewayURL            string
	FromAddress           string
	OpsTeamAddress        string
	ApproverAddress       string
	ConnectAttempts       int
	ConnectBackoffSeconds int
	SendAttempts          int
	SendBackoffSeconds    int
	CCDelaySeconds        int
	TimeoutSeconds        int
}

// ConnectBackoff is the base delay for exponential connect retries.
func (m MailConfig) ConnectBackoff() time.Duration {
	return time.Duration(m.ConnectBackoffSeconds) * time.Second
}

// SendBackoff is the base delay for linear send retries.
func (m MailConfig) SendBackoff() time.Duration {
	return time.Duration(m.SendBackoffSeconds) * time.Second
}

// CCDelay is the fixed pause between CC sends within one dispatch job.
func (m MailConfig) CCDelay() time.Duration {
	return time.Duration(m.CCDelaySeconds) * time.Second
}

// Timeout bounds a single gateway call.
func (m MailConfig) Timeout() time.Duration {
	if m.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(m.TimeoutSeconds) * time.Second
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
			Name:                  getEnv("APP_NAME", "helpdesk"),
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
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
		},
		Mail: MailConfig{
			GatewayURL:            getEnv("MAIL_GATEWAY_URL", "http://127.0.0.1:8025"),
			FromAddress:           getEnv("MAIL_FROM", "noreply@example.com"),
			OpsTeamAddress:        getEnv("MAIL_OPS_ADDRESS", "ops-team@example.com"),
			ApproverAddress:       getEnv("MAIL_APPROVER_ADDRESS", "approver@example.com"),
			ConnectAttempts:       getEnvAsInt("MAIL_CONNECT_ATTEMPTS", 3),
			ConnectBackoffSeconds: getEnvAsInt("MAIL_CONNECT_BACKOFF_SECONDS", 2),
			SendAttempts:          getEnvAsInt("MAIL_SEND_ATTEMPTS", 2),
			SendBackoffSeconds:    getEnvAsInt("MAIL_SEND_BACKOFF_SECONDS", 3),
			CCDelaySeconds:        getEnvAsInt("MAIL_CC_DELAY_SECONDS", 1),
			TimeoutSeconds:        getEnvAsInt("MAIL_TIMEOUT_SECONDS", 30),
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
