package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	AWS      AWSConfig
	Session  SessionConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/emberlive?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and S3 bucket names.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	ClipsBucket          string
	PresignExpireMinutes int
}

// SessionConfig holds live-session lifecycle tuning.
//
// CooldownMinDurationSeconds and StaleHeartbeatSeconds carry inherited defaults
// with no deeper rationale than field experience; both are deliberately
// configuration rather than constants.
type SessionConfig struct {
	DailyFullCompletionCap     int // full completions per local day that count toward gates
	CooldownSeconds            int // cooldown after a counting same-day full completion
	CooldownMinDurationSeconds int // completions shorter than this never trigger a cooldown
	StaleHeartbeatSeconds      int // heartbeat age beyond which a live session is considered crashed
	HeartbeatIntervalSeconds   int // creator liveness write cadence
	TickIntervalSeconds        int // elapsed-time / auto-end check cadence
	WatchFlushIntervalSeconds  int // viewer watch-time buffer flush interval
	HypeFlushIntervalSeconds   int // hype-tap buffer flush interval
	HypeFlushCeiling           int // hype-tap buffer flush event ceiling
	PurgeBatchSize             int // rows deleted per purge transaction
	FanoutLimit                int // max followers notified per went-live event
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "emberlive"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", ""),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ClipsBucket:          getEnv("AWS_S3_CLIPS_BUCKET", "emberlive-clips"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Session: SessionConfig{
			DailyFullCompletionCap:     getEnvInt("SESSION_DAILY_CAP", 3),
			CooldownSeconds:            getEnvInt("SESSION_COOLDOWN_SECONDS", 3600),
			CooldownMinDurationSeconds: getEnvInt("SESSION_COOLDOWN_MIN_SECONDS", 300),
			StaleHeartbeatSeconds:      getEnvInt("SESSION_STALE_HEARTBEAT_SECONDS", 120),
			HeartbeatIntervalSeconds:   getEnvInt("SESSION_HEARTBEAT_INTERVAL_SECONDS", 60),
			TickIntervalSeconds:        getEnvInt("SESSION_TICK_INTERVAL_SECONDS", 1),
			WatchFlushIntervalSeconds:  getEnvInt("SESSION_WATCH_FLUSH_SECONDS", 300),
			HypeFlushIntervalSeconds:   getEnvInt("SESSION_HYPE_FLUSH_SECONDS", 30),
			HypeFlushCeiling:           getEnvInt("SESSION_HYPE_FLUSH_CEILING", 20),
			PurgeBatchSize:             getEnvInt("SESSION_PURGE_BATCH_SIZE", 100),
			FanoutLimit:                getEnvInt("SESSION_FANOUT_LIMIT", 200),
		},
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
