package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	AWS      AWSConfig
	Arena    ArenaConfig
	AI       AIConfig
	Worker   WorkerConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all (e.g. http://localhost:3000,http://localhost:3001)
	ShutdownTimeout    time.Duration
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/arena?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the question set bucket.
type AWSConfig struct {
	Region             string
	AccessKeyID        string
	SecretAccessKey    string
	Endpoint           string // optional, for S3-compatible stores such as MinIO
	QuestionSetsBucket string
}

// ArenaConfig holds game pacing, limits and broadcast tuning.
type ArenaConfig struct {
	Countdown          time.Duration
	RoundPause         time.Duration
	ResponseGrace      time.Duration
	MaxQuestions       int
	MinTimePerQuestion int
	MaxTimePerQuestion int
	DefaultMaxPlayers  int
	MaxPlayers         int

	BroadcastInterval  time.Duration // minimum spacing per (arena, event type)
	BroadcastSweep     time.Duration
	BroadcastEntryTTL  time.Duration
	BroadcastBuffer    int
	BroadcastTransport string // "redis" for multi-instance fan-out, "local" for one process

	// AsyncStats hands completed games to the worker instead of applying them in-process.
	AsyncStats bool
}

// AIConfig holds the OpenAI-compatible question generator settings. Empty APIKey disables it.
type AIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// WorkerConfig holds background worker settings.
type WorkerConfig struct {
	Concurrency int
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
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:3001"),
			ShutdownTimeout:    getEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "arena"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 0)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		AWS: AWSConfig{
			Region:             getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:        getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:    getEnv("AWS_SECRET_ACCESS_KEY", ""),
			Endpoint:           getEnv("AWS_S3_ENDPOINT", ""),
			QuestionSetsBucket: getEnv("AWS_S3_QUESTION_SETS_BUCKET", "arena-question-sets"),
		},
		Arena: ArenaConfig{
			Countdown:          getEnvDuration("ARENA_COUNTDOWN", 3*time.Second),
			RoundPause:         getEnvDuration("ARENA_ROUND_PAUSE", 5*time.Second),
			ResponseGrace:      getEnvDuration("ARENA_RESPONSE_GRACE", 2*time.Second),
			MaxQuestions:       getEnvInt("ARENA_MAX_QUESTIONS", 50),
			MinTimePerQuestion: getEnvInt("ARENA_MIN_TIME_PER_QUESTION", 10),
			MaxTimePerQuestion: getEnvInt("ARENA_MAX_TIME_PER_QUESTION", 60),
			DefaultMaxPlayers:  getEnvInt("ARENA_DEFAULT_MAX_PLAYERS", 10),
			MaxPlayers:         getEnvInt("ARENA_MAX_PLAYERS", 50),
			BroadcastInterval:  getEnvDuration("ARENA_BROADCAST_INTERVAL", 100*time.Millisecond),
			BroadcastSweep:     getEnvDuration("ARENA_BROADCAST_SWEEP", 30*time.Second),
			BroadcastEntryTTL:  getEnvDuration("ARENA_BROADCAST_ENTRY_TTL", 60*time.Second),
			BroadcastBuffer:    getEnvInt("ARENA_BROADCAST_BUFFER", 1024),
			BroadcastTransport: getEnv("ARENA_BROADCAST_TRANSPORT", "redis"),
			AsyncStats:         getEnvBool("ARENA_ASYNC_STATS", false),
		},
		AI: AIConfig{
			BaseURL: getEnv("AI_BASE_URL", "https://api.openai.com/v1"),
			APIKey:  getEnv("AI_API_KEY", ""),
			Model:   getEnv("AI_MODEL", "gpt-4o-mini"),
			Timeout: getEnvDuration("AI_TIMEOUT", 60*time.Second),
		},
		Worker: WorkerConfig{
			Concurrency: getEnvInt("WORKER_CONCURRENCY", 2),
		},
	}
	if cfg.Arena.MinTimePerQuestion > cfg.Arena.MaxTimePerQuestion {
		return nil, fmt.Errorf("ARENA_MIN_TIME_PER_QUESTION (%d) exceeds ARENA_MAX_TIME_PER_QUESTION (%d)",
			cfg.Arena.MinTimePerQuestion, cfg.Arena.MaxTimePerQuestion)
	}
	if t := cfg.Arena.BroadcastTransport; t != "redis" && t != "local" {
		return nil, fmt.Errorf("ARENA_BROADCAST_TRANSPORT must be redis or local, got %q", t)
	}
	if cfg.Arena.DefaultMaxPlayers > cfg.Arena.MaxPlayers {
		return nil, fmt.Errorf("ARENA_DEFAULT_MAX_PLAYERS (%d) exceeds ARENA_MAX_PLAYERS (%d)",
			cfg.Arena.DefaultMaxPlayers, cfg.Arena.MaxPlayers)
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("250ms", "3s") or whole seconds ("3").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
