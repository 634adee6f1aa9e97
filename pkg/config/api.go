package config

import "time"

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment        string
	Addr               string
	LogLevel           string
	DatabaseURL        string
	MigrationsDir      string
	AutoMigrate        bool
	APIToken           string
	MaxBodyBytes       int64
	StreamHeartbeat    time.Duration
	RateLimitRequests  int
	RateLimitWindow    time.Duration
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
	ShutdownTimeout    time.Duration
}

// LoadAPIConfig constructs an APIConfig from environment variables.
// An empty MigrationsDir selects the migrations embedded in the binary.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("API_ADDR", ":4000"),
		LogLevel:           GetString("LOG_LEVEL", "info"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://memtimeline:memtimeline@db:5432/memtimeline?sslmode=disable"),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", ""),
		AutoMigrate:        GetBool("DB_AUTO_MIGRATE", true),
		APIToken:           GetString("API_TOKEN", ""),
		MaxBodyBytes:       int64(GetInt("API_MAX_BODY_MB", 64)) << 20,
		StreamHeartbeat:    GetDuration("STREAM_HEARTBEAT", 15*time.Second),
		RateLimitRequests:  GetInt("RATE_LIMIT_REQUESTS", 120),
		RateLimitWindow:    GetDuration("RATE_LIMIT_WINDOW", time.Minute),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
		ShutdownTimeout:    GetDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}
