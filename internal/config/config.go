package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	VisionEndpoint string
	VisionAPIKey   string
	VisionTimeout  time.Duration

	WorkerCount       int
	QueueName         string
	ExtractionTimeout time.Duration

	LeaseTTL    time.Duration
	MaxAttempts int

	DiscoveryInterval  time.Duration
	GlobalRunCap       int
	PerAccountCap      int
	ManualLimitCeiling int

	LogLevel  string
	LogFormat string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "facturio"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "facturio"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		VisionEndpoint: strings.TrimSpace(getenv("VISION_ENDPOINT", "")),
		VisionAPIKey:   strings.TrimSpace(getenv("VISION_API_KEY", "")),
		VisionTimeout:  getenvDuration("VISION_TIMEOUT", 90*time.Second),

		WorkerCount:       getenvInt("WORKER_COUNT", 4),
		QueueName:         getenv("QUEUE_NAME", "facturio:extraction"),
		ExtractionTimeout: getenvDuration("EXTRACTION_TIMEOUT", 3*time.Minute),

		LeaseTTL:    getenvDuration("LEASE_TTL", 15*time.Minute),
		MaxAttempts: getenvInt("MAX_ATTEMPTS", 5),

		DiscoveryInterval:  getenvDuration("DISCOVERY_INTERVAL", 10*time.Minute),
		GlobalRunCap:       getenvInt("GLOBAL_RUN_CAP", 500),
		PerAccountCap:      getenvInt("PER_ACCOUNT_CAP", 50),
		ManualLimitCeiling: getenvInt("MANUAL_LIMIT_CEILING", 200),

		LogLevel:  getenv("LOG_LEVEL", "info"),
		LogFormat: getenv("LOG_FORMAT", "json"),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
