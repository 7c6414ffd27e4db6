package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Content store backend: memory, local, or s3.
	StoreBackend string
	StoreDir     string

	S3Bucket          string
	S3Prefix          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3CacheDir        string

	// Action cache / run history; empty values disable the feature.
	RedisAddr  string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	APIPort        string
	RemoteEndpoint string
	JWTSecret      string

	// Janitor settings for the local blob store.
	JanitorSpec      string
	JanitorRetention time.Duration

	TracingEndpoint string
	TracingEnabled  bool
}

func LoadConfig() *Config {
	return &Config{
		StoreBackend: getEnv("STORE_BACKEND", "local"),
		StoreDir:     getEnv("STORE_DIR", "/var/lib/kiln/cas"),

		S3Bucket:          getEnv("S3_BUCKET", ""),
		S3Prefix:          getEnv("S3_PREFIX", "cas/"),
		S3Region:          getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		S3AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
		S3CacheDir:        getEnv("S3_CACHE_DIR", ""),

		RedisAddr:  getEnv("REDIS_ADDR", ""),
		DBHost:     getEnv("DB_HOST", ""),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "kiln"),
		DBPassword: getEnv("DB_PASSWORD", "password"),
		DBName:     getEnv("DB_NAME", "kiln"),

		APIPort:        getEnv("API_PORT", "8080"),
		RemoteEndpoint: getEnv("REMOTE_ENDPOINT", ""),
		JWTSecret:      getEnv("JWT_SECRET", ""),

		JanitorSpec:      getEnv("JANITOR_SPEC", "@hourly"),
		JanitorRetention: getEnvAsDuration("JANITOR_RETENTION", 14*24*time.Hour),

		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getEnvAsBool("TRACING_ENABLED", false),
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return fallback
}
