package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Storage drivers
const (
	DriverMySQL  = "mysql"
	DriverMinIO  = "minio"
	DriverMemory = "memory"
)

// Config holds all application configuration
type Config struct {
	// Service configuration
	ServicePort string
	ServiceName string
	LogLevel    string
	LogPretty   bool
	MaxUploadMB int
	StoreDriver string
	BlobDriver  string

	// MySQL / TiDB configuration
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBDatabase  string
	DBMigrate   bool
	DBMaxConns  int
	DBIdleConns int

	// MinIO configuration
	MinIOEndpoint   string
	MinIOAccessKey  string
	MinIOSecretKey  string
	MinIOBucketName string
	MinIOUseSSL     bool
	MinIOPartSizeMB int

	// Redis configuration
	RedisEnabled  bool
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration
	CacheSize     int

	// Auth configuration
	JWTSecret string
	JWKSURL   string
	JWTIssuer string
	JWTLeeway time.Duration
	AdminRole string

	// Tracing configuration
	TracingEnabled bool
	JaegerEndpoint string
}

// LoadConfig loads configuration from environment variables with sensible defaults.
// A .env file in the working directory is read first when present.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	config := &Config{
		// Service defaults
		ServicePort: getEnv("SERVICE_PORT", "8080"),
		ServiceName: getEnv("SERVICE_NAME", "quotadrive"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogPretty:   getEnvAsBool("LOG_PRETTY", false),
		MaxUploadMB: getEnvAsInt("MAX_UPLOAD_MB", 500),
		StoreDriver: getEnv("STORE_DRIVER", DriverMySQL),
		BlobDriver:  getEnv("BLOB_DRIVER", DriverMinIO),

		// MySQL defaults
		DBHost:      getEnv("DB_HOST", "localhost"),
		DBPort:      getEnv("DB_PORT", "4000"),
		DBUser:      getEnv("DB_USER", "root"),
		DBPassword:  getEnv("DB_PASSWORD", ""),
		DBDatabase:  getEnv("DB_DATABASE", "quotadrive"),
		DBMigrate:   getEnvAsBool("DB_MIGRATE", true),
		DBMaxConns:  getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		DBIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),

		// MinIO defaults
		MinIOEndpoint:   getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinIOAccessKey:  getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinIOSecretKey:  getEnv("MINIO_SECRET_KEY", "minioadmin"),
		MinIOBucketName: getEnv("MINIO_BUCKET_NAME", "quotadrive"),
		MinIOUseSSL:     getEnvAsBool("MINIO_USE_SSL", false),
		MinIOPartSizeMB: getEnvAsInt("MINIO_PART_SIZE_MB", 16),

		// Redis defaults
		RedisEnabled:  getEnvAsBool("REDIS_ENABLED", true),
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),
		CacheTTL:      getEnvAsDuration("CACHE_TTL", 5*time.Minute),
		CacheSize:     getEnvAsInt("CACHE_SIZE", 10000),

		// Auth defaults
		JWTSecret: getEnv("JWT_SECRET", ""),
		JWKSURL:   getEnv("JWT_JWKS_URL", ""),
		JWTIssuer: getEnv("JWT_ISSUER", ""),
		JWTLeeway: getEnvAsDuration("JWT_LEEWAY", 30*time.Second),
		AdminRole: getEnv("ADMIN_ROLE", "admin"),

		// Tracing defaults
		TracingEnabled: getEnvAsBool("TRACING_ENABLED", true),
		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "localhost:4318"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate rejects configurations the service cannot start with
func (c *Config) Validate() error {
	var errs []error

	if c.JWTSecret == "" && c.JWKSURL == "" {
		errs = append(errs, errors.New("one of JWT_SECRET or JWT_JWKS_URL must be set"))
	}
	if c.StoreDriver != DriverMySQL && c.StoreDriver != DriverMemory {
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	if c.BlobDriver != DriverMinIO && c.BlobDriver != DriverMemory {
		errs = append(errs, fmt.Errorf("unknown BLOB_DRIVER %q", c.BlobDriver))
	}
	if c.MaxUploadMB <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_MB must be positive"))
	}
	// S3 multipart uploads reject parts below 5 MiB
	if c.MinIOPartSizeMB < 5 {
		errs = append(errs, errors.New("MINIO_PART_SIZE_MB must be at least 5"))
	}

	return errors.Join(errs...)
}

// GetDSN returns the MySQL/TiDB connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.DBUser,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBDatabase,
	)
}

// GetMigrateURL returns the golang-migrate database URL
func (c *Config) GetMigrateURL() string {
	return "mysql://" + c.GetDSN() + "&multiStatements=true"
}

// GetRedisAddr returns the Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// GetPartSizeBytes returns the multipart upload part size in bytes
func (c *Config) GetPartSizeBytes() uint64 {
	return uint64(c.MinIOPartSizeMB) * 1024 * 1024
}

// GetMaxUploadBytes returns the upload body limit in bytes
func (c *Config) GetMaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) * 1024 * 1024
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
