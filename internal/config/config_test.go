package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServicePort)
	assert.Equal(t, DriverMySQL, cfg.StoreDriver)
	assert.Equal(t, DriverMinIO, cfg.BlobDriver)
	assert.Equal(t, 500, cfg.MaxUploadMB)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, int64(500*1024*1024), cfg.GetMaxUploadBytes())
	assert.Equal(t, uint64(16*1024*1024), cfg.GetPartSizeBytes())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("DB_HOST", "tidb")
	t.Setenv("DB_PORT", "3306")
	t.Setenv("DB_USER", "drive")
	t.Setenv("DB_PASSWORD", "pw")
	t.Setenv("DB_DATABASE", "drive")
	t.Setenv("CACHE_TTL", "90s")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("REDIS_PORT", "6380")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "drive:pw@tcp(tidb:3306)/drive?charset=utf8mb4&parseTime=True&loc=UTC", cfg.GetDSN())
	assert.Equal(t, "mysql://drive:pw@tcp(tidb:3306)/drive?charset=utf8mb4&parseTime=True&loc=UTC&multiStatements=true", cfg.GetMigrateURL())
	assert.Equal(t, 90*time.Second, cfg.CacheTTL)
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, "localhost:6380", cfg.GetRedisAddr())
}

func TestLoadConfigRequiresAuthKey(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("JWT_JWKS_URL", "")

	_, err := LoadConfig()
	assert.ErrorContains(t, err, "JWT_SECRET")
}

func TestValidateRejectsUnknownDrivers(t *testing.T) {
	cfg := &Config{
		JWTSecret:       "s",
		StoreDriver:     "postgres",
		BlobDriver:      "s3",
		MaxUploadMB:     1,
		MinIOPartSizeMB: 16,
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "STORE_DRIVER")
	assert.ErrorContains(t, err, "BLOB_DRIVER")
}

func TestValidateRejectsSmallPartSize(t *testing.T) {
	cfg := &Config{
		JWTSecret:       "s",
		StoreDriver:     DriverMemory,
		BlobDriver:      DriverMemory,
		MaxUploadMB:     1,
		MinIOPartSizeMB: 1,
	}

	assert.ErrorContains(t, cfg.Validate(), "MINIO_PART_SIZE_MB")
}
