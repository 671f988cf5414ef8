package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/parkir-api/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.LoadForTests(map[string]string{
		"DATABASE_URL":               "postgres://localhost:5432/parkir",
		"REDIS_URL":                  "redis://localhost:6379/0",
		"STORE_TIMEOUT":              "",
		"BILLING_DEFAULT_CYCLE_DAYS": "",
		"REPORT_TIMEZONE":            "",
		"PORT":                       "",
		"AUDIT_ENABLED":              "",
		"HTTP_MAX_BODY_BYTES":        "",
	})
	require.NoError(t, err)
	require.Equal(t, 3*time.Second, cfg.StoreTimeout)
	require.Equal(t, 30, cfg.BillingDefaultCycleDays)
	require.Equal(t, "UTC", cfg.ReportTimezone)
	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.Equal(t, time.UTC, cfg.Location())
	require.True(t, cfg.AuditEnabled)
	require.Equal(t, int64(1<<20), cfg.MaxBodyBytes)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := config.LoadForTests(map[string]string{
		"DATABASE_URL":               "postgres://localhost:5432/parkir",
		"REDIS_URL":                  "redis://localhost:6379/0",
		"STORE_TIMEOUT":              "750ms",
		"BILLING_DEFAULT_CYCLE_DAYS": "15",
		"REPORT_TIMEZONE":            "Asia/Jakarta",
		"QUEUE_RETRY_JITTER":         "0.5",
		"MIGRATE_ON_START":           "yes",
		"PORT":                       ":9090",
	})
	require.NoError(t, err)
	require.Equal(t, 750*time.Millisecond, cfg.StoreTimeout)
	require.Equal(t, 15, cfg.BillingDefaultCycleDays)
	require.Equal(t, "Asia/Jakarta", cfg.Location().String())
	require.InDelta(t, 0.5, cfg.QueueRetryJitter, 0.0001)
	require.True(t, cfg.MigrateOnStart)
	require.Equal(t, ":9090", cfg.HTTPAddr())
}

func TestLoadRequiresDatabase(t *testing.T) {
	_, err := config.LoadForTests(map[string]string{
		"DATABASE_URL": "",
		"REDIS_URL":    "redis://localhost:6379/0",
	})
	require.EqualError(t, err, "DATABASE_URL is required")
}

func TestLoadRejectsUnknownTimezone(t *testing.T) {
	_, err := config.LoadForTests(map[string]string{
		"DATABASE_URL":    "postgres://localhost:5432/parkir",
		"REDIS_URL":       "redis://localhost:6379/0",
		"REPORT_TIMEZONE": "Mars/Olympus",
	})
	require.Error(t, err)
}
