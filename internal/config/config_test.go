package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swapmeet/swapmeet/internal/domain/payment"
	"github.com/swapmeet/swapmeet/internal/domain/tracking"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("POSTGRES_HOST", "db")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://swapmeet:swapmeet_pass@db:5432/swapmeet?sslmode=disable", cfg.DatabaseURL)
	assert.Equal(t, StoragePostgres, cfg.StorageDriver)
	assert.Equal(t, AuthModeSession, cfg.AuthMode)
	assert.Equal(t, 24*time.Hour, cfg.PaymentWindow)
	assert.Equal(t, 150.0, cfg.MeetingRadiusMeters)
	assert.Equal(t, tracking.UnitKilometers, cfg.DistanceUnit)
	assert.Equal(t, payment.MustParseAmount("2.00"), cfg.Fees.FeeFor("standard"))
	assert.True(t, cfg.TrackingAutoStart)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("PAYMENT_WINDOW", "2h")
	t.Setenv("EXCHANGE_FEES", "express=3.50")
	t.Setenv("DISTANCE_UNIT", "mi")
	t.Setenv("MEETING_RADIUS_METERS", "200")
	t.Setenv("SESSION_TTL", "garbage")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StorageMemory, cfg.StorageDriver)
	assert.Equal(t, 2*time.Hour, cfg.PaymentWindow)
	assert.Equal(t, payment.MustParseAmount("3.50"), cfg.Fees.FeeFor("express"))
	assert.Equal(t, tracking.UnitMiles, cfg.DistanceUnit)
	assert.Equal(t, 200.0, cfg.MeetingRadiusMeters)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
}

func TestLoadRejectsBadSettings(t *testing.T) {
	t.Setenv("AUTH_MODE", "jwt")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("AUTH_MODE", "session")
	t.Setenv("STORAGE_DRIVER", "sqlite")
	_, err = Load()
	assert.Error(t, err)

	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("EXCHANGE_FEES", "standard")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoadTracker(t *testing.T) {
	t.Setenv("SWAPMEET_TOKEN", "")
	t.Setenv("MEETING_PROPOSAL_ID", "")
	_, err := LoadTracker()
	assert.Error(t, err)

	t.Setenv("SWAPMEET_TOKEN", "tok")
	t.Setenv("MEETING_SESSION_ID", "b5f2a3c4-0000-4000-8000-000000000001")
	t.Setenv("SWAPMEET_URL", "http://api.local/")
	_, err = LoadTracker()
	assert.Error(t, err)

	t.Setenv("MEETING_PROPOSAL_ID", "01JC3Q7Z8K2M4N6P8R0T2V4X6Y")
	cfg, err := LoadTracker()
	require.NoError(t, err)
	assert.Equal(t, "http://api.local", cfg.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Interval)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
}

func TestLoadAuthority(t *testing.T) {
	t.Setenv("P2P_NODE_ID", "node-7")
	t.Setenv("P2P_DATA_DIR", "")
	t.Setenv("P2P_BOOTSTRAP", "true")
	t.Setenv("P2P_JOIN_ENDPOINT", "http://leader:18080/")
	t.Setenv("P2P_JOIN_RETRIES", "-1")
	t.Setenv("PAYMENT_WINDOW", "90m")
	t.Setenv("MEETING_RADIUS_METERS", "")
	t.Setenv("EXCHANGE_FEES", "")
	t.Setenv("DEFAULT_EXCHANGE_FEE", "")
	cfg, err := LoadAuthority()
	require.NoError(t, err)
	assert.Equal(t, "node-7", cfg.NodeID)
	assert.Equal(t, filepath.Join("tmp", "authority", "node-7"), cfg.DataDir)
	assert.True(t, cfg.Bootstrap)
	assert.Equal(t, "http://leader:18080", cfg.JoinEndpoint)
	assert.Equal(t, 30, cfg.JoinRetries)
	assert.Equal(t, 90*time.Minute, cfg.PaymentWindow)
	assert.Equal(t, 150.0, cfg.MeetingRadiusMeters)

	t.Setenv("MEETING_RADIUS_METERS", "-5")
	_, err = LoadAuthority()
	assert.Error(t, err)
}
