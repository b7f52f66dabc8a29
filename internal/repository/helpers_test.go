package repository_test

import (
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
	"token-keeper/config"
	"token-keeper/internal/model"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

var refreshTokenColumns = []string{
	"jti", "user_id", "token_hash", "device_id", "device_name", "ip_address", "user_agent", "platform", "browser",
	"issued_at", "expires_at", "last_used_at", "status", "revoked_at", "revoked_reason", "parent_token_jti", "family_id",
}

func newMockDB(t *testing.T) (*config.Database, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return &config.Database{DB: sqlx.NewDb(db, "postgres")}, mock
}

func newTestRedis(t *testing.T) (*config.RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return &config.RedisClient{Client: client}, mr
}

func device() model.DeviceInfo {
	return model.NewDeviceInfo("device-1", "Laptop", "10.0.0.1", "Mozilla/5.0", "linux", "Firefox")
}

type storedToken struct {
	jti       string
	userID    int64
	hash      string
	deviceID  string
	userAgent string
	expiresAt time.Time
	status    string
	reason    *string
	familyID  string
}

func activeToken(jti string) storedToken {
	return storedToken{
		jti:       jti,
		userID:    1,
		hash:      "hash-" + jti,
		deviceID:  "device-1",
		userAgent: "Mozilla/5.0",
		expiresAt: testNow.Add(time.Hour),
		status:    "active",
		familyID:  "family-1",
	}
}

func (s storedToken) revoked(reason string) storedToken {
	s.status = "revoked"
	s.reason = &reason
	return s
}

func refreshTokenRows(tokens ...storedToken) *sqlmock.Rows {
	rows := sqlmock.NewRows(refreshTokenColumns)
	for _, s := range tokens {
		var revokedAt, reason any
		if s.status == "revoked" {
			revokedAt = testNow.Add(-time.Minute)
		}
		if s.reason != nil {
			reason = *s.reason
		}
		rows.AddRow(s.jti, s.userID, s.hash, s.deviceID, "Laptop", "10.0.0.1", s.userAgent, "linux", "Firefox",
			testNow.Add(-time.Hour), s.expiresAt, nil, s.status, revokedAt, reason, nil, s.familyID)
	}
	return rows
}

func strPtr(s string) *string { return &s }

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		var total float64
		for _, metric := range family.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
		return total
	}
	return 0
}
