package config_test

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"token-keeper/config"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("DATABASE_DSN", "")
	t.Setenv("REDIS_ADDR", "")

	path := writeConfig(t, `
databaseConfig:
  dsn: "postgres://localhost/tokens"
jwt:
  secret_key: "`+testSecret+`"
  issuer: "token-keeper"
  access_token_ttl: "10m"
  refresh_token_ttl: "48h"
sessions:
  max_active_per_user: 3
`)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/tokens", cfg.DatabaseConfig.DSN)
	assert.Equal(t, "HS512", cfg.JWT.Algorithm)
	assert.Equal(t, 10*time.Minute, cfg.JWT.AccessTTL())
	assert.Equal(t, 48*time.Hour, cfg.JWT.RefreshTTL())
	assert.Equal(t, 5*time.Second, cfg.JWT.LeewayDuration())
	assert.Equal(t, 30, cfg.Blacklist.PurgeHorizonDays)
	assert.Equal(t, 24*time.Hour, cfg.Retention.ExpiredGraceDuration())
	assert.Equal(t, time.Hour, cfg.Retention.Interval())
	assert.Equal(t, 3, cfg.Sessions.MaxActivePerUser)
}

func TestLoadConfigEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("JWT_SECRET", strings.Repeat("s", 40))
	t.Setenv("DATABASE_DSN", "postgres://env/tokens")
	t.Setenv("REDIS_ADDR", "redis:6379")

	path := writeConfig(t, `
databaseConfig:
  dsn: "postgres://file/tokens"
redisConfig:
  addr: "localhost:6379"
jwt:
  secret_key: "short"
`)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, strings.Repeat("s", 40), cfg.JWT.SecretKey)
	assert.Equal(t, "postgres://env/tokens", cfg.DatabaseConfig.DSN)
	assert.Equal(t, "redis:6379", cfg.RedisConfig.Addr)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := config.LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() config.AppConfig {
		return config.AppConfig{
			DatabaseConfig: config.DatabaseConfig{DSN: "postgres://localhost/tokens"},
			JWT: config.JWTConfig{
				SecretKey:       testSecret,
				Algorithm:       "HS256",
				AccessTokenTTL:  "15m",
				RefreshTokenTTL: "24h",
				Leeway:          "0s",
			},
			Retention: config.RetentionConfig{
				ExpiredGrace:         "1h",
				RevokedRetentionDays: 7,
				MaintenanceInterval:  "10m",
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(cfg *config.AppConfig)
		wantErr string
	}{
		{name: "valid", mutate: func(*config.AppConfig) {}},
		{
			name:    "missing dsn",
			mutate:  func(cfg *config.AppConfig) { cfg.DatabaseConfig.DSN = "" },
			wantErr: "databaseConfig.dsn is required",
		},
		{
			name:    "short secret",
			mutate:  func(cfg *config.AppConfig) { cfg.JWT.SecretKey = "tiny" },
			wantErr: "jwt.secret_key must be at least 32 bytes",
		},
		{
			name:    "unsupported algorithm",
			mutate:  func(cfg *config.AppConfig) { cfg.JWT.Algorithm = "RS256" },
			wantErr: `jwt.algorithm "RS256" is not supported`,
		},
		{
			name:    "access ttl not shorter than refresh ttl",
			mutate:  func(cfg *config.AppConfig) { cfg.JWT.AccessTokenTTL = "48h" },
			wantErr: "must be shorter than",
		},
		{
			name:    "unparsable ttl",
			mutate:  func(cfg *config.AppConfig) { cfg.JWT.RefreshTokenTTL = "forever" },
			wantErr: "jwt.refresh_token_ttl",
		},
		{
			name:    "negative revoked retention",
			mutate:  func(cfg *config.AppConfig) { cfg.Retention.RevokedRetentionDays = -1 },
			wantErr: "retention.revoked_retention_days must not be negative",
		},
		{
			name:    "negative purge horizon",
			mutate:  func(cfg *config.AppConfig) { cfg.Blacklist.PurgeHorizonDays = -3 },
			wantErr: "blacklist.purge_horizon_days must not be negative",
		},
		{
			name:    "negative session limit",
			mutate:  func(cfg *config.AppConfig) { cfg.Sessions.MaxActivePerUser = -1 },
			wantErr: "sessions.max_active_per_user",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
