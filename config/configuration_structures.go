package config

import "time"

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type JWTConfig struct {
	SecretKey       string `yaml:"secret_key"`
	Algorithm       string `yaml:"algorithm"`
	Issuer          string `yaml:"issuer"`
	Audience        string `yaml:"audience"`
	AccessTokenTTL  string `yaml:"access_token_ttl"`
	RefreshTokenTTL string `yaml:"refresh_token_ttl"`
	Leeway          string `yaml:"leeway"`
}

// AccessTTL and the other duration getters assume Validate has passed.
func (c JWTConfig) AccessTTL() time.Duration {
	return mustDuration(c.AccessTokenTTL)
}

func (c JWTConfig) RefreshTTL() time.Duration {
	return mustDuration(c.RefreshTokenTTL)
}

func (c JWTConfig) LeewayDuration() time.Duration {
	return mustDuration(c.Leeway)
}

type BlacklistConfig struct {
	MaxEntries       int64 `yaml:"max_entries"`
	PurgeHorizonDays int   `yaml:"purge_horizon_days"`
	CacheEnabled     bool  `yaml:"cache_enabled"`
}

type RetentionConfig struct {
	ExpiredGrace         string `yaml:"expired_grace"`
	RevokedRetentionDays int    `yaml:"revoked_retention_days"`
	MaintenanceInterval  string `yaml:"maintenance_interval"`
}

func (c RetentionConfig) ExpiredGraceDuration() time.Duration {
	return mustDuration(c.ExpiredGrace)
}

func (c RetentionConfig) Interval() time.Duration {
	return mustDuration(c.MaintenanceInterval)
}

type SessionsConfig struct {
	MaxActivePerUser int `yaml:"max_active_per_user"`
}

func mustDuration(value string) time.Duration {
	if value == "" {
		return 0
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}
