package config

import (
	"errors"
	"fmt"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
	"net/http"
	"os"
	"slices"
	"time"
)

const minSecretLength = 32

type AppConfig struct {
	DatabaseConfig DatabaseConfig  `yaml:"databaseConfig"`
	RedisConfig    RedisConfig     `yaml:"redisConfig"`
	ServerAddr     string          `yaml:"serverAddr"`
	LogLevel       string          `yaml:"logLevel"`
	JWT            JWTConfig       `yaml:"jwt"`
	Blacklist      BlacklistConfig `yaml:"blacklist"`
	Retention      RetentionConfig `yaml:"retention"`
	Sessions       SessionsConfig  `yaml:"sessions"`
}

// LoadConfig reads the yaml file, then lets the environment (and an optional .env)
// override the secrets so they never have to live in the file.
func LoadConfig(path string) (*AppConfig, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(file, &cfg); err != nil {
		return nil, err
	}

	_ = godotenv.Load()
	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (cfg *AppConfig) applyEnv() {
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWT.SecretKey = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.DatabaseConfig.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisConfig.Addr = v
	}
}

func (cfg *AppConfig) applyDefaults() {
	if cfg.JWT.Algorithm == "" {
		cfg.JWT.Algorithm = "HS512"
	}
	if cfg.JWT.AccessTokenTTL == "" {
		cfg.JWT.AccessTokenTTL = "15m"
	}
	if cfg.JWT.RefreshTokenTTL == "" {
		cfg.JWT.RefreshTokenTTL = "720h"
	}
	if cfg.JWT.Leeway == "" {
		cfg.JWT.Leeway = "5s"
	}
	if cfg.Blacklist.PurgeHorizonDays == 0 {
		cfg.Blacklist.PurgeHorizonDays = 30
	}
	if cfg.Retention.ExpiredGrace == "" {
		cfg.Retention.ExpiredGrace = "24h"
	}
	if cfg.Retention.RevokedRetentionDays == 0 {
		cfg.Retention.RevokedRetentionDays = 7
	}
	if cfg.Retention.MaintenanceInterval == "" {
		cfg.Retention.MaintenanceInterval = "1h"
	}
	if cfg.ServerAddr == "" {
		cfg.ServerAddr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

func (cfg *AppConfig) Validate() error {
	var errs []error

	if cfg.DatabaseConfig.DSN == "" {
		errs = append(errs, errors.New("databaseConfig.dsn is required"))
	}
	if len(cfg.JWT.SecretKey) < minSecretLength {
		errs = append(errs, fmt.Errorf("jwt.secret_key must be at least %d bytes", minSecretLength))
	}
	if !slices.Contains([]string{"HS256", "HS384", "HS512"}, cfg.JWT.Algorithm) {
		errs = append(errs, fmt.Errorf("jwt.algorithm %q is not supported", cfg.JWT.Algorithm))
	}

	accessTTL, accessErr := parsePositive("jwt.access_token_ttl", cfg.JWT.AccessTokenTTL)
	refreshTTL, refreshErr := parsePositive("jwt.refresh_token_ttl", cfg.JWT.RefreshTokenTTL)
	errs = append(errs, accessErr, refreshErr)
	if accessErr == nil && refreshErr == nil && accessTTL >= refreshTTL {
		errs = append(errs, errors.New("jwt.access_token_ttl must be shorter than jwt.refresh_token_ttl"))
	}

	if _, err := time.ParseDuration(cfg.JWT.Leeway); err != nil {
		errs = append(errs, fmt.Errorf("jwt.leeway: %w", err))
	}
	if _, err := parsePositive("retention.expired_grace", cfg.Retention.ExpiredGrace); err != nil {
		errs = append(errs, err)
	}
	if _, err := parsePositive("retention.maintenance_interval", cfg.Retention.MaintenanceInterval); err != nil {
		errs = append(errs, err)
	}
	if cfg.Retention.RevokedRetentionDays < 0 {
		errs = append(errs, errors.New("retention.revoked_retention_days must not be negative"))
	}
	if cfg.Blacklist.PurgeHorizonDays < 0 {
		errs = append(errs, errors.New("blacklist.purge_horizon_days must not be negative"))
	}
	if cfg.Blacklist.MaxEntries < 0 {
		errs = append(errs, errors.New("blacklist.max_entries must not be negative"))
	}
	if cfg.Sessions.MaxActivePerUser < 0 {
		errs = append(errs, errors.New("sessions.max_active_per_user must not be negative"))
	}

	return errors.Join(errs...)
}

func parsePositive(name, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", name)
	}
	return d, nil
}

func SetupServer(serverAddress string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              serverAddress,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func SetupDatabase(dsn string) (*Database, error) {
	return NewDatabaseConnection("postgres", dsn)
}

func SetupRedis(cfg *RedisConfig) (*RedisClient, error) {
	return NewRedisClient(cfg)
}
