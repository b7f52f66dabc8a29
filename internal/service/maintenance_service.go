package service

import (
	"context"
	"errors"
	"go.uber.org/zap"
	"time"
	"token-keeper/config"
	"token-keeper/internal/metrics"
	"token-keeper/internal/model"
	"token-keeper/internal/ports"
	"token-keeper/internal/util"
)

type MaintenanceReport struct {
	ExpiredRefreshDeleted int64                 `json:"expired_refresh_deleted"`
	RevokedRefreshDeleted int64                 `json:"revoked_refresh_deleted"`
	Blacklist             *model.OptimizeResult `json:"blacklist,omitempty"`
	StartedAt             time.Time             `json:"started_at"`
}

// MaintenanceService runs the retention jobs for both stores.
type MaintenanceService struct {
	refreshTokens ports.RefreshTokenStore
	blacklist     ports.TokenBlacklistStore
	retention     config.RetentionConfig
	clock         util.Clock
	metrics       *metrics.Recorder
	log           *zap.SugaredLogger
}

func NewMaintenanceService(
	refreshTokens ports.RefreshTokenStore,
	blacklist ports.TokenBlacklistStore,
	retention config.RetentionConfig,
	clock util.Clock,
	recorder *metrics.Recorder,
	log *zap.SugaredLogger,
) *MaintenanceService {
	return &MaintenanceService{
		refreshTokens: refreshTokens,
		blacklist:     blacklist,
		retention:     retention,
		clock:         clock,
		metrics:       recorder,
		log:           log,
	}
}

// RunOnce runs every job even when an earlier one fails; the errors are joined.
func (s *MaintenanceService) RunOnce(ctx context.Context) (*MaintenanceReport, error) {
	report := &MaintenanceReport{StartedAt: s.clock.Now()}
	var errs []error

	expired, err := s.refreshTokens.Cleanup(ctx, report.StartedAt.Add(-s.retention.ExpiredGraceDuration()))
	if err != nil {
		errs = append(errs, err)
	}
	report.ExpiredRefreshDeleted = expired
	s.metrics.MaintenanceDeleted("refresh_tokens", expired)

	revoked, err := s.refreshTokens.CleanupRevoked(ctx, s.retention.RevokedRetentionDays)
	if err != nil {
		errs = append(errs, err)
	}
	report.RevokedRefreshDeleted = revoked
	s.metrics.MaintenanceDeleted("refresh_tokens", revoked)

	optimized, err := s.blacklist.Optimize(ctx)
	if err != nil {
		errs = append(errs, err)
	} else {
		report.Blacklist = optimized
		s.metrics.MaintenanceDeleted("token_blacklist", optimized.ExpiredRemoved+optimized.OldRemoved)
	}

	if err := errors.Join(errs...); err != nil {
		return report, util.LogError(s.log, "maintenance run incomplete", err)
	}

	s.log.Infow("maintenance run finished",
		"expired_refresh_deleted", report.ExpiredRefreshDeleted,
		"revoked_refresh_deleted", report.RevokedRefreshDeleted,
		"blacklist_size", report.Blacklist.SizeAfter)
	return report, nil
}

// Run calls RunOnce immediately and then every interval until ctx is done.
func (s *MaintenanceService) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		_, _ = s.RunOnce(ctx)

		select {
		case <-ctx.Done():
			s.log.Infow("maintenance loop stopped")
			return
		case <-ticker.C:
		}
	}
}
