package service_test

import (
	"context"
	"errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"testing"
	"time"
	"token-keeper/config"
	"token-keeper/internal/metrics"
	"token-keeper/internal/model"
	"token-keeper/internal/service"
	"token-keeper/internal/util"
)

func newMaintenanceService(t *testing.T) (*service.MaintenanceService, *MockRefreshTokenStore, *MockBlacklistStore, *prometheus.Registry) {
	refresh := new(MockRefreshTokenStore)
	blacklist := new(MockBlacklistStore)
	reg := prometheus.NewRegistry()
	retention := config.RetentionConfig{
		ExpiredGrace:         "24h",
		RevokedRetentionDays: 7,
		MaintenanceInterval:  "1h",
	}

	svc := service.NewMaintenanceService(refresh, blacklist, retention, util.NewFixedClock(testNow),
		metrics.NewRecorder(reg), zaptest.NewLogger(t).Sugar())

	t.Cleanup(func() {
		refresh.AssertExpectations(t)
		blacklist.AssertExpectations(t)
	})
	return svc, refresh, blacklist, reg
}

func TestMaintenanceRunOnce(t *testing.T) {
	svc, refresh, blacklist, reg := newMaintenanceService(t)
	ctx := context.Background()

	refresh.On("Cleanup", ctx, testNow.Add(-24*time.Hour)).Return(int64(5), nil)
	refresh.On("CleanupRevoked", ctx, 7).Return(int64(2), nil)
	blacklist.On("Optimize", ctx).Return(&model.OptimizeResult{ExpiredRemoved: 4, OldRemoved: 1, Compacted: true, SizeAfter: 20}, nil)

	report, err := svc.RunOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(5), report.ExpiredRefreshDeleted)
	assert.Equal(t, int64(2), report.RevokedRefreshDeleted)
	assert.Equal(t, int64(20), report.Blacklist.SizeAfter)
	assert.Equal(t, testNow, report.StartedAt)

	deleted := "token_maintenance_deleted_total"
	assert.Equal(t, float64(7), counterValue(t, reg, deleted, map[string]string{"table": "refresh_tokens"}))
	assert.Equal(t, float64(5), counterValue(t, reg, deleted, map[string]string{"table": "token_blacklist"}))
}

func TestMaintenanceRunOnceContinuesAfterFailure(t *testing.T) {
	svc, refresh, blacklist, _ := newMaintenanceService(t)
	ctx := context.Background()
	cleanupErr := errors.New("lock timeout")
	optimizeErr := errors.New("statement timeout")

	refresh.On("Cleanup", ctx, testNow.Add(-24*time.Hour)).Return(int64(0), cleanupErr)
	refresh.On("CleanupRevoked", ctx, 7).Return(int64(3), nil)
	blacklist.On("Optimize", ctx).Return(nil, optimizeErr)

	report, err := svc.RunOnce(ctx)

	require.Error(t, err)
	assert.ErrorIs(t, err, cleanupErr)
	assert.ErrorIs(t, err, optimizeErr)
	assert.Equal(t, int64(3), report.RevokedRefreshDeleted)
	assert.Nil(t, report.Blacklist)
}

func TestMaintenanceRunStopsWithContext(t *testing.T) {
	svc, refresh, blacklist, _ := newMaintenanceService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	refresh.On("Cleanup", ctx, testNow.Add(-24*time.Hour)).Return(int64(0), nil).Once()
	refresh.On("CleanupRevoked", ctx, 7).Return(int64(0), nil).Once()
	blacklist.On("Optimize", ctx).Return(&model.OptimizeResult{}, nil).Once()

	done := make(chan struct{})
	go func() {
		svc.Run(ctx, time.Hour)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("maintenance loop did not stop")
	}
}
