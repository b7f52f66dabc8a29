package service_test

import (
	"context"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
	"token-keeper/internal/model"
	"token-keeper/internal/security"
)

// ===== MOCKS =====

type MockTokenCodec struct {
	mock.Mock
}

func (m *MockTokenCodec) GenerateTokenPair(userID int64, device model.DeviceInfo) (*model.TokensPair, error) {
	args := m.Called(userID, device)
	if pair, ok := args.Get(0).(*model.TokensPair); ok {
		return pair, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockTokenCodec) GenerateTokenPairInFamily(userID int64, device model.DeviceInfo, familyID string) (*model.TokensPair, error) {
	args := m.Called(userID, device, familyID)
	if pair, ok := args.Get(0).(*model.TokensPair); ok {
		return pair, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockTokenCodec) ValidateAccessToken(ctx context.Context, token string) (*security.Claims, error) {
	args := m.Called(ctx, token)
	if claims, ok := args.Get(0).(*security.Claims); ok {
		return claims, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockTokenCodec) ValidateRefreshToken(ctx context.Context, token string) (*security.Claims, error) {
	args := m.Called(ctx, token)
	if claims, ok := args.Get(0).(*security.Claims); ok {
		return claims, args.Error(1)
	}
	return nil, args.Error(1)
}

type MockRefreshTokenStore struct {
	mock.Mock
}

func (m *MockRefreshTokenStore) Create(ctx context.Context, params model.RefreshTokenParams) (*model.RefreshToken, error) {
	args := m.Called(ctx, params)
	if token, ok := args.Get(0).(*model.RefreshToken); ok {
		return token, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRefreshTokenStore) FindByJTI(ctx context.Context, jti string) (*model.RefreshToken, error) {
	args := m.Called(ctx, jti)
	if token, ok := args.Get(0).(*model.RefreshToken); ok {
		return token, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRefreshTokenStore) CountActiveByUserID(ctx context.Context, userID int64) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRefreshTokenStore) Rotate(ctx context.Context, request model.RotationRequest) (*model.RefreshToken, error) {
	args := m.Called(ctx, request)
	if token, ok := args.Get(0).(*model.RefreshToken); ok {
		return token, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRefreshTokenStore) Revoke(ctx context.Context, jti string, reason model.RevocationReason) (bool, error) {
	args := m.Called(ctx, jti, reason)
	return args.Bool(0), args.Error(1)
}

func (m *MockRefreshTokenStore) RevokeAllByUserID(ctx context.Context, userID int64, reason model.RevocationReason, excludeJTI string) (int64, error) {
	args := m.Called(ctx, userID, reason, excludeJTI)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRefreshTokenStore) RevokeAllByDevice(ctx context.Context, userID int64, deviceID string, reason model.RevocationReason) (int64, error) {
	args := m.Called(ctx, userID, deviceID, reason)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRefreshTokenStore) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRefreshTokenStore) CleanupRevoked(ctx context.Context, days int) (int64, error) {
	args := m.Called(ctx, days)
	return args.Get(0).(int64), args.Error(1)
}

type MockBlacklistStore struct {
	mock.Mock
}

func (m *MockBlacklistStore) AddToBlacklist(ctx context.Context, entry model.TokenBlacklistEntry) (bool, error) {
	args := m.Called(ctx, entry)
	return args.Bool(0), args.Error(1)
}

func (m *MockBlacklistStore) IsBlacklisted(ctx context.Context, jti string) bool {
	args := m.Called(ctx, jti)
	return args.Bool(0)
}

func (m *MockBlacklistStore) BlacklistAllUserTokens(ctx context.Context, userID int64, reason model.RevocationReason, excludeJTI string) (int64, error) {
	args := m.Called(ctx, userID, reason, excludeJTI)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockBlacklistStore) BlacklistAllDeviceTokens(ctx context.Context, userID int64, deviceID string, reason model.RevocationReason) (int64, error) {
	args := m.Called(ctx, userID, deviceID, reason)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockBlacklistStore) BlacklistFamilyTokens(ctx context.Context, familyID string, reason model.RevocationReason) (int64, error) {
	args := m.Called(ctx, familyID, reason)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockBlacklistStore) Optimize(ctx context.Context) (*model.OptimizeResult, error) {
	args := m.Called(ctx)
	if result, ok := args.Get(0).(*model.OptimizeResult); ok {
		return result, args.Error(1)
	}
	return nil, args.Error(1)
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	var total float64
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	metricLoop:
		for _, metric := range family.GetMetric() {
			for _, pair := range metric.GetLabel() {
				if want, ok := labels[pair.GetName()]; ok && want != pair.GetValue() {
					continue metricLoop
				}
			}
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}
