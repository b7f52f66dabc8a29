package ports

import (
	"context"
	"time"
	"token-keeper/internal/model"
	"token-keeper/internal/security"
)

// TokenCodec : signs and verifies JWTs, implemented by security.JWTService
type TokenCodec interface {
	GenerateTokenPair(userID int64, device model.DeviceInfo) (*model.TokensPair, error)
	GenerateTokenPairInFamily(userID int64, device model.DeviceInfo, familyID string) (*model.TokensPair, error)
	ValidateAccessToken(ctx context.Context, token string) (*security.Claims, error)
	ValidateRefreshToken(ctx context.Context, token string) (*security.Claims, error)
}

type RefreshTokenStore interface {
	Create(ctx context.Context, params model.RefreshTokenParams) (*model.RefreshToken, error)
	FindByJTI(ctx context.Context, jti string) (*model.RefreshToken, error)
	CountActiveByUserID(ctx context.Context, userID int64) (int64, error)
	Rotate(ctx context.Context, request model.RotationRequest) (*model.RefreshToken, error)
	Revoke(ctx context.Context, jti string, reason model.RevocationReason) (bool, error)
	RevokeAllByUserID(ctx context.Context, userID int64, reason model.RevocationReason, excludeJTI string) (int64, error)
	RevokeAllByDevice(ctx context.Context, userID int64, deviceID string, reason model.RevocationReason) (int64, error)
	Cleanup(ctx context.Context, before time.Time) (int64, error)
	CleanupRevoked(ctx context.Context, days int) (int64, error)
}

type TokenBlacklistStore interface {
	AddToBlacklist(ctx context.Context, entry model.TokenBlacklistEntry) (bool, error)
	IsBlacklisted(ctx context.Context, jti string) bool
	BlacklistAllUserTokens(ctx context.Context, userID int64, reason model.RevocationReason, excludeJTI string) (int64, error)
	BlacklistAllDeviceTokens(ctx context.Context, userID int64, deviceID string, reason model.RevocationReason) (int64, error)
	BlacklistFamilyTokens(ctx context.Context, familyID string, reason model.RevocationReason) (int64, error)
	Optimize(ctx context.Context) (*model.OptimizeResult, error)
}

// BlacklistCache : Redis layer in front of token_blacklist. Only positive answers are cached.
type BlacklistCache interface {
	Add(ctx context.Context, jti string, expiresAt time.Time) error
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
	Remove(ctx context.Context, jtis ...string) error
}

// SessionService : what the HTTP layer needs from service.TokenService
type SessionService interface {
	RefreshTokens(ctx context.Context, refreshToken string, device model.DeviceInfo) (*model.TokensPair, error)
	Logout(ctx context.Context, accessToken string) error
	LogoutEverywhere(ctx context.Context, userID int64, exceptJTI string) (int64, error)
	LogoutDevice(ctx context.Context, userID int64, deviceID string) (int64, error)
}
