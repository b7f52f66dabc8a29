package service

import (
	"context"
	"errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"token-keeper/internal/autherr"
	"token-keeper/internal/metrics"
	"token-keeper/internal/model"
	"token-keeper/internal/ports"
	"token-keeper/internal/security"
)

// TokenService ties the codec to both stores: it issues, rotates and revokes sessions.
type TokenService struct {
	codec            ports.TokenCodec
	refreshTokens    ports.RefreshTokenStore
	blacklist        ports.TokenBlacklistStore
	metrics          *metrics.Recorder
	log              *zap.SugaredLogger
	maxActivePerUser int
}

func NewTokenService(
	codec ports.TokenCodec,
	refreshTokens ports.RefreshTokenStore,
	blacklist ports.TokenBlacklistStore,
	recorder *metrics.Recorder,
	log *zap.SugaredLogger,
	maxActivePerUser int,
) *TokenService {
	return &TokenService{
		codec:            codec,
		refreshTokens:    refreshTokens,
		blacklist:        blacklist,
		metrics:          recorder,
		log:              log,
		maxActivePerUser: maxActivePerUser,
	}
}

// IssueTokenPair starts a new session for an already authenticated user.
func (s *TokenService) IssueTokenPair(ctx context.Context, userID int64, device model.DeviceInfo) (*model.TokensPair, error) {
	if s.maxActivePerUser > 0 {
		active, err := s.refreshTokens.CountActiveByUserID(ctx, userID)
		if err != nil {
			return nil, err
		}
		if active >= int64(s.maxActivePerUser) {
			return nil, autherr.NewRefreshTokenError(autherr.RefreshLimitExceeded,
				autherr.NewContext().WithUser(userID).WithDevice(device.DeviceID).With("active_sessions", active), nil)
		}
	}

	pair, err := s.codec.GenerateTokenPair(userID, device)
	if err != nil {
		return nil, err
	}

	_, err = s.refreshTokens.Create(ctx, model.RefreshTokenParams{
		JTI:       pair.RefreshJTI,
		UserID:    userID,
		TokenHash: pair.RefreshTokenHash,
		ExpiresAt: pair.RefreshExpiresAt,
		Device:    device,
		FamilyID:  pair.FamilyID,
	})
	if err != nil {
		return nil, err
	}

	s.metrics.TokenIssued()
	s.log.Infow("token pair issued", "user_id", userID, "device_id", device.DeviceID, "jti", pair.RefreshJTI)
	return pair, nil
}

// RefreshTokens exchanges a refresh token for a new pair in the same family.
// The presented token is spent whatever the outcome of the new pair.
func (s *TokenService) RefreshTokens(ctx context.Context, refreshToken string, device model.DeviceInfo) (*model.TokensPair, error) {
	claims, err := s.codec.ValidateRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	pair, err := s.codec.GenerateTokenPairInFamily(claims.UserID, device, claims.FamilyID)
	if err != nil {
		return nil, err
	}

	_, err = s.refreshTokens.Rotate(ctx, model.RotationRequest{
		OldJTI:           claims.ID,
		UserID:           claims.UserID,
		Device:           device,
		ExpectedFamilyID: claims.FamilyID,
		PresentedHash:    security.HashToken(refreshToken),
		Next: model.RefreshTokenParams{
			JTI:       pair.RefreshJTI,
			UserID:    claims.UserID,
			TokenHash: pair.RefreshTokenHash,
			ExpiresAt: pair.RefreshExpiresAt,
			Device:    device,
		},
	})
	if err != nil {
		s.handleRotationFailure(ctx, claims, device, err)
		return nil, err
	}

	s.metrics.TokenRotated()
	return pair, nil
}

func (s *TokenService) handleRotationFailure(ctx context.Context, claims *security.Claims, device model.DeviceInfo, err error) {
	var refreshErr *autherr.RefreshTokenError
	if !errors.As(err, &refreshErr) {
		return
	}

	fields := []any{
		"correlation_id", uuid.NewString(),
		"reason", refreshErr.Reason(),
		"user_id", claims.UserID,
		"jti", claims.ID,
		"family_id", claims.FamilyID,
		"device_id", device.DeviceID,
	}

	switch refreshErr.Reason() {
	case autherr.RefreshAlreadyUsed:
		blacklisted, blErr := s.blacklist.BlacklistFamilyTokens(ctx, claims.FamilyID, model.ReasonSecurityBreach)
		if blErr != nil {
			s.log.Errorw("failed to blacklist reused token family", append(fields, "error", blErr)...)
		}
		s.log.Warnw("refresh token reuse detected", append(fields, "blacklisted", blacklisted)...)
	case autherr.RefreshDeviceMismatch:
		if _, revErr := s.refreshTokens.Revoke(ctx, claims.ID, model.ReasonSecurityBreach); revErr != nil {
			s.log.Errorw("failed to revoke refresh token after device mismatch", append(fields, "error", revErr)...)
		}
		entry := model.NewBlacklistEntry(claims.ID, model.TokenTypeRefresh, claims.ExpiresAt.Time, model.ReasonSecurityBreach).
			WithUser(claims.UserID).
			WithDevice(device.DeviceID)
		if _, blErr := s.blacklist.AddToBlacklist(ctx, entry); blErr != nil {
			s.log.Errorw("failed to blacklist refresh token after device mismatch", append(fields, "error", blErr)...)
		}
		s.log.Warnw("refresh attempted from another device", fields...)
	case autherr.RefreshRotationFailed:
		s.log.Warnw("concurrent refresh lost the rotation race", fields...)
	default:
		if refreshErr.IsSecurityRelated() {
			s.log.Warnw("refresh token rejected", fields...)
		}
	}

	if refreshErr.IsSecurityRelated() || refreshErr.Reason() == autherr.RefreshRotationFailed {
		s.metrics.SecurityEvent("refresh", string(refreshErr.Reason()))
	}
}

// ValidateAccessToken also feeds the security metrics; JWTMiddleware can use it directly.
func (s *TokenService) ValidateAccessToken(ctx context.Context, accessToken string) (*security.Claims, error) {
	claims, err := s.codec.ValidateAccessToken(ctx, accessToken)
	if autherr.IsInvalidTokenReason(err, autherr.TokenBlacklisted) {
		s.metrics.SecurityEvent("access", string(autherr.TokenBlacklisted))
	}
	return claims, err
}

// Logout ends the session the access token belongs to: the access token itself and
// its refresh token are blacklisted, the refresh token is revoked.
func (s *TokenService) Logout(ctx context.Context, accessToken string) error {
	claims, err := s.codec.ValidateAccessToken(ctx, accessToken)
	if err != nil {
		return err
	}

	accessEntry := model.NewBlacklistEntry(claims.ID, model.TokenTypeAccess, claims.ExpiresAt.Time, model.ReasonLogout).
		WithUser(claims.UserID)
	if _, err := s.blacklist.AddToBlacklist(ctx, accessEntry); err != nil {
		return err
	}

	if claims.RefreshJTI == "" {
		return nil
	}

	stored, err := s.refreshTokens.FindByJTI(ctx, claims.RefreshJTI)
	if err != nil {
		return err
	}
	if stored == nil {
		return nil
	}

	if _, err := s.refreshTokens.Revoke(ctx, stored.JTI, model.ReasonLogout); err != nil {
		return err
	}

	refreshEntry := model.NewBlacklistEntry(stored.JTI, model.TokenTypeRefresh, stored.ExpiresAt, model.ReasonLogout).
		WithUser(stored.UserID).
		WithDevice(stored.DeviceID)
	if _, err := s.blacklist.AddToBlacklist(ctx, refreshEntry); err != nil {
		return err
	}

	s.log.Infow("session logged out", "user_id", claims.UserID, "jti", claims.ID, "refresh_jti", stored.JTI)
	return nil
}

// LogoutEverywhere ends every session of the user except the one holding exceptJTI.
// Tokens are blacklisted before they are revoked: the cascade selects active and
// rotated rows, a logout revocation would hide the active ones from it.
func (s *TokenService) LogoutEverywhere(ctx context.Context, userID int64, exceptJTI string) (int64, error) {
	if _, err := s.blacklist.BlacklistAllUserTokens(ctx, userID, model.ReasonLogout, exceptJTI); err != nil {
		return 0, err
	}

	revoked, err := s.refreshTokens.RevokeAllByUserID(ctx, userID, model.ReasonLogout, exceptJTI)
	if err != nil {
		return 0, err
	}

	s.log.Infow("user logged out everywhere", "user_id", userID, "revoked", revoked)
	return revoked, nil
}

// LogoutDevice only ever touches tokens the user owns on that device.
func (s *TokenService) LogoutDevice(ctx context.Context, userID int64, deviceID string) (int64, error) {
	if userID <= 0 {
		return 0, autherr.NewRefreshTokenError(autherr.RefreshUserMismatch,
			autherr.NewContext().WithUser(userID).WithDevice(deviceID), nil).
			WithMessage("device logout requires a user")
	}

	if _, err := s.blacklist.BlacklistAllDeviceTokens(ctx, userID, deviceID, model.ReasonLogout); err != nil {
		return 0, err
	}

	revoked, err := s.refreshTokens.RevokeAllByDevice(ctx, userID, deviceID, model.ReasonLogout)
	if err != nil {
		return 0, err
	}

	s.log.Infow("device logged out", "user_id", userID, "device_id", deviceID, "revoked", revoked)
	return revoked, nil
}
