package security

import (
	"context"
	"errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"strconv"
	"strings"
	"time"
	"token-keeper/config"
	"token-keeper/internal/autherr"
	"token-keeper/internal/model"
	"token-keeper/internal/util"
)

var errAlgorithmMismatch = errors.New("unexpected signing method")

type Claims struct {
	UserID            int64           `json:"uid"`
	TokenType         model.TokenType `json:"token_type"`
	DeviceFingerprint string          `json:"dfp,omitempty"`
	RefreshJTI        string          `json:"rti,omitempty"`
	FamilyID          string          `json:"fam,omitempty"`
	jwt.RegisteredClaims
}

// BlacklistChecker : fail-open lookup, true only when a row exists
type BlacklistChecker interface {
	IsBlacklisted(ctx context.Context, jti string) bool
}

type JWTService struct {
	cfg        *config.JWTConfig
	keys       *KeyProvider
	blacklist  BlacklistChecker
	clock      util.Clock
	log        *zap.SugaredLogger
	accessTTL  time.Duration
	refreshTTL time.Duration
	leeway     time.Duration
}

// NewJWTService expects a validated config. blacklist may be nil, then no token is ever
// considered revoked by the codec itself.
func NewJWTService(cfg *config.JWTConfig, keys *KeyProvider, blacklist BlacklistChecker, clock util.Clock, log *zap.SugaredLogger) *JWTService {
	return &JWTService{
		cfg:        cfg,
		keys:       keys,
		blacklist:  blacklist,
		clock:      clock,
		log:        log,
		accessTTL:  cfg.AccessTTL(),
		refreshTTL: cfg.RefreshTTL(),
		leeway:     cfg.LeewayDuration(),
	}
}

// GenerateTokenPair signs a pair that starts a new token family.
func (service *JWTService) GenerateTokenPair(userID int64, device model.DeviceInfo) (*model.TokensPair, error) {
	return service.GenerateTokenPairInFamily(userID, device, uuid.NewString())
}

// GenerateTokenPairInFamily signs a pair that continues an existing family, used on rotation.
func (service *JWTService) GenerateTokenPairInFamily(userID int64, device model.DeviceInfo, familyID string) (*model.TokensPair, error) {
	errCtx := autherr.NewContext().WithUser(userID).WithDevice(device.DeviceID)

	if userID <= 0 {
		return nil, autherr.NewTokenGenerationError(autherr.GenerationPayloadInvalid, errCtx, nil).
			WithMessage("user id must be positive")
	}
	if familyID == "" {
		return nil, autherr.NewTokenGenerationError(autherr.GenerationClaimsInvalid, errCtx, nil).
			WithMessage("family id is required")
	}

	now := service.clock.Now()
	accessJTI := uuid.NewString()
	refreshJTI := uuid.NewString()
	fingerprint := DeviceFingerprint(device)

	refreshClaims := Claims{
		UserID:            userID,
		TokenType:         model.TokenTypeRefresh,
		DeviceFingerprint: fingerprint,
		FamilyID:          familyID,
		RegisteredClaims:  service.registeredClaims(refreshJTI, userID, now, service.refreshTTL),
	}
	accessClaims := Claims{
		UserID:            userID,
		TokenType:         model.TokenTypeAccess,
		DeviceFingerprint: fingerprint,
		RefreshJTI:        refreshJTI,
		FamilyID:          familyID,
		RegisteredClaims:  service.registeredClaims(accessJTI, userID, now, service.accessTTL),
	}

	refreshToken, err := service.sign(refreshClaims, errCtx.WithJTI(refreshJTI))
	if err != nil {
		return nil, err
	}
	accessToken, err := service.sign(accessClaims, errCtx.WithJTI(accessJTI))
	if err != nil {
		return nil, err
	}

	return &model.TokensPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessJTI:        accessJTI,
		RefreshJTI:       refreshJTI,
		RefreshTokenHash: HashToken(refreshToken),
		FamilyID:         familyID,
		AccessExpiresAt:  accessClaims.ExpiresAt.Time,
		RefreshExpiresAt: refreshClaims.ExpiresAt.Time,
	}, nil
}

// ValidateAccessToken verifies signature and claims, then rejects the token when its own
// jti or the jti of the refresh token it was issued with is blacklisted.
func (service *JWTService) ValidateAccessToken(ctx context.Context, tokenStr string) (*Claims, error) {
	claims, err := service.parse(tokenStr, model.TokenTypeAccess)
	if err != nil {
		return nil, err
	}

	if service.isBlacklisted(ctx, claims.ID) || service.isBlacklisted(ctx, claims.RefreshJTI) {
		return nil, autherr.NewInvalidTokenError(autherr.TokenBlacklisted, claimsContext(claims), nil)
	}
	return claims, nil
}

func (service *JWTService) ValidateRefreshToken(ctx context.Context, tokenStr string) (*Claims, error) {
	claims, err := service.parse(tokenStr, model.TokenTypeRefresh)
	if err != nil {
		return nil, err
	}

	if service.isBlacklisted(ctx, claims.ID) {
		return nil, autherr.NewInvalidTokenError(autherr.TokenBlacklisted, claimsContext(claims), nil)
	}
	return claims, nil
}

func (service *JWTService) registeredClaims(jti string, userID int64, now time.Time, ttl time.Duration) jwt.RegisteredClaims {
	registered := jwt.RegisteredClaims{
		ID:        jti,
		Subject:   strconv.FormatInt(userID, 10),
		Issuer:    service.cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if service.cfg.Audience != "" {
		registered.Audience = jwt.ClaimStrings{service.cfg.Audience}
	}
	return registered
}

func (service *JWTService) sign(claims Claims, errCtx autherr.ErrorContext) (string, error) {
	errCtx = errCtx.WithTokenType(string(claims.TokenType))

	jwtToken := jwt.NewWithClaims(service.keys.SigningMethod(), claims)
	signed, err := jwtToken.SignedString(service.keys.KeyFor(claims.TokenType))
	if err != nil {
		service.log.Errorw("failed to sign token", append(errCtx.Fields(), "error", err)...)
		if errors.Is(err, jwt.ErrInvalidKey) || errors.Is(err, jwt.ErrInvalidKeyType) {
			return "", autherr.NewTokenGenerationError(autherr.GenerationKeyInvalid, errCtx, err)
		}
		return "", autherr.NewTokenGenerationError(autherr.GenerationSignatureFailed, errCtx, err)
	}
	return signed, nil
}

func (service *JWTService) parse(tokenStr string, expected model.TokenType) (*Claims, error) {
	errCtx := autherr.NewContext().WithTokenType(string(expected))

	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return nil, autherr.NewInvalidTokenError(autherr.TokenMalformed, errCtx, nil).WithMessage("token is empty")
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenStr, claims, service.keyFunc(expected), service.parserOptions()...)
	if err != nil {
		return nil, service.mapParseError(err, claims, expected, errCtx.WithJTI(claims.ID))
	}

	errCtx = claimsContext(claims).WithTokenType(string(expected))
	if claims.TokenType != expected {
		return nil, autherr.NewInvalidTokenError(autherr.TokenTypeMismatch, errCtx, nil)
	}
	if claims.Subject == "" {
		return nil, autherr.NewInvalidTokenError(autherr.TokenSubjectMissing, errCtx, nil)
	}
	subject, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || subject != claims.UserID || claims.ID == "" {
		return nil, autherr.NewInvalidTokenError(autherr.TokenClaimsInvalid, errCtx, err)
	}
	if expected == model.TokenTypeRefresh && claims.FamilyID == "" {
		return nil, autherr.NewInvalidTokenError(autherr.TokenClaimsInvalid, errCtx, nil).
			WithMessage("refresh token has no family")
	}

	return claims, nil
}

func (service *JWTService) keyFunc(expected model.TokenType) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if token.Method == nil || token.Method.Alg() != service.keys.SigningMethod().Alg() {
			return nil, errAlgorithmMismatch
		}
		return service.keys.KeyFor(expected), nil
	}
}

func (service *JWTService) parserOptions() []jwt.ParserOption {
	options := []jwt.ParserOption{
		jwt.WithTimeFunc(service.clock.Now),
		jwt.WithLeeway(service.leeway),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if service.cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(service.cfg.Issuer))
	}
	if service.cfg.Audience != "" {
		options = append(options, jwt.WithAudience(service.cfg.Audience))
	}
	return options
}

// mapParseError turns jwt errors into reason codes. Signature problems are checked
// before claim problems, so a forged expired token is reported as forged.
func (service *JWTService) mapParseError(err error, claims *Claims, expected model.TokenType, errCtx autherr.ErrorContext) error {
	var reason autherr.InvalidTokenReason

	switch {
	case errors.Is(err, errAlgorithmMismatch), errors.Is(err, jwt.ErrTokenUnverifiable):
		reason = autherr.TokenAlgorithmMismatch
	case errors.Is(err, jwt.ErrTokenMalformed):
		reason = autherr.TokenMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		reason = autherr.TokenSignatureInvalid
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		reason = autherr.TokenIssuerInvalid
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		reason = autherr.TokenAudienceInvalid
	case errors.Is(err, jwt.ErrTokenExpired) && claims.ExpiresAt != nil:
		return autherr.NewTokenExpiredError(expected, claims.ExpiresAt.Time.UTC(), service.clock.Now(), errCtx)
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		reason = autherr.TokenNotBefore
	default:
		reason = autherr.TokenClaimsInvalid
	}

	service.log.Debugw("token rejected", append(errCtx.Fields(), "reason", reason, "error", err)...)
	return autherr.NewInvalidTokenError(reason, errCtx, err)
}

func (service *JWTService) isBlacklisted(ctx context.Context, jti string) bool {
	if service.blacklist == nil || jti == "" {
		return false
	}
	return service.blacklist.IsBlacklisted(ctx, jti)
}

func claimsContext(claims *Claims) autherr.ErrorContext {
	return autherr.NewContext().
		WithUser(claims.UserID).
		WithJTI(claims.ID).
		WithTokenType(string(claims.TokenType))
}
