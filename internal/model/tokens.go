package model

import "time"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// TokenStatus is the stored state of a refresh token. Expiry is never stored:
// StatusExpired is only produced by RefreshToken.State.
type TokenStatus string

const (
	StatusActive  TokenStatus = "active"
	StatusRevoked TokenStatus = "revoked"
	StatusExpired TokenStatus = "expired"
)

type RevocationReason string

const (
	ReasonLogout          RevocationReason = "logout"
	ReasonSecurityBreach  RevocationReason = "security_breach"
	ReasonAccountDisabled RevocationReason = "account_disabled"
	ReasonRotation        RevocationReason = "rotation"
	ReasonAdminRevocation RevocationReason = "admin_revocation"
	ReasonExpired         RevocationReason = "expired"
	ReasonPasswordChange  RevocationReason = "password_change"
)

// RefreshToken : one issued refresh token. TokenHash is a digest, the raw token is never stored.
type RefreshToken struct {
	JTI       string `db:"jti" json:"jti"`
	UserID    int64  `db:"user_id" json:"user_id"`
	TokenHash string `db:"token_hash" json:"-"`
	DeviceInfo
	IssuedAt       time.Time   `db:"issued_at" json:"issued_at"`
	ExpiresAt      time.Time   `db:"expires_at" json:"expires_at"`
	LastUsedAt     *time.Time  `db:"last_used_at" json:"last_used_at,omitempty"`
	Status         TokenStatus `db:"status" json:"status"`
	RevokedAt      *time.Time  `db:"revoked_at" json:"revoked_at,omitempty"`
	RevokedReason  *string     `db:"revoked_reason" json:"revoked_reason,omitempty"`
	ParentTokenJTI *string     `db:"parent_token_jti" json:"parent_token_jti,omitempty"`
	FamilyID       string      `db:"family_id" json:"family_id"`
}

// IsExpired is true once expires_at is reached, whatever the stored status says.
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

func (t *RefreshToken) IsRevoked() bool {
	return t.Status == StatusRevoked
}

func (t *RefreshToken) IsValid(now time.Time) bool {
	return !t.IsExpired(now) && !t.IsRevoked()
}

// State : revoked wins over expired, both are terminal.
func (t *RefreshToken) State(now time.Time) TokenStatus {
	switch {
	case t.IsRevoked():
		return StatusRevoked
	case t.IsExpired(now):
		return StatusExpired
	default:
		return StatusActive
	}
}

// WasRotated reports whether the token was spent by a rotation.
func (t *RefreshToken) WasRotated() bool {
	return t.IsRevoked() && t.RevokedReason != nil && *t.RevokedReason == string(ReasonRotation)
}

// RefreshTokenParams : input of RefreshTokenRepository.Create
type RefreshTokenParams struct {
	JTI       string
	UserID    int64
	TokenHash string
	ExpiresAt time.Time
	Device    DeviceInfo
	ParentJTI string
	FamilyID  string
}

// RotationRequest : what the caller presents to rotate OldJTI into Next.
// ExpectedFamilyID and PresentedHash are optional extra bindings.
type RotationRequest struct {
	OldJTI           string
	UserID           int64
	Device           DeviceInfo
	ExpectedFamilyID string
	PresentedHash    string
	Next             RefreshTokenParams
}

// TokensPair : signed access and refresh tokens plus the metadata the stores need
type TokensPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessJTI        string    `json:"-"`
	RefreshJTI       string    `json:"-"`
	RefreshTokenHash string    `json:"-"`
	FamilyID         string    `json:"-"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type UserTokenStats struct {
	UserID       int64      `db:"user_id" json:"user_id"`
	Total        int64      `db:"total" json:"total"`
	Active       int64      `db:"active" json:"active"`
	Revoked      int64      `db:"revoked" json:"revoked"`
	Expired      int64      `db:"expired" json:"expired"`
	Devices      int64      `db:"devices" json:"devices"`
	LastUsedAt   *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
	LastIssuedAt *time.Time `db:"last_issued_at" json:"last_issued_at,omitempty"`
}

type SystemTokenStats struct {
	Total         int64 `db:"total" json:"total"`
	Active        int64 `db:"active" json:"active"`
	Revoked       int64 `db:"revoked" json:"revoked"`
	Expired       int64 `db:"expired" json:"expired"`
	UniqueUsers   int64 `db:"unique_users" json:"unique_users"`
	UniqueDevices int64 `db:"unique_devices" json:"unique_devices"`
	Families      int64 `db:"families" json:"families"`
}
