package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Metadata : opaque key/value bag stored as JSON next to a blacklist entry
type Metadata map[string]any

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *Metadata) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("metadata: unsupported type %T", src)
	}
	if len(raw) == 0 {
		*m = Metadata{}
		return nil
	}
	return json.Unmarshal(raw, m)
}

// TokenBlacklistEntry : one revoked token. While the row exists the token is rejected,
// regardless of its own signature or expiry.
type TokenBlacklistEntry struct {
	JTI           string    `db:"jti" json:"jti"`
	TokenType     TokenType `db:"token_type" json:"token_type"`
	UserID        *int64    `db:"user_id" json:"user_id,omitempty"`
	DeviceID      *string   `db:"device_id" json:"device_id,omitempty"`
	ExpiresAt     time.Time `db:"expires_at" json:"expires_at"`
	BlacklistedAt time.Time `db:"blacklisted_at" json:"blacklisted_at"`
	Reason        string    `db:"reason" json:"reason"`
	Metadata      Metadata  `db:"metadata" json:"metadata"`
}

// NewBlacklistEntry builds an entry; the repository stamps BlacklistedAt.
func NewBlacklistEntry(jti string, tokenType TokenType, expiresAt time.Time, reason RevocationReason) TokenBlacklistEntry {
	return TokenBlacklistEntry{
		JTI:       jti,
		TokenType: tokenType,
		ExpiresAt: expiresAt,
		Reason:    string(reason),
		Metadata:  Metadata{},
	}
}

func (e TokenBlacklistEntry) WithUser(userID int64) TokenBlacklistEntry {
	e.UserID = &userID
	return e
}

func (e TokenBlacklistEntry) WithDevice(deviceID string) TokenBlacklistEntry {
	if deviceID == "" {
		return e
	}
	e.DeviceID = &deviceID
	return e
}

// IsStale : past the original token expiry the entry protects nothing.
func (e TokenBlacklistEntry) IsStale(now time.Time) bool {
	return e.ExpiresAt.Before(now)
}

// BlacklistSearchCriteria : every non-nil field narrows the search
type BlacklistSearchCriteria struct {
	UserID            *int64
	DeviceID          *string
	TokenType         *TokenType
	Reason            *string
	BlacklistedAfter  *time.Time
	BlacklistedBefore *time.Time
	IncludeExpired    bool
}

type BlacklistSizeInfo struct {
	TotalEntries   int64      `db:"total_entries" json:"total_entries"`
	ExpiredEntries int64      `db:"expired_entries" json:"expired_entries"`
	AccessEntries  int64      `db:"access_entries" json:"access_entries"`
	RefreshEntries int64      `db:"refresh_entries" json:"refresh_entries"`
	OldestEntry    *time.Time `db:"oldest_entry" json:"oldest_entry,omitempty"`
	MaxEntries     int64      `db:"-" json:"max_entries"`
	Exceeded       bool       `db:"-" json:"exceeded"`
}

type OptimizeResult struct {
	ExpiredRemoved int64 `json:"expired_removed"`
	OldRemoved     int64 `json:"old_removed"`
	Compacted      bool  `json:"compacted"`
	SizeAfter      int64 `json:"size_after"`
}
