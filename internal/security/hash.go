package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
	"token-keeper/internal/model"
)

// HashToken : SHA-256 hex of the signed token, the only form a refresh token is stored in
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func HashesEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// DeviceFingerprint condenses the stable parts of a device. IP address is not part of it.
func DeviceFingerprint(device model.DeviceInfo) string {
	if device.IsZero() {
		return ""
	}
	raw := strings.Join([]string{device.DeviceID, device.UserAgent, device.Platform, device.Browser}, "|")
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:16])
}
