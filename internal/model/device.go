package model

import (
	"strings"
	"unicode/utf8"
)

const maxDeviceFieldLength = 255

// DeviceInfo : describes where a request came from. Built once per request and
// passed by value, so a token's recorded device cannot be mutated after binding.
type DeviceInfo struct {
	DeviceID   string `db:"device_id" json:"device_id"`
	DeviceName string `db:"device_name" json:"device_name"`
	IPAddress  string `db:"ip_address" json:"ip_address"`
	UserAgent  string `db:"user_agent" json:"user_agent"`
	Platform   string `db:"platform" json:"platform"`
	Browser    string `db:"browser" json:"browser"`
}

// NewDeviceInfo trims and bounds every field.
func NewDeviceInfo(deviceID, deviceName, ipAddress, userAgent, platform, browser string) DeviceInfo {
	return DeviceInfo{
		DeviceID:   normalizeDeviceField(deviceID),
		DeviceName: normalizeDeviceField(deviceName),
		IPAddress:  normalizeDeviceField(ipAddress),
		UserAgent:  normalizeDeviceField(userAgent),
		Platform:   strings.ToLower(normalizeDeviceField(platform)),
		Browser:    normalizeDeviceField(browser),
	}
}

// Matches reports whether the presented device is the one the token was bound to.
// The device id is authoritative when recorded; otherwise the user agent is compared.
// IP changes alone never count as a mismatch.
func (d DeviceInfo) Matches(presented DeviceInfo) bool {
	if d.DeviceID != "" {
		return d.DeviceID == presented.DeviceID
	}
	if d.UserAgent != "" {
		return d.UserAgent == presented.UserAgent
	}
	return true
}

func (d DeviceInfo) IsZero() bool {
	return d == DeviceInfo{}
}

func normalizeDeviceField(value string) string {
	value = strings.TrimSpace(value)
	if len(value) <= maxDeviceFieldLength {
		return value
	}
	// cut on a rune boundary, postgres rejects a split multi-byte sequence
	cut := maxDeviceFieldLength
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}
