package model_test

import (
	"github.com/stretchr/testify/assert"
	"strings"
	"testing"
	"token-keeper/internal/model"
	"unicode/utf8"
)

func TestNewDeviceInfoBoundsFields(t *testing.T) {
	tests := []struct {
		name      string
		userAgent string
		wantLen   int
	}{
		{name: "short value kept", userAgent: "  Mozilla/5.0  ", wantLen: len("Mozilla/5.0")},
		{name: "ascii cut at limit", userAgent: strings.Repeat("a", 400), wantLen: 255},
		{name: "two byte runes not split", userAgent: strings.Repeat("é", 200), wantLen: 254},
		{name: "four byte runes not split", userAgent: strings.Repeat("🔑", 100), wantLen: 252},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			device := model.NewDeviceInfo("device-1", tt.userAgent, "10.0.0.1", tt.userAgent, "Linux", "")

			assert.Len(t, device.UserAgent, tt.wantLen)
			assert.True(t, utf8.ValidString(device.UserAgent))
			assert.True(t, utf8.ValidString(device.DeviceName))
			assert.Equal(t, "linux", device.Platform)
		})
	}
}

func TestDeviceInfoMatches(t *testing.T) {
	bound := model.NewDeviceInfo("device-1", "Laptop", "10.0.0.1", "Mozilla/5.0", "linux", "Firefox")

	assert.True(t, bound.Matches(model.NewDeviceInfo("device-1", "", "192.168.1.9", "curl/8.0", "", "")))
	assert.False(t, bound.Matches(model.NewDeviceInfo("device-2", "Laptop", "10.0.0.1", "Mozilla/5.0", "linux", "Firefox")))

	byAgent := model.NewDeviceInfo("", "", "10.0.0.1", "Mozilla/5.0", "", "")
	assert.True(t, byAgent.Matches(model.NewDeviceInfo("", "", "10.0.0.2", "Mozilla/5.0", "", "")))
	assert.False(t, byAgent.Matches(model.NewDeviceInfo("", "", "10.0.0.1", "curl/8.0", "", "")))

	assert.True(t, model.DeviceInfo{}.Matches(bound))
	assert.True(t, model.DeviceInfo{}.IsZero())
}
