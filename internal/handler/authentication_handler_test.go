package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"token-keeper/internal/autherr"
	"token-keeper/internal/handler"
	"token-keeper/internal/model"
	"token-keeper/internal/security"
)

type MockSessionService struct {
	mock.Mock
}

func (m *MockSessionService) RefreshTokens(ctx context.Context, refreshToken string, device model.DeviceInfo) (*model.TokensPair, error) {
	args := m.Called(ctx, refreshToken, device)
	if pair, ok := args.Get(0).(*model.TokensPair); ok {
		return pair, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSessionService) Logout(ctx context.Context, accessToken string) error {
	args := m.Called(ctx, accessToken)
	return args.Error(0)
}

func (m *MockSessionService) LogoutEverywhere(ctx context.Context, userID int64, exceptJTI string) (int64, error) {
	args := m.Called(ctx, userID, exceptJTI)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockSessionService) LogoutDevice(ctx context.Context, userID int64, deviceID string) (int64, error) {
	args := m.Called(ctx, userID, deviceID)
	return args.Get(0).(int64), args.Error(1)
}

// validatorStub accepts "valid-access" only.
type validatorStub struct{}

func (validatorStub) ValidateAccessToken(_ context.Context, token string) (*security.Claims, error) {
	if token != "valid-access" {
		return nil, autherr.NewInvalidTokenError(autherr.TokenMalformed, autherr.NewContext(), nil)
	}
	return &security.Claims{
		UserID:     7,
		TokenType:  model.TokenTypeAccess,
		RefreshJTI: "ref-1",
		FamilyID:   "family-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ID:      "acc-1",
			Subject: "7",
		},
	}, nil
}

func newRouter(t *testing.T) (http.Handler, *MockSessionService) {
	sessions := new(MockSessionService)
	t.Cleanup(func() { sessions.AssertExpectations(t) })

	h := handler.NewAuthenticationHandler(sessions, zaptest.NewLogger(t).Sugar())
	router := chi.NewRouter()
	router.Mount("/api/auth", h.Routes(validatorStub{}))
	return router, sessions
}

func serve(router http.Handler, method, target, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.RemoteAddr = "10.0.0.1:52375"
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("X-Device-ID", "device-1")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRefreshTokenEndpoint(t *testing.T) {
	router, sessions := newRouter(t)
	pair := &model.TokensPair{
		AccessToken:      "new-access",
		RefreshToken:     "new-refresh",
		RefreshJTI:       "ref-2",
		AccessExpiresAt:  time.Date(2025, 6, 1, 12, 15, 0, 0, time.UTC),
		RefreshExpiresAt: time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC),
	}

	sessions.On("RefreshTokens", mock.Anything, "old-refresh", mock.MatchedBy(func(device model.DeviceInfo) bool {
		return device.DeviceID == "device-1" && device.IPAddress == "10.0.0.1" && device.UserAgent == "Mozilla/5.0"
	})).Return(pair, nil)

	rec := serve(router, http.MethodPost, "/api/auth/refresh", `{"refresh_token":"old-refresh"}`, "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "new-access", body["response"]["access_token"])
	assert.Equal(t, "new-refresh", body["response"]["refresh_token"])
	assert.NotContains(t, body["response"], "RefreshJTI")
}

func TestRefreshTokenEndpointErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{
			name:       "reuse",
			err:        autherr.NewRefreshTokenError(autherr.RefreshAlreadyUsed, autherr.NewContext(), nil),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "expired",
			err:        autherr.NewRefreshTokenExpired(time.Now().Add(-time.Hour), time.Now()),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "concurrent rotation",
			err:        autherr.NewRefreshTokenError(autherr.RefreshRotationFailed, autherr.NewContext(), nil),
			wantStatus: http.StatusConflict,
		},
		{
			name:       "storage",
			err:        autherr.NewRefreshTokenError(autherr.RefreshStorageFailed, autherr.NewContext(), errors.New("db down")),
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "unknown",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, sessions := newRouter(t)
			sessions.On("RefreshTokens", mock.Anything, "old-refresh", mock.Anything).Return(nil, tt.err)

			rec := serve(router, http.MethodPost, "/api/auth/refresh", `{"refresh_token":"old-refresh"}`, "")

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.NotContains(t, rec.Body.String(), "db down")
		})
	}
}

func TestRefreshTokenEndpointRejectsBadBody(t *testing.T) {
	router, _ := newRouter(t)

	for _, body := range []string{`not json`, `{}`, `{"refresh_token":""}`} {
		rec := serve(router, http.MethodPost, "/api/auth/refresh", body, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestCurrentUserEndpoint(t *testing.T) {
	router, _ := newRouter(t)

	rec := serve(router, http.MethodGet, "/api/auth/me", "", "valid-access")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"response":{"user_id":7,"family_id":"family-1"}}`, rec.Body.String())

	rec = serve(router, http.MethodHead, "/api/auth/me", "", "valid-access")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = serve(router, http.MethodGet, "/api/auth/me", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(router, http.MethodGet, "/api/auth/me", "", "forged")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutEndpoint(t *testing.T) {
	router, sessions := newRouter(t)
	sessions.On("Logout", mock.Anything, "valid-access").Return(nil)

	rec := serve(router, http.MethodDelete, "/api/auth/session", "", "valid-access")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestLogoutEverywhereEndpoint(t *testing.T) {
	tests := []struct {
		name      string
		target    string
		exceptJTI string
	}{
		{name: "all sessions", target: "/api/auth/logout-all", exceptJTI: ""},
		{name: "keep current", target: "/api/auth/logout-all?keep_current=true", exceptJTI: "ref-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, sessions := newRouter(t)
			sessions.On("LogoutEverywhere", mock.Anything, int64(7), tt.exceptJTI).Return(int64(4), nil)

			rec := serve(router, http.MethodPost, tt.target, "", "valid-access")

			require.Equal(t, http.StatusOK, rec.Code)
			assert.JSONEq(t, `{"response":{"revoked":4}}`, rec.Body.String())
		})
	}
}

func TestLogoutDeviceEndpoint(t *testing.T) {
	router, sessions := newRouter(t)
	sessions.On("LogoutDevice", mock.Anything, int64(7), "tablet-3").Return(int64(2), nil)

	rec := serve(router, http.MethodDelete, "/api/auth/devices/tablet-3", "", "valid-access")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"response":{"revoked":2}}`, rec.Body.String())
}

func TestDeviceFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[::1]:52375"
	req.Header.Set("User-Agent", "PostmanRuntime/7.44.1")
	req.Header.Set("X-Device-ID", " phone-1 ")
	req.Header.Set("Sec-CH-UA-Platform", `"Android"`)

	device := handler.DeviceFromRequest(req)

	assert.Equal(t, "phone-1", device.DeviceID)
	assert.Equal(t, "::1", device.IPAddress)
	assert.Equal(t, "android", device.Platform)
	assert.Equal(t, "PostmanRuntime/7.44.1", device.UserAgent)
}
