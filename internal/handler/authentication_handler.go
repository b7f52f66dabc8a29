package handler

import (
	"encoding/json"
	"errors"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"net"
	"net/http"
	"strings"
	"token-keeper/internal/autherr"
	"token-keeper/internal/model"
	"token-keeper/internal/ports"
	"token-keeper/internal/security"
	"token-keeper/internal/util"
)

const (
	deviceIDHeader   = "X-Device-ID"
	deviceNameHeader = "X-Device-Name"
	platformHeader   = "Sec-CH-UA-Platform"
)

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type TokensResponse struct {
	Response *model.TokensPair `json:"response"`
}

type CurrentUserResponse struct {
	Response struct {
		UserID   int64  `json:"user_id"`
		FamilyID string `json:"family_id,omitempty"`
	} `json:"response"`
}

type LogoutResponse struct {
	Response struct {
		Revoked int64 `json:"revoked"`
	} `json:"response"`
}

// AuthenticationHandler exposes session operations over HTTP. Credential checks
// happen elsewhere; this handler only deals with already issued tokens.
type AuthenticationHandler struct {
	sessions ports.SessionService
	log      *zap.SugaredLogger
}

func NewAuthenticationHandler(sessions ports.SessionService, log *zap.SugaredLogger) *AuthenticationHandler {
	return &AuthenticationHandler{sessions: sessions, log: log}
}

// Routes mounts the handler; every route except refresh requires a valid access token.
func (h *AuthenticationHandler) Routes(validator security.AccessTokenValidator) chi.Router {
	r := chi.NewRouter()
	r.Post("/refresh", h.RefreshToken)

	r.Group(func(r chi.Router) {
		r.Use(security.JWTMiddleware(validator, h.log))
		r.Get("/me", h.GetCurrentUser)
		r.Head("/me", h.GetCurrentUser)
		r.Delete("/session", h.Logout)
		r.Post("/logout-all", h.LogoutEverywhere)
		r.Delete("/devices/{device_id}", h.LogoutDevice)
	})
	return r
}

// RefreshToken : POST /refresh {"refresh_token": "..."}
func (h *AuthenticationHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		util.HandleError(w, "refresh_token is required", http.StatusBadRequest)
		return
	}

	pair, err := h.sessions.RefreshTokens(r.Context(), req.RefreshToken, DeviceFromRequest(r))
	if err != nil {
		h.handleServiceError(w, "refresh failed", err)
		return
	}

	writeJSON(w, http.StatusOK, TokensResponse{Response: pair})
}

func (h *AuthenticationHandler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	claims, err := security.ClaimsFromContext(r.Context())
	if err != nil {
		util.HandleError(w, autherr.UserMessage(err), http.StatusUnauthorized)
		return
	}

	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	var resp CurrentUserResponse
	resp.Response.UserID = claims.UserID
	resp.Response.FamilyID = claims.FamilyID
	writeJSON(w, http.StatusOK, resp)
}

// Logout : DELETE /session, ends the session of the presented access token.
func (h *AuthenticationHandler) Logout(w http.ResponseWriter, r *http.Request) {
	accessToken := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	if err := h.sessions.Logout(r.Context(), accessToken); err != nil {
		h.handleServiceError(w, "logout failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LogoutEverywhere : POST /logout-all?keep_current=true keeps the caller's own session.
func (h *AuthenticationHandler) LogoutEverywhere(w http.ResponseWriter, r *http.Request) {
	claims, err := security.ClaimsFromContext(r.Context())
	if err != nil {
		util.HandleError(w, autherr.UserMessage(err), http.StatusUnauthorized)
		return
	}

	exceptJTI := ""
	if r.URL.Query().Get("keep_current") == "true" {
		exceptJTI = claims.RefreshJTI
	}

	revoked, err := h.sessions.LogoutEverywhere(r.Context(), claims.UserID, exceptJTI)
	if err != nil {
		h.handleServiceError(w, "logout everywhere failed", err)
		return
	}

	var resp LogoutResponse
	resp.Response.Revoked = revoked
	writeJSON(w, http.StatusOK, resp)
}

func (h *AuthenticationHandler) LogoutDevice(w http.ResponseWriter, r *http.Request) {
	claims, err := security.ClaimsFromContext(r.Context())
	if err != nil {
		util.HandleError(w, autherr.UserMessage(err), http.StatusUnauthorized)
		return
	}

	deviceID := chi.URLParam(r, "device_id")
	if deviceID == "" {
		util.HandleError(w, "device id is required", http.StatusBadRequest)
		return
	}

	revoked, err := h.sessions.LogoutDevice(r.Context(), claims.UserID, deviceID)
	if err != nil {
		h.handleServiceError(w, "device logout failed", err)
		return
	}

	var resp LogoutResponse
	resp.Response.Revoked = revoked
	writeJSON(w, http.StatusOK, resp)
}

func (h *AuthenticationHandler) handleServiceError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Errorw(message, "code", autherr.CodeOf(err), "error", err)
	} else {
		h.log.Infow(message, "code", autherr.CodeOf(err), "error", err)
	}
	util.HandleError(w, autherr.UserMessage(err), status)
}

func statusFor(err error) int {
	var refreshErr *autherr.RefreshTokenError
	if errors.As(err, &refreshErr) {
		switch {
		case refreshErr.RequiresReauth():
			return http.StatusUnauthorized
		case refreshErr.Reason() == autherr.RefreshRotationFailed:
			return http.StatusConflict
		case refreshErr.Reason() == autherr.RefreshLimitExceeded:
			return http.StatusTooManyRequests
		default:
			return http.StatusInternalServerError
		}
	}

	var invalid *autherr.InvalidTokenError
	var expired *autherr.TokenExpiredError
	if errors.As(err, &invalid) || errors.As(err, &expired) {
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

// DeviceFromRequest builds the device the request claims to come from.
func DeviceFromRequest(r *http.Request) model.DeviceInfo {
	return model.NewDeviceInfo(
		r.Header.Get(deviceIDHeader),
		r.Header.Get(deviceNameHeader),
		clientIP(r),
		r.UserAgent(),
		strings.Trim(r.Header.Get(platformHeader), `"`),
		"",
	)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
