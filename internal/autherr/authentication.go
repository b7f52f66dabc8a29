package autherr

import (
	"errors"
	"slices"
)

type AuthReason string

const (
	AuthInvalidCredentials      AuthReason = "invalid_credentials"
	AuthAccountLocked           AuthReason = "account_locked"
	AuthAccountDisabled         AuthReason = "account_disabled"
	AuthAccountNotVerified      AuthReason = "account_not_verified"
	AuthTooManyAttempts         AuthReason = "too_many_attempts"
	AuthTokenMissing            AuthReason = "token_missing"
	AuthTokenInvalid            AuthReason = "token_invalid"
	AuthSessionExpired          AuthReason = "session_expired"
	AuthTwoFactorRequired       AuthReason = "two_factor_required"
	AuthInsufficientPermissions AuthReason = "insufficient_permissions"
	AuthSuspiciousActivity      AuthReason = "suspicious_activity"
)

var authMessages = map[AuthReason]string{
	AuthInvalidCredentials:      "invalid credentials supplied",
	AuthAccountLocked:           "account is locked",
	AuthAccountDisabled:         "account is disabled",
	AuthAccountNotVerified:      "account is not verified",
	AuthTooManyAttempts:         "too many authentication attempts",
	AuthTokenMissing:            "authentication token missing",
	AuthTokenInvalid:            "authentication token invalid",
	AuthSessionExpired:          "session expired",
	AuthTwoFactorRequired:       "second factor required",
	AuthInsufficientPermissions: "insufficient permissions",
	AuthSuspiciousActivity:      "suspicious activity detected",
}

// AuthenticationError : login-time failure
type AuthenticationError struct {
	baseError
	reason AuthReason
}

func NewAuthenticationError(reason AuthReason, ctx ErrorContext, cause error) *AuthenticationError {
	return &AuthenticationError{
		baseError: newBase(pick(authMessages[reason], "authentication failed"), ctx, cause),
		reason:    reason,
	}
}

func (e *AuthenticationError) WithMessage(message string) *AuthenticationError {
	e.message = message
	return e
}

func (e *AuthenticationError) Error() string {
	return e.format("authentication failed", string(e.reason))
}

func (e *AuthenticationError) Reason() AuthReason { return e.reason }
func (e *AuthenticationError) Code() string       { return string(e.reason) }

func (e *AuthenticationError) IsAccountRelated() bool {
	return slices.Contains([]AuthReason{AuthAccountLocked, AuthAccountDisabled, AuthAccountNotVerified}, e.reason)
}

func (e *AuthenticationError) IsCredentialsRelated() bool {
	return slices.Contains([]AuthReason{AuthInvalidCredentials, AuthTwoFactorRequired}, e.reason)
}

func (e *AuthenticationError) IsTokenRelated() bool {
	return slices.Contains([]AuthReason{AuthTokenMissing, AuthTokenInvalid, AuthSessionExpired}, e.reason)
}

func (e *AuthenticationError) IsSecurityRelated() bool {
	return slices.Contains([]AuthReason{AuthTooManyAttempts, AuthSuspiciousActivity, AuthAccountLocked}, e.reason)
}

func (e *AuthenticationError) IsRetryable() bool {
	return slices.Contains([]AuthReason{AuthInvalidCredentials, AuthTokenMissing, AuthSessionExpired, AuthTwoFactorRequired}, e.reason)
}

func (e *AuthenticationError) RequiresAccountAction() bool {
	return e.IsAccountRelated()
}

// UserFriendlyMessage never names the exact reason, so an attacker cannot tell
// a wrong password from a locked account.
func (e *AuthenticationError) UserFriendlyMessage() string {
	switch {
	case e.RequiresAccountAction():
		return "Your account needs attention before you can sign in. Please contact support."
	case e.IsTokenRelated():
		return "Your session has ended. Please sign in again."
	case e.reason == AuthTooManyAttempts:
		return "Too many attempts. Please wait a moment and try again."
	default:
		return "Sign in failed. Please check your details and try again."
	}
}

func IsAuthenticationReason(err error, reason AuthReason) bool {
	var target *AuthenticationError
	return errors.As(err, &target) && target.reason == reason
}
