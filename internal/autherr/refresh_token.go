package autherr

import (
	"errors"
	"slices"
)

type RefreshReason string

const (
	RefreshNotFound       RefreshReason = "not_found"
	RefreshRevoked        RefreshReason = "revoked"
	RefreshAlreadyUsed    RefreshReason = "already_used"
	RefreshDeviceMismatch RefreshReason = "device_mismatch"
	RefreshUserMismatch   RefreshReason = "user_mismatch"
	RefreshStorageFailed  RefreshReason = "storage_failed"
	RefreshDeletionFailed RefreshReason = "deletion_failed"
	RefreshRotationFailed RefreshReason = "rotation_failed"
	RefreshLimitExceeded  RefreshReason = "limit_exceeded"
	RefreshFamilyMismatch RefreshReason = "family_mismatch"
)

var refreshMessages = map[RefreshReason]string{
	RefreshNotFound:       "refresh token not found",
	RefreshRevoked:        "refresh token has been revoked",
	RefreshAlreadyUsed:    "refresh token was already used, token family revoked",
	RefreshDeviceMismatch: "refresh token presented from a different device",
	RefreshUserMismatch:   "refresh token belongs to another user",
	RefreshStorageFailed:  "refresh token storage failed",
	RefreshDeletionFailed: "refresh token deletion failed",
	RefreshRotationFailed: "refresh token rotation failed",
	RefreshLimitExceeded:  "active refresh token limit exceeded",
	RefreshFamilyMismatch: "refresh token does not belong to the presented family",
}

// RefreshTokenError : refresh token store failure
type RefreshTokenError struct {
	baseError
	reason RefreshReason
}

func NewRefreshTokenError(reason RefreshReason, ctx ErrorContext, cause error) *RefreshTokenError {
	return &RefreshTokenError{
		baseError: newBase(pick(refreshMessages[reason], "refresh token failure"), ctx, cause),
		reason:    reason,
	}
}

func (e *RefreshTokenError) WithMessage(message string) *RefreshTokenError {
	e.message = message
	return e
}

func (e *RefreshTokenError) Error() string {
	return e.format("refresh token error", string(e.reason))
}

func (e *RefreshTokenError) Reason() RefreshReason { return e.reason }
func (e *RefreshTokenError) Code() string          { return string(e.reason) }

// IsSecurityRelated : possible theft or tampering, monitored separately from routine failures.
func (e *RefreshTokenError) IsSecurityRelated() bool {
	return slices.Contains([]RefreshReason{
		RefreshAlreadyUsed, RefreshDeviceMismatch, RefreshUserMismatch, RefreshFamilyMismatch,
	}, e.reason)
}

func (e *RefreshTokenError) IsDatabaseRelated() bool {
	return e.reason == RefreshStorageFailed || e.reason == RefreshDeletionFailed
}

func (e *RefreshTokenError) IsRetryable() bool {
	return e.IsDatabaseRelated()
}

func (e *RefreshTokenError) RequiresReauth() bool {
	return e.reason == RefreshNotFound || e.reason == RefreshRevoked || e.IsSecurityRelated()
}

func (e *RefreshTokenError) UserFriendlyMessage() string {
	switch {
	case e.RequiresReauth():
		return "Your session has ended. Please sign in again."
	case e.reason == RefreshLimitExceeded:
		return "You are signed in on too many devices. Sign out elsewhere and try again."
	default:
		return "We could not refresh your session. Please try again."
	}
}

func IsRefreshReason(err error, reason RefreshReason) bool {
	var target *RefreshTokenError
	return errors.As(err, &target) && target.reason == reason
}
