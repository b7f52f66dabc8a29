package autherr

import (
	"errors"
	"slices"
)

type InvalidTokenReason string

const (
	TokenMalformed         InvalidTokenReason = "malformed"
	TokenSignatureInvalid  InvalidTokenReason = "signature_invalid"
	TokenAlgorithmMismatch InvalidTokenReason = "algorithm_mismatch"
	TokenIssuerInvalid     InvalidTokenReason = "issuer_invalid"
	TokenAudienceInvalid   InvalidTokenReason = "audience_invalid"
	TokenSubjectMissing    InvalidTokenReason = "subject_missing"
	TokenClaimsInvalid     InvalidTokenReason = "claims_invalid"
	TokenBlacklisted       InvalidTokenReason = "blacklisted"
	TokenNotBefore         InvalidTokenReason = "not_before"
	TokenTypeMismatch      InvalidTokenReason = "token_type_mismatch"
)

var invalidTokenMessages = map[InvalidTokenReason]string{
	TokenMalformed:         "token is malformed",
	TokenSignatureInvalid:  "token signature is invalid",
	TokenAlgorithmMismatch: "token signing algorithm is not accepted",
	TokenIssuerInvalid:     "token issuer is invalid",
	TokenAudienceInvalid:   "token audience is invalid",
	TokenSubjectMissing:    "token subject is missing",
	TokenClaimsInvalid:     "token claims are invalid",
	TokenBlacklisted:       "token has been revoked",
	TokenNotBefore:         "token is not valid yet",
	TokenTypeMismatch:      "token type is not accepted here",
}

// InvalidTokenError : structurally or cryptographically bad token
type InvalidTokenError struct {
	baseError
	reason InvalidTokenReason
}

func NewInvalidTokenError(reason InvalidTokenReason, ctx ErrorContext, cause error) *InvalidTokenError {
	return &InvalidTokenError{
		baseError: newBase(pick(invalidTokenMessages[reason], "token is invalid"), ctx, cause),
		reason:    reason,
	}
}

func (e *InvalidTokenError) WithMessage(message string) *InvalidTokenError {
	e.message = message
	return e
}

func (e *InvalidTokenError) Error() string {
	return e.format("invalid token", string(e.reason))
}

func (e *InvalidTokenError) Reason() InvalidTokenReason { return e.reason }
func (e *InvalidTokenError) Code() string               { return string(e.reason) }

func (e *InvalidTokenError) IsSignatureRelated() bool {
	return e.reason == TokenSignatureInvalid || e.reason == TokenAlgorithmMismatch
}

func (e *InvalidTokenError) IsFormatRelated() bool {
	return e.reason == TokenMalformed
}

func (e *InvalidTokenError) IsClaimsRelated() bool {
	return slices.Contains([]InvalidTokenReason{
		TokenIssuerInvalid, TokenAudienceInvalid, TokenSubjectMissing,
		TokenClaimsInvalid, TokenNotBefore, TokenTypeMismatch,
	}, e.reason)
}

func (e *InvalidTokenError) UserFriendlyMessage() string {
	return "Your session is not valid. Please sign in again."
}

func IsInvalidTokenReason(err error, reason InvalidTokenReason) bool {
	var target *InvalidTokenError
	return errors.As(err, &target) && target.reason == reason
}
