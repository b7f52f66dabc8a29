package autherr

import "errors"

type GenerationReason string

const (
	GenerationKeyInvalid           GenerationReason = "key_invalid"
	GenerationKeyMissing           GenerationReason = "key_missing"
	GenerationPayloadInvalid       GenerationReason = "payload_invalid"
	GenerationAlgorithmUnsupported GenerationReason = "algorithm_unsupported"
	GenerationClaimsInvalid        GenerationReason = "claims_invalid"
	GenerationSignatureFailed      GenerationReason = "signature_failed"
	GenerationResourceExhausted    GenerationReason = "resource_exhausted"
	GenerationEncodingFailed       GenerationReason = "encoding_failed"
)

var generationMessages = map[GenerationReason]string{
	GenerationKeyInvalid:           "signing key is invalid",
	GenerationKeyMissing:           "signing key is missing",
	GenerationPayloadInvalid:       "token payload is invalid",
	GenerationAlgorithmUnsupported: "signing algorithm is not supported",
	GenerationClaimsInvalid:        "token claims could not be built",
	GenerationSignatureFailed:      "token could not be signed",
	GenerationResourceExhausted:    "not enough resources to generate a token",
	GenerationEncodingFailed:       "token could not be encoded",
}

// TokenGenerationError : signing-time failure
type TokenGenerationError struct {
	baseError
	reason GenerationReason
}

func NewTokenGenerationError(reason GenerationReason, ctx ErrorContext, cause error) *TokenGenerationError {
	return &TokenGenerationError{
		baseError: newBase(pick(generationMessages[reason], "token generation failed"), ctx, cause),
		reason:    reason,
	}
}

func (e *TokenGenerationError) WithMessage(message string) *TokenGenerationError {
	e.message = message
	return e
}

func (e *TokenGenerationError) Error() string {
	return e.format("token generation failed", string(e.reason))
}

func (e *TokenGenerationError) Reason() GenerationReason { return e.reason }
func (e *TokenGenerationError) Code() string             { return string(e.reason) }

// IsRetryable : transient resource or encoding trouble, one retry is reasonable.
func (e *TokenGenerationError) IsRetryable() bool {
	return e.reason == GenerationResourceExhausted || e.reason == GenerationEncodingFailed
}

// IsSystemConfigurationError : retrying will not help until an operator fixes keys or config.
func (e *TokenGenerationError) IsSystemConfigurationError() bool {
	switch e.reason {
	case GenerationKeyInvalid, GenerationKeyMissing, GenerationAlgorithmUnsupported:
		return true
	}
	return false
}

func (e *TokenGenerationError) IsDataRelated() bool {
	return e.reason == GenerationPayloadInvalid || e.reason == GenerationClaimsInvalid
}

func (e *TokenGenerationError) UserFriendlyMessage() string {
	if e.IsRetryable() {
		return "We could not sign you in right now. Please try again."
	}
	return "We could not sign you in. Please try again later."
}

func IsGenerationReason(err error, reason GenerationReason) bool {
	var target *TokenGenerationError
	return errors.As(err, &target) && target.reason == reason
}
