// Package autherr holds the typed, reason-coded failures of token issuing,
// validation and storage. Reason codes and context are meant for logs and
// telemetry; clients only ever see UserFriendlyMessage.
package autherr

import (
	"errors"
	"fmt"
	"github.com/google/uuid"
	"maps"
)

const genericMessage = "Something went wrong while verifying your session. Please try again."

// ErrorContext : fixed identifiers plus an open diagnostics bag. Never put secrets here.
type ErrorContext struct {
	CorrelationID string
	UserID        int64
	JTI           string
	DeviceID      string
	TokenType     string
	Diagnostics   map[string]any
}

// NewContext returns a context with a fresh correlation id.
func NewContext() ErrorContext {
	return ErrorContext{CorrelationID: uuid.NewString()}
}

func (c ErrorContext) WithUser(userID int64) ErrorContext {
	c.UserID = userID
	return c
}

func (c ErrorContext) WithJTI(jti string) ErrorContext {
	c.JTI = jti
	return c
}

func (c ErrorContext) WithDevice(deviceID string) ErrorContext {
	c.DeviceID = deviceID
	return c
}

func (c ErrorContext) WithTokenType(tokenType string) ErrorContext {
	c.TokenType = tokenType
	return c
}

// With copies the diagnostics bag before adding to it.
func (c ErrorContext) With(key string, value any) ErrorContext {
	diagnostics := make(map[string]any, len(c.Diagnostics)+1)
	maps.Copy(diagnostics, c.Diagnostics)
	diagnostics[key] = value
	c.Diagnostics = diagnostics
	return c
}

// Fields flattens the context into zap-style key/value pairs.
func (c ErrorContext) Fields() []any {
	fields := []any{"correlation_id", c.CorrelationID}
	if c.UserID != 0 {
		fields = append(fields, "user_id", c.UserID)
	}
	if c.JTI != "" {
		fields = append(fields, "jti", c.JTI)
	}
	if c.DeviceID != "" {
		fields = append(fields, "device_id", c.DeviceID)
	}
	if c.TokenType != "" {
		fields = append(fields, "token_type", c.TokenType)
	}
	for key, value := range c.Diagnostics {
		fields = append(fields, key, value)
	}
	return fields
}

// Error is implemented by every failure in this package.
type Error interface {
	error
	Code() string
	Context() ErrorContext
	UserFriendlyMessage() string
}

type baseError struct {
	message string
	ctx     ErrorContext
	cause   error
}

func newBase(message string, ctx ErrorContext, cause error) baseError {
	if ctx.CorrelationID == "" {
		ctx.CorrelationID = uuid.NewString()
	}
	return baseError{message: message, ctx: ctx, cause: cause}
}

func (b baseError) Message() string {
	return b.message
}

func (b baseError) Context() ErrorContext {
	return b.ctx
}

func (b baseError) Unwrap() error {
	return b.cause
}

func (b baseError) format(kind, code string) string {
	if b.cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", kind, code, b.message, b.cause)
	}
	return fmt.Sprintf("%s (%s): %s", kind, code, b.message)
}

// UserMessage returns the safe message for any error, typed or not.
func UserMessage(err error) string {
	var typed Error
	if errors.As(err, &typed) {
		return typed.UserFriendlyMessage()
	}
	return genericMessage
}

// CodeOf returns the reason code of a typed error, or "unknown".
func CodeOf(err error) string {
	var typed Error
	if errors.As(err, &typed) {
		return typed.Code()
	}
	return "unknown"
}

func pick(message, fallback string) string {
	if message != "" {
		return message
	}
	return fallback
}
