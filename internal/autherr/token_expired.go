package autherr

import (
	"errors"
	"fmt"
	"time"
	"token-keeper/internal/model"
)

// TokenExpiredError : the token was fine but its exp has passed
type TokenExpiredError struct {
	baseError
	tokenType   model.TokenType
	expiredAt   time.Time
	currentTime time.Time
}

func NewAccessTokenExpired(expiredAt, currentTime time.Time) *TokenExpiredError {
	return newTokenExpired(model.TokenTypeAccess, expiredAt, currentTime, NewContext())
}

func NewRefreshTokenExpired(expiredAt, currentTime time.Time) *TokenExpiredError {
	return newTokenExpired(model.TokenTypeRefresh, expiredAt, currentTime, NewContext())
}

// NewTokenExpiredError is the general form used when a context is already at hand.
func NewTokenExpiredError(tokenType model.TokenType, expiredAt, currentTime time.Time, ctx ErrorContext) *TokenExpiredError {
	return newTokenExpired(tokenType, expiredAt, currentTime, ctx)
}

func newTokenExpired(tokenType model.TokenType, expiredAt, currentTime time.Time, ctx ErrorContext) *TokenExpiredError {
	e := &TokenExpiredError{
		tokenType:   tokenType,
		expiredAt:   expiredAt,
		currentTime: currentTime,
	}
	ctx = ctx.WithTokenType(string(tokenType)).With("expired_at", expiredAt.UTC().Format(time.RFC3339))
	e.baseError = newBase(fmt.Sprintf("%s expired %s", tokenLabel(tokenType), e.ElapsedText()), ctx, nil)
	return e
}

func (e *TokenExpiredError) Error() string {
	return e.format("token expired", e.Code())
}

func (e *TokenExpiredError) Code() string               { return "expired" }
func (e *TokenExpiredError) TokenType() model.TokenType { return e.tokenType }
func (e *TokenExpiredError) ExpiredAt() time.Time       { return e.expiredAt }
func (e *TokenExpiredError) IsRefreshToken() bool       { return e.tokenType == model.TokenTypeRefresh }

// ExpiredDuration is how long ago the token expired, never negative.
func (e *TokenExpiredError) ExpiredDuration() time.Duration {
	elapsed := e.currentTime.Sub(e.expiredAt)
	if elapsed < 0 {
		return 0
	}
	return elapsed.Truncate(time.Second)
}

// ElapsedText renders ExpiredDuration as "10 minutes ago", "1 hour ago", "just now".
func (e *TokenExpiredError) ElapsedText() string {
	elapsed := e.ExpiredDuration()
	switch {
	case elapsed < time.Second:
		return "just now"
	case elapsed < time.Minute:
		return plural(int64(elapsed/time.Second), "second") + " ago"
	case elapsed < time.Hour:
		return plural(int64(elapsed/time.Minute), "minute") + " ago"
	case elapsed < 24*time.Hour:
		return plural(int64(elapsed/time.Hour), "hour") + " ago"
	default:
		return plural(int64(elapsed/(24*time.Hour)), "day") + " ago"
	}
}

func (e *TokenExpiredError) UserFriendlyMessage() string {
	if e.IsRefreshToken() {
		return "Your session has expired. Please sign in again."
	}
	return "Your session has expired. Please refresh and try again."
}

func IsTokenExpired(err error) bool {
	var target *TokenExpiredError
	return errors.As(err, &target)
}

func tokenLabel(tokenType model.TokenType) string {
	if tokenType == model.TokenTypeRefresh {
		return "Refresh token"
	}
	return "Access token"
}

func plural(n int64, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
