package security

import (
	"context"
	"errors"
	"go.uber.org/zap"
	"net/http"
	"strings"
	"token-keeper/internal/autherr"
	"token-keeper/internal/util"
)

type contextKey string

const (
	UserContextKey contextKey = "user"
)

type AccessTokenValidator interface {
	ValidateAccessToken(ctx context.Context, token string) (*Claims, error)
}

func JWTMiddleware(validator AccessTokenValidator, log *zap.SugaredLogger) func(handler http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(handleAuthentication(validator, log, next))
	}
}

func handleAuthentication(validator AccessTokenValidator, log *zap.SugaredLogger, next http.Handler) func(writer http.ResponseWriter, request *http.Request) {
	return func(writer http.ResponseWriter, request *http.Request) {
		authorizationHeader := request.Header.Get("Authorization")
		if !strings.HasPrefix(authorizationHeader, "Bearer ") {
			err := autherr.NewAuthenticationError(autherr.AuthTokenMissing, autherr.NewContext(), nil)
			util.HandleError(writer, err.UserFriendlyMessage(), http.StatusUnauthorized)
			return
		}

		token := strings.TrimPrefix(authorizationHeader, "Bearer ")

		claims, err := validator.ValidateAccessToken(request.Context(), token)
		if err != nil {
			fields := []any{"code", autherr.CodeOf(err), "error", err}
			var typed autherr.Error
			if errors.As(err, &typed) {
				fields = append(fields, typed.Context().Fields()...)
			}
			log.Infow("access token rejected", fields...)
			util.HandleError(writer, autherr.UserMessage(err), http.StatusUnauthorized)
			return
		}

		req := request.WithContext(context.WithValue(request.Context(), UserContextKey, claims))
		next.ServeHTTP(writer, req)
	}
}

func ClaimsFromContext(ctx context.Context) (*Claims, error) {
	claims, ok := ctx.Value(UserContextKey).(*Claims)
	if !ok || claims == nil {
		return nil, autherr.NewAuthenticationError(autherr.AuthTokenMissing, autherr.NewContext(), nil).
			WithMessage("no authenticated user in request context")
	}
	return claims, nil
}
