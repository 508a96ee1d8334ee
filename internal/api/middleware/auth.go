package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/Togather-Foundation/safetynow/internal/api/problem"
	"github.com/Togather-Foundation/safetynow/internal/auth"
	"github.com/rs/zerolog"
)

// Authenticator turns a bearer token into the id of an existing user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (int64, error)
}

type contextKeyAuth string

const userIDKey contextKeyAuth = "userID"

// BearerAuth guards protected routes. Every credential failure (missing
// header, wrong scheme, bad signature, expired token, deleted user) produces
// the same 401. Lookup failures are 500 so clients keep their token.
func BearerAuth(authn Authenticator, env string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if authn == nil {
				problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Unauthorized", problem.ErrUnauthorized, env,
					problem.WithDetail("Could not validate credentials"))
				return
			}

			token, err := auth.TokenFromHeader(strings.TrimSpace(r.Header.Get("Authorization")))
			if err != nil {
				problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Unauthorized", err, env,
					problem.WithDetail("Not authenticated"))
				return
			}

			userID, err := authn.Authenticate(r.Context(), token)
			if err != nil && !errors.Is(err, auth.ErrInvalidToken) && !errors.Is(err, auth.ErrMissingToken) {
				problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, env)
				return
			}
			if err != nil {
				problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Unauthorized", err, env,
					problem.WithDetail("Could not validate credentials"))
				return
			}

			ctx := ContextWithUserID(r.Context(), userID)
			reqLogger := zerolog.Ctx(ctx).With().Int64("user_id", userID).Logger()
			ctx = reqLogger.WithContext(ctx)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func ContextWithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserID returns the authenticated user id placed by BearerAuth.
func UserID(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(userIDKey).(int64)
	return userID, ok && userID > 0
}
