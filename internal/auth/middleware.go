package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// AccessCookieName is the cookie carrying the access token.
const AccessCookieName = "access_token"

// RefreshCookieName is the cookie carrying the refresh token.
const RefreshCookieName = "refresh_token"

type contextKey string

const userClaimsKey = contextKey("userClaims")

// ClaimsFromContext returns the claims attached by Middleware, if any.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(userClaimsKey).(*Claims)
	return claims, ok
}

// TokenFromRequest locates a candidate access token: the Authorization
// Bearer header first, then the access cookie.
func TokenFromRequest(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, "Bearer ", 2)
		if len(parts) == 2 && parts[1] != "" {
			return parts[1]
		}
	}
	if cookie, err := r.Cookie(AccessCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// Middleware creates a middleware for protecting routes. Requests without a
// token are rejected outright; requests whose token fails verification get a
// distinct "session expired" body so clients know to attempt a refresh.
func Middleware(ts *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := TokenFromRequest(r)
			if tokenStr == "" {
				http.Error(w, "Missing auth token", http.StatusUnauthorized)
				return
			}

			claims, err := ts.Verify(tokenStr, AccessToken)
			if err != nil {
				log.Debug().Err(err).Str("path", r.URL.Path).Msg("Rejected request token")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"status": "session expired"})
				return
			}

			ctx := context.WithValue(r.Context(), userClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
