package auth_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mfiguera/lexbot-be/internal/auth"
	"github.com/stretchr/testify/require"
)

func protectedEcho(t *testing.T, ts *auth.TokenService) http.Handler {
	t.Helper()
	return auth.Middleware(ts)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.ClaimsFromContext(r.Context())
		require.True(t, ok)
		w.Write([]byte(claims.Username))
	}))
}

func TestMiddlewareBearerHeader(t *testing.T) {
	ts := newTestService()
	token, err := ts.IssueAccessToken(testUser())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	protectedEcho(t, ts).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "alice", rec.Body.String())
}

func TestMiddlewareCookieFallback(t *testing.T) {
	ts := newTestService()
	token, err := ts.IssueAccessToken(testUser())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: auth.AccessCookieName, Value: token})
	rec := httptest.NewRecorder()
	protectedEcho(t, ts).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddlewareMissingToken(t *testing.T) {
	ts := newTestService()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	protectedEcho(t, ts).ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotContains(t, rec.Body.String(), "session expired")
}

func TestMiddlewareExpiredTokenSignalsSessionExpired(t *testing.T) {
	now := time.Now()
	ts := newTestService()
	ts.SetNowFunc(func() time.Time { return now })

	token, err := ts.IssueAccessToken(testUser())
	require.NoError(t, err)
	now = now.Add(2 * time.Hour)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	protectedEcho(t, ts).ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "session expired"))
}
