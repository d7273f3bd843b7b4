package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mfiguera/lexbot-be/internal/api"
	"github.com/mfiguera/lexbot-be/internal/auth"
	"github.com/mfiguera/lexbot-be/internal/config"
	"github.com/mfiguera/lexbot-be/internal/database"
	"github.com/mfiguera/lexbot-be/internal/filestore"
	"github.com/mfiguera/lexbot-be/internal/services"
	"github.com/stretchr/testify/require"
)

// stubAssistant satisfies AssistantServiceProvider without remote calls.
type stubAssistant struct {
	lastUserID     string
	lastPrompt     string
	lastUploadData []byte
	answer         services.Answer
	err            error
}

func (s *stubAssistant) Ask(_ context.Context, userID, prompt string, upload *services.Upload) (services.Answer, error) {
	s.lastUserID = userID
	s.lastPrompt = prompt
	if upload != nil {
		s.lastUploadData, _ = io.ReadAll(upload.Reader)
	}
	return s.answer, s.err
}

func (s *stubAssistant) AskStream(ctx context.Context, userID, prompt string, upload *services.Upload, _ func(string)) (services.Answer, error) {
	return s.Ask(ctx, userID, prompt, upload)
}

type fixture struct {
	server    *httptest.Server
	client    *http.Client
	assistant *stubAssistant
	files     *filestore.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := database.New(":memory:")
	require.NoError(t, err)
	// An in-memory database exists per connection; keep the pool at one.
	db.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { db.Close() })

	files, err := filestore.New(t.TempDir())
	require.NoError(t, err)

	cfg := &config.Config{
		FrontendURL:     "http://localhost:5173",
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 7 * 24 * time.Hour,
	}
	tokens := auth.NewTokenService("access-secret", "refresh-secret", cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	assistant := &stubAssistant{answer: services.Answer{Result: "respuesta"}}

	router := api.NewRouter(cfg, services.NewUserService(db), assistant, files, tokens)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &fixture{
		server:    server,
		client:    &http.Client{Jar: jar},
		assistant: assistant,
		files:     files,
	}
}

func (f *fixture) postJSON(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := f.client.Post(f.server.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func (f *fixture) register(t *testing.T, username, password string) *http.Response {
	t.Helper()
	return f.postJSON(t, "/api/v1/auth/register", map[string]string{"username": username, "password": password})
}

func (f *fixture) login(t *testing.T, username, password string) *http.Response {
	t.Helper()
	return f.postJSON(t, "/api/v1/auth/login", map[string]string{"username": username, "password": password})
}

func cookieValue(resp *http.Response, name string) string {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func TestRegisterLoginRefreshLogoutFlow(t *testing.T) {
	f := newFixture(t)

	resp := f.register(t, "alice", "secret1")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	// Wrong password fails with a generic 401.
	resp = f.login(t, "alice", "wrong")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	// Correct login sets both cookies.
	resp = f.login(t, "alice", "secret1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	accessCookie := cookieValue(resp, auth.AccessCookieName)
	refreshCookie := cookieValue(resp, auth.RefreshCookieName)
	require.NotEmpty(t, accessCookie)
	require.NotEmpty(t, refreshCookie)
	resp.Body.Close()

	// Verify echoes the authenticated identity.
	verifyResp, err := f.client.Get(f.server.URL + "/api/v1/auth/verify")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, verifyResp.StatusCode)
	var identity map[string]string
	require.NoError(t, json.NewDecoder(verifyResp.Body).Decode(&identity))
	verifyResp.Body.Close()
	require.Equal(t, "alice", identity["username"])

	// Refresh yields a fresh access cookie.
	resp = f.postJSON(t, "/api/v1/auth/refresh-token", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, cookieValue(resp, auth.AccessCookieName))
	resp.Body.Close()

	// Logout clears the stored refresh token; the old refresh cookie is
	// rejected afterwards.
	resp = f.postJSON(t, "/api/v1/auth/logout", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/api/v1/auth/refresh-token", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: auth.RefreshCookieName, Value: refreshCookie})
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestLoginRotationInvalidatesPriorRefreshToken(t *testing.T) {
	f := newFixture(t)

	resp := f.register(t, "alice", "secret1")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = f.login(t, "alice", "secret1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	firstRefresh := cookieValue(resp, auth.RefreshCookieName)
	resp.Body.Close()

	// A second login overwrites the stored refresh token.
	resp = f.login(t, "alice", "secret1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// The first token still verifies cryptographically, but no longer
	// matches the stored value, so replaying it fails.
	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/api/v1/auth/refresh-token", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: auth.RefreshCookieName, Value: firstRefresh})
	replay, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, replay.StatusCode)
	replay.Body.Close()
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)

	resp := f.register(t, "", "secret1")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = f.register(t, "alice", "short")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = f.register(t, "alice", "secret1")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = f.register(t, "alice", "secret2")
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestRefreshWithoutTokenRejected(t *testing.T) {
	f := newFixture(t)

	resp, err := http.DefaultClient.Post(f.server.URL+"/api/v1/auth/refresh-token", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}
