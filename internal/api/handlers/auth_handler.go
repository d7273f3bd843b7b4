package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/mfiguera/lexbot-be/internal/auth"
	"github.com/mfiguera/lexbot-be/internal/services"
	"github.com/rs/zerolog/log"
)

// refreshCookiePath scopes the refresh cookie to the auth routes so it is
// only sent where it is needed.
const refreshCookiePath = "/api/v1/auth"

// AuthHandler handles registration, login and the token lifecycle.
type AuthHandler struct {
	users      services.UserServiceProvider
	tokens     *auth.TokenService
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(users services.UserServiceProvider, tokens *auth.TokenService, accessTTL, refreshTTL time.Duration) *AuthHandler {
	return &AuthHandler{users: users, tokens: tokens, accessTTL: accessTTL, refreshTTL: refreshTTL}
}

// CredentialsPayload is the expected JSON body for register and login.
type CredentialsPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func secureCookies() bool {
	return os.Getenv("APP_ENV") == "production"
}

func (h *AuthHandler) setAccessCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.AccessCookieName,
		Value:    token,
		Expires:  time.Now().Add(h.accessTTL),
		HttpOnly: true,
		Secure:   secureCookies(),
		SameSite: http.SameSiteStrictMode,
		Path:     "/",
	})
}

func (h *AuthHandler) setRefreshCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.RefreshCookieName,
		Value:    token,
		Expires:  time.Now().Add(h.refreshTTL),
		HttpOnly: true,
		Secure:   secureCookies(),
		SameSite: http.SameSiteStrictMode,
		Path:     refreshCookiePath,
	})
}

func clearCookie(w http.ResponseWriter, name, path string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secureCookies(),
		SameSite: http.SameSiteStrictMode,
		Path:     path,
	})
}

// Register handles new user registration.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var payload CredentialsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, err := h.users.CreateUser(payload.Username, payload.Password)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidInput):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, services.ErrUsernameTaken):
			http.Error(w, "Username already taken", http.StatusConflict)
		default:
			log.Error().Err(err).Str("username", payload.Username).Msg("Failed to register user")
			http.Error(w, "Failed to register user", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(user)
}

// Login handles user authentication and issues the token pair. The freshly
// issued refresh token overwrites the stored one, which silently invalidates
// any refresh token from a previous login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var payload CredentialsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, err := h.users.AuthenticateUser(payload.Username, payload.Password)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			log.Warn().Str("username", payload.Username).Msg("Failed authentication attempt")
			http.Error(w, "Invalid credentials", http.StatusUnauthorized)
			return
		}
		log.Error().Err(err).Str("username", payload.Username).Msg("Login failed")
		http.Error(w, "Login failed", http.StatusInternalServerError)
		return
	}

	accessToken, err := h.tokens.IssueAccessToken(user)
	if err != nil {
		log.Error().Err(err).Str("user_id", user.ID).Msg("Failed to issue access token")
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	refreshToken, err := h.tokens.IssueRefreshToken(user)
	if err != nil {
		log.Error().Err(err).Str("user_id", user.ID).Msg("Failed to issue refresh token")
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	if err := h.users.SetRefreshToken(user.ID, &refreshToken); err != nil {
		log.Error().Err(err).Str("user_id", user.ID).Msg("Failed to store refresh token")
		http.Error(w, "Login failed", http.StatusInternalServerError)
		return
	}

	h.setAccessCookie(w, accessToken)
	h.setRefreshCookie(w, refreshToken)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"token": accessToken,
		"user":  user,
	})
}

// Refresh exchanges a valid refresh token for a new access token. The
// presented token must verify cryptographically and match the value stored
// on the user record; a token replaced by a later login fails the second
// check even before its expiry.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var tokenStr string
	if cookie, err := r.Cookie(auth.RefreshCookieName); err == nil {
		tokenStr = cookie.Value
	} else {
		var payload struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err == nil {
			tokenStr = payload.RefreshToken
		}
	}
	if tokenStr == "" {
		http.Error(w, "Missing refresh token", http.StatusUnauthorized)
		return
	}

	claims, err := h.tokens.Verify(tokenStr, auth.RefreshToken)
	if err != nil {
		log.Warn().Err(err).Msg("Rejected refresh token")
		http.Error(w, "Invalid refresh token", http.StatusUnauthorized)
		return
	}

	user, err := h.users.GetUserByID(claims.UserID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", claims.UserID).Msg("Refresh for unknown user")
		http.Error(w, "Invalid refresh token", http.StatusUnauthorized)
		return
	}

	if user.RefreshToken == nil || *user.RefreshToken != tokenStr {
		log.Warn().Str("user_id", user.ID).Msg("Refresh token does not match stored value")
		http.Error(w, "Invalid refresh token", http.StatusUnauthorized)
		return
	}

	accessToken, err := h.tokens.IssueAccessToken(user)
	if err != nil {
		log.Error().Err(err).Str("user_id", user.ID).Msg("Failed to issue access token")
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	h.setAccessCookie(w, accessToken)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"token": accessToken})
}

// Logout clears both cookies and the stored refresh token.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "Could not retrieve user from token", http.StatusInternalServerError)
		return
	}

	if err := h.users.SetRefreshToken(claims.UserID, nil); err != nil {
		log.Error().Err(err).Str("user_id", claims.UserID).Msg("Failed to clear refresh token")
		http.Error(w, "Logout failed", http.StatusInternalServerError)
		return
	}

	clearCookie(w, auth.AccessCookieName, "/")
	clearCookie(w, auth.RefreshCookieName, refreshCookiePath)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Logged out"})
}

// Verify echoes the identity of the presented access token. It has no side
// effects: the same token always yields the same claims.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		http.Error(w, "Could not retrieve user from token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"id":       claims.UserID,
		"username": claims.Username,
	})
}
