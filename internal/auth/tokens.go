package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mfiguera/lexbot-be/internal/models"
)

// TokenKind selects which signing secret and lifetime a token gets. Access
// and refresh tokens are signed with distinct secrets, so a refresh token
// never verifies where an access token is expected.
type TokenKind int

const (
	AccessToken TokenKind = iota
	RefreshToken
)

var (
	// ErrTokenInvalid is returned for malformed tokens and bad signatures.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenExpired is returned for tokens past their expiry.
	ErrTokenExpired = errors.New("token expired")
)

// Claims defines the JWT claims structure.
type Claims struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies short-lived access tokens and longer-lived
// refresh tokens.
type TokenService struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// NewTokenService creates a TokenService.
func NewTokenService(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *TokenService {
	return &TokenService{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           time.Now,
	}
}

// SetNowFunc overrides the clock. Tests only.
func (s *TokenService) SetNowFunc(now func() time.Time) {
	s.now = now
}

func (s *TokenService) secretFor(kind TokenKind) []byte {
	if kind == RefreshToken {
		return s.refreshSecret
	}
	return s.accessSecret
}

// IssueAccessToken signs a short-lived token carrying the user's identity.
func (s *TokenService) IssueAccessToken(user models.User) (string, error) {
	return s.sign(Claims{UserID: user.ID, Username: user.Username}, AccessToken, s.accessTTL)
}

// IssueRefreshToken signs a long-lived token carrying only the user ID. The
// caller is responsible for persisting the returned value on the user record;
// refresh tokens are only honored while they match that stored value.
func (s *TokenService) IssueRefreshToken(user models.User) (string, error) {
	return s.sign(Claims{UserID: user.ID}, RefreshToken, s.refreshTTL)
}

func (s *TokenService) sign(claims Claims, kind TokenKind, ttl time.Duration) (string, error) {
	issuedAt := s.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secretFor(kind))
}

// Verify parses and validates a token of the given kind. It returns
// ErrTokenExpired for tokens past their expiry and ErrTokenInvalid for any
// other validation failure.
func (s *TokenService) Verify(tokenStr string, kind TokenKind) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return s.secretFor(kind), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(func() time.Time { return s.now() }))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
