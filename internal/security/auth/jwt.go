package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/firmdesk/firmdesk/internal/domain"
)

// SuperadminSubject is the sentinel subject claim for the platform superadmin,
// which exists outside any firm.
const SuperadminSubject = "superadmin"

// Token type claims keep refresh tokens out of the access-token path.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Verification errors. Expired is distinguished from invalid so clients can
// branch to the refresh flow; everything else collapses to a generic
// rejection to avoid token oracles.
var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("invalid token")
)

// Claims carried by firmdesk tokens.
type Claims struct {
	Role            domain.Role `json:"role"`
	FirmID          string      `json:"firm_id,omitempty"`
	FirmSlug        string      `json:"firm_slug,omitempty"`
	DefaultClientID string      `json:"default_client_id,omitempty"`
	TokenType       string      `json:"token_type"`
	jwt.RegisteredClaims
}

// IsSuperadmin reports whether the claims identify the platform superadmin.
func (c *Claims) IsSuperadmin() bool {
	return c.Subject == SuperadminSubject && c.Role == domain.RoleSuperAdmin
}

// TokenManager issues and verifies signed access and refresh tokens.
type TokenManager struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokenManager creates a token manager. TTLs fall back to 15m access / 7d
// refresh when zero.
func NewTokenManager(secret, issuer string, accessTTL, refreshTTL time.Duration) *TokenManager {
	if issuer == "" {
		issuer = "firmdesk"
	}
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	return &TokenManager{
		secret:     []byte(secret),
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// Identity is the minimal subject description tokens are minted from.
type Identity struct {
	UserID          string
	Role            domain.Role
	FirmID          string
	FirmSlug        string
	DefaultClientID string
}

// IssueAccessToken signs a short-lived access token.
func (tm *TokenManager) IssueAccessToken(id Identity) (string, time.Time, error) {
	return tm.issue(id, TokenTypeAccess, tm.accessTTL)
}

// IssueRefreshToken signs a refresh token.
func (tm *TokenManager) IssueRefreshToken(id Identity) (string, time.Time, error) {
	return tm.issue(id, TokenTypeRefresh, tm.refreshTTL)
}

func (tm *TokenManager) issue(id Identity, tokenType string, ttl time.Duration) (string, time.Time, error) {
	if id.UserID == "" {
		return "", time.Time{}, fmt.Errorf("subject required")
	}
	now := time.Now()
	expiresAt := now.Add(ttl)
	claims := Claims{
		Role:            id.Role,
		FirmID:          id.FirmID,
		FirmSlug:        id.FirmSlug,
		DefaultClientID: id.DefaultClientID,
		TokenType:       tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    tm.issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// VerifyAccessToken parses and validates an access token.
func (tm *TokenManager) VerifyAccessToken(tokenString string) (*Claims, error) {
	return tm.verify(tokenString, TokenTypeAccess)
}

// VerifyRefreshToken parses and validates a refresh token.
func (tm *TokenManager) VerifyRefreshToken(tokenString string) (*Claims, error) {
	return tm.verify(tokenString, TokenTypeRefresh)
}

func (tm *TokenManager) verify(tokenString, wantType string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return tm.secret, nil
	}, jwt.WithIssuer(tm.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !token.Valid || claims.TokenType != wantType {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// ExtractToken pulls the bearer token from an Authorization header value.
func ExtractToken(authHeader string) (string, error) {
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", fmt.Errorf("invalid authorization header")
	}
	return parts[1], nil
}
