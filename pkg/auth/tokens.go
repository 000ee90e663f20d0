package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers malformed, mis-signed and expired tokens
var ErrInvalidToken = errors.New("invalid token")

// Claims carried by both access and refresh tokens
type Claims struct {
	jwt.RegisteredClaims
	UserID   int64  `json:"uid"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin,omitempty"`
	Refresh  bool   `json:"refresh,omitempty"`
}

// TokenIssuer signs and validates HS256 session tokens
type TokenIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokenIssuer creates a token issuer with the given signing secret
func NewTokenIssuer(secret string, accessTTL, refreshTTL time.Duration) (*TokenIssuer, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	return &TokenIssuer{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}, nil
}

// IssueAccessToken returns a signed access token for the user
func (i *TokenIssuer) IssueAccessToken(userID int64, username string, isAdmin bool) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.accessTTL)),
			ID:        fmt.Sprintf("%d", now.UnixNano()),
		},
		UserID:   userID,
		Username: username,
		IsAdmin:  isAdmin,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(i.secret)
}

// IssueRefreshToken returns a signed refresh token for the user
func (i *TokenIssuer) IssueRefreshToken(userID int64) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.refreshTTL)),
			ID:        fmt.Sprintf("refresh-%d", now.UnixNano()),
		},
		UserID:  userID,
		Refresh: true,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(i.secret)
}

// ValidateAccessToken parses and validates an access token. Refresh tokens
// are rejected so they cannot be replayed as access tokens.
func (i *TokenIssuer) ValidateAccessToken(tokenString string) (*Claims, error) {
	claims, err := i.validate(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Refresh {
		return nil, fmt.Errorf("refresh token used as access token: %w", ErrInvalidToken)
	}
	return claims, nil
}

// ValidateRefreshToken parses and validates a refresh token
func (i *TokenIssuer) ValidateRefreshToken(tokenString string) (*Claims, error) {
	claims, err := i.validate(tokenString)
	if err != nil {
		return nil, err
	}
	if !claims.Refresh {
		return nil, fmt.Errorf("access token used as refresh token: %w", ErrInvalidToken)
	}
	return claims, nil
}

func (i *TokenIssuer) validate(tokenString string) (*Claims, error) {
	tok, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
