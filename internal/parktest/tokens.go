package parktest

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenIssuer mints and verifies the HS256 access/refresh pairs the
// backend hands out. The type claim distinguishes the two, matching
// the production token shape.
type tokenIssuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

type tokenClaims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

func newTokenIssuer() *tokenIssuer {
	return &tokenIssuer{
		secret:     []byte("parktest-secret"),
		accessTTL:  15 * time.Minute,
		refreshTTL: 7 * 24 * time.Hour,
	}
}

func (t *tokenIssuer) mint(userID, tokenType string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		Type: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

func (t *tokenIssuer) pair(userID string) (access, refresh string, err error) {
	if access, err = t.mint(userID, "access", t.accessTTL); err != nil {
		return "", "", err
	}
	if refresh, err = t.mint(userID, "refresh", t.refreshTTL); err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

func (t *tokenIssuer) parse(token, wantType string) (*tokenClaims, error) {
	tok, err := jwt.ParseWithClaims(token, &tokenClaims{}, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := tok.Claims.(*tokenClaims)
	if !ok || !tok.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Type != wantType {
		return nil, errors.New("invalid token type")
	}
	return claims, nil
}
