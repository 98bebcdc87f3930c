package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token types carried in the "typ" claim.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// RoleViewer is the only role dashboard tokens are issued for.
const RoleViewer = "viewer"

// TokenPair holds access and refresh tokens.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	AccessExp    time.Time
	RefreshExp   time.Time
}

// Claims represents JWT payload. SchoolID scopes every dashboard query made
// with the token.
type Claims struct {
	Role     string `json:"role"`
	SchoolID string `json:"school_id"`
	Type     string `json:"typ"`
	jwt.RegisteredClaims
}

// Issue issues signed access and refresh tokens for a viewer of one school.
func Issue(subject, schoolID, issuer, key string, accessTTL, refreshTTL time.Duration) (TokenPair, error) {
	if subject == "" || schoolID == "" {
		return TokenPair{}, errors.New("subject and school required")
	}
	now := time.Now()
	accessExp := now.Add(accessTTL)
	refreshExp := now.Add(refreshTTL)

	accessToken, err := sign(subject, schoolID, TypeAccess, issuer, key, now, accessExp)
	if err != nil {
		return TokenPair{}, err
	}
	refreshToken, err := sign(subject, schoolID, TypeRefresh, issuer, key, now, refreshExp)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		AccessExp:    accessExp,
		RefreshExp:   refreshExp,
	}, nil
}

func sign(subject, schoolID, typ, issuer, key string, now, exp time.Time) (string, error) {
	claims := Claims{
		Role:     RoleViewer,
		SchoolID: schoolID,
		Type:     typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
}

// Parse validates a token of the wanted type and returns its claims.
func Parse(tokenStr, key, issuer, wantType string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	})
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if issuer != "" && claims.Issuer != issuer {
		return Claims{}, errors.New("issuer mismatch")
	}
	if wantType != "" && claims.Type != wantType {
		return Claims{}, errors.New("wrong token type")
	}
	if claims.SchoolID == "" {
		return Claims{}, errors.New("token has no school")
	}
	return *claims, nil
}
