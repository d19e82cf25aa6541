package api

import (
	"errors"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
	errInvalidClaims        = errors.New("invalid claims")
	errMissingSubject       = errors.New("missing sub")
)

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Auth validates stream subscriber tokens, either RS256 tokens checked against
// a JWKS or, in test mode, HS256 tokens signed with a shared secret.
type Auth struct {
	JWKS       *keyfunc.JWKS
	Audience   string
	Issuer     string
	TestSecret []byte
}

func NewAuth(jwks *keyfunc.JWKS, audience, issuer string) *Auth {
	return &Auth{JWKS: jwks, Audience: audience, Issuer: issuer}
}

// NewTestAuth accepts HS256 tokens signed with secret.
func NewTestAuth(secret []byte) *Auth {
	return &Auth{TestSecret: secret}
}

// UserIDFromAuthHeader extracts the subject from a "Bearer <jwt>" header value.
func (a *Auth) UserIDFromAuthHeader(h string) (string, error) {
	tokenStr, err := bearerToken(h)
	if err != nil {
		return "", err
	}

	if a.TestSecret != nil {
		token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("invalid signing method")
			}
			return a.TestSecret, nil
		})
		if err != nil {
			return "", err
		}
		return subject(token)
	}

	if a.JWKS == nil {
		return "", errors.New("no key set configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
	token, err := parser.Parse(tokenStr, a.JWKS.Keyfunc)
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errInvalidClaims
	}
	now := time.Now().Add(time.Minute).Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return "", errors.New("token expired")
	}
	if !claims.VerifyAudience(a.Audience, false) {
		return "", errors.New("invalid audience")
	}
	if !claims.VerifyIssuer(a.Issuer, false) {
		return "", errors.New("invalid issuer")
	}
	return subject(token)
}

func bearerToken(h string) (string, error) {
	h = strings.TrimSpace(h)
	if h == "" {
		return "", errMissingAuthorization
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", errBadAuthorization
	}
	if strings.Count(parts[1], ".") != 2 {
		return "", errBadAuthorization
	}
	return parts[1], nil
}

func subject(token *jwt.Token) (string, error) {
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errInvalidClaims
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errMissingSubject
	}
	return sub, nil
}
