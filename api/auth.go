package api

import (
	"errors"
	"os"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"

	"habit-progress/config"
)

const (
	defaultKeyCacheTTL = 15 * time.Minute
	clockSkew          = time.Minute
)

// Auth verifies bearer tokens and returns the subject as user id. With
// AUTH0_TEST_MODE=1 tokens are HS256 signed with TEST_JWT_SECRET.
type Auth struct {
	JWKS       *keyfunc.JWKS
	Audience   string
	Issuer     string
	TestMode   bool
	TestSecret []byte

	parser      *jwt.Parser
	keys        sync.Map
	keyCacheTTL time.Duration
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// NewAuth creates an Auth. It panics when test mode is on without a secret.
func NewAuth(jwks *keyfunc.JWKS, audience, issuer string) *Auth {
	a := &Auth{JWKS: jwks, Audience: audience, Issuer: issuer, keyCacheTTL: config.Duration("JWKS_CACHE_TTL", defaultKeyCacheTTL)}
	if os.Getenv("AUTH0_TEST_MODE") == "1" {
		secret := os.Getenv("TEST_JWT_SECRET")
		if secret == "" {
			panic("TEST_JWT_SECRET must be set when AUTH0_TEST_MODE=1")
		}
		a.TestMode = true
		a.TestSecret = []byte(secret)
	}
	a.parser = newParser(a.TestMode)
	return a
}

func newParser(testMode bool) *jwt.Parser {
	if testMode {
		return jwt.NewParser(jwt.WithValidMethods([]string{"HS256"}))
	}
	return jwt.NewParser(jwt.WithValidMethods([]string{"RS256"}))
}

// UserIDFromAuthHeader extracts the user identifier from the Authorization header.
func (a *Auth) UserIDFromAuthHeader(h string) (string, error) {
	token, err := bearerToken(h)
	if err != nil {
		return "", err
	}
	return a.UserIDFromToken(token)
}

// UserIDFromToken verifies a compact JWT and returns its subject.
func (a *Auth) UserIDFromToken(tokenStr string) (string, error) {
	if a.parser == nil {
		a.parser = newParser(a.TestMode)
	}
	parsed, err := a.parser.Parse(tokenStr, a.keyFunc)
	if err != nil {
		return "", err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}
	if err := a.verifyClaims(claims); err != nil {
		return "", err
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errors.New("missing sub")
	}
	return sub, nil
}

func (a *Auth) verifyClaims(claims jwt.MapClaims) error {
	now := time.Now().Unix()
	switch {
	case !claims.VerifyExpiresAt(now, true):
		return errors.New("token expired")
	case !claims.VerifyNotBefore(now+int64(clockSkew/time.Second), false):
		return errors.New("token not valid yet")
	case a.Audience != "" && !claims.VerifyAudience(a.Audience, false):
		return errors.New("invalid audience")
	case a.Issuer != "" && !claims.VerifyIssuer(a.Issuer, false):
		return errors.New("invalid issuer")
	}
	return nil
}

func (a *Auth) keyFunc(t *jwt.Token) (any, error) {
	if a.TestMode {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return a.TestSecret, nil
	}
	if a.JWKS == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := t.Header["kid"].(string)
	if kid != "" && a.keyCacheTTL > 0 {
		if v, ok := a.keys.Load(kid); ok {
			entry := v.(cachedKey)
			if time.Now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keys.Delete(kid)
		}
	}
	key, err := a.JWKS.Keyfunc(t)
	if err != nil {
		return nil, err
	}
	if kid != "" && a.keyCacheTTL > 0 {
		a.keys.Store(kid, cachedKey{key: key, expiresAt: time.Now().Add(a.keyCacheTTL)})
	}
	return key, nil
}
