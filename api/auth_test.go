package api

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func signHS256(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr error
	}{
		{name: "ok", header: "Bearer header.payload.signature", want: "header.payload.signature"},
		{name: "padded", header: "  Bearer a.b.c  ", want: "a.b.c"},
		{name: "missing", header: "", wantErr: errMissingAuthorization},
		{name: "scheme", header: "Basic a.b.c", wantErr: errBadAuthorization},
		{name: "periods", header: "Bearer " + strings.Repeat(".", 1000), wantErr: errBadAuthorization},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := bearerToken(tt.header)
			if err != tt.wantErr {
				t.Fatalf("expected error %v, got %v", tt.wantErr, err)
			}
			if got != tt.want {
				t.Fatalf("unexpected token %q", got)
			}
		})
	}
}

func TestUserIDFromAuthHeaderHS256(t *testing.T) {
	secret := []byte("test-secret")
	signed := signHS256(t, secret, jwt.MapClaims{
		"sub": "user-123",
		"aud": "api://aud",
		"iss": "https://issuer/",
		"exp": time.Now().Add(5 * time.Minute).Unix(),
		"nbf": time.Now().Add(-time.Minute).Unix(),
	})
	auth := &Auth{Audience: "api://aud", Issuer: "https://issuer/", TestMode: true, TestSecret: secret}

	userID, err := auth.UserIDFromAuthHeader("Bearer " + signed)
	if err != nil {
		t.Fatalf("unexpected error verifying token: %v", err)
	}
	if userID != "user-123" {
		t.Fatalf("unexpected user id: %s", userID)
	}
}

func TestUserIDFromTokenRejects(t *testing.T) {
	secret := []byte("test-secret")
	valid := func() jwt.MapClaims {
		return jwt.MapClaims{"sub": "u1", "aud": "api://aud", "exp": time.Now().Add(time.Hour).Unix()}
	}
	tests := []struct {
		name   string
		mutate func(jwt.MapClaims)
		secret []byte
	}{
		{name: "wrong secret", secret: []byte("other")},
		{name: "audience", mutate: func(c jwt.MapClaims) { c["aud"] = "api://other" }},
		{name: "no sub", mutate: func(c jwt.MapClaims) { delete(c, "sub") }},
		{name: "no exp", mutate: func(c jwt.MapClaims) { delete(c, "exp") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := valid()
			if tt.mutate != nil {
				tt.mutate(claims)
			}
			key := secret
			if tt.secret != nil {
				key = tt.secret
			}
			auth := &Auth{Audience: "api://aud", TestMode: true, TestSecret: secret}
			if _, err := auth.UserIDFromToken(signHS256(t, key, claims)); err == nil {
				t.Fatalf("expected token to be rejected")
			}
		})
	}
}

func TestNewAuthTestModeRequiresSecret(t *testing.T) {
	t.Setenv("AUTH0_TEST_MODE", "1")
	t.Setenv("TEST_JWT_SECRET", "")
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic without secret")
		}
	}()
	NewAuth(nil, "", "")
}
