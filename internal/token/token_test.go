package token

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"
	"time"

	"github.com/dhawalhost/gateseal/internal/auth"
	"github.com/golang-jwt/jwt/v5"
)

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	issuer, err := New(Config{})
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}

	user := auth.User{ID: "user-1", Email: "user@example.com", DefaultRole: "user"}
	signed, expiresIn, err := issuer.IssueAccessToken(user, []string{"user", "editor"})
	if err != nil {
		t.Fatalf("issuing token: %v", err)
	}
	if expiresIn != int64((15 * time.Minute).Seconds()) {
		t.Fatalf("expected the default ttl, got %d", expiresIn)
	}

	subject, err := issuer.VerifySubject(signed)
	if err != nil {
		t.Fatalf("verifying token: %v", err)
	}
	if subject != "user-1" {
		t.Fatalf("expected subject user-1, got %q", subject)
	}
}

func TestAccessTokenClaims(t *testing.T) {
	issuer, err := New(Config{Issuer: "testsvc", KeyID: "test-key", AccessTokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}

	user := auth.User{ID: "user-2", Email: "anon@example.com", DefaultRole: "anonymous", Anonymous: true}
	signed, expiresIn, err := issuer.IssueAccessToken(user, []string{"anonymous"})
	if err != nil {
		t.Fatalf("issuing token: %v", err)
	}
	if expiresIn != 3600 {
		t.Fatalf("expected 3600s, got %d", expiresIn)
	}

	var claims AccessClaims
	token, _, err := jwt.NewParser().ParseUnverified(signed, &claims)
	if err != nil {
		t.Fatalf("parsing token: %v", err)
	}
	if token.Header["kid"] != "test-key" {
		t.Fatalf("expected kid header, got %v", token.Header["kid"])
	}
	if claims.Subject != "user-2" || claims.Issuer != "testsvc" {
		t.Fatalf("unexpected registered claims: %+v", claims.RegisteredClaims)
	}
	if claims.Email != "anon@example.com" || claims.DefaultRole != "anonymous" || !claims.IsAnonymous {
		t.Fatalf("unexpected custom claims: %+v", claims)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "anonymous" {
		t.Fatalf("unexpected roles: %v", claims.Roles)
	}
}

func TestVerifyRejectsForeignTokens(t *testing.T) {
	a, err := New(Config{})
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	b, err := New(Config{})
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}

	signed, _, err := a.IssueAccessToken(auth.User{ID: "user-1"}, nil)
	if err != nil {
		t.Fatalf("issuing token: %v", err)
	}
	if _, err := b.VerifySubject(signed); err == nil {
		t.Fatalf("expected rejection of a token signed with a different key")
	}
	if _, err := a.VerifySubject("not-a-token"); err == nil {
		t.Fatalf("expected rejection of garbage")
	}
}

func TestNewParsesSuppliedKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	issuer, err := New(Config{PrivateKeyPEM: pemBytes})
	if err != nil {
		t.Fatalf("new issuer with pem: %v", err)
	}
	signed, _, err := issuer.IssueAccessToken(auth.User{ID: "user-1"}, nil)
	if err != nil {
		t.Fatalf("issuing token: %v", err)
	}
	if _, err := issuer.VerifySubject(signed); err != nil {
		t.Fatalf("verifying token: %v", err)
	}

	if _, err := New(Config{PrivateKeyPEM: []byte("garbage")}); err == nil {
		t.Fatalf("expected an error for a malformed key")
	} else if !strings.Contains(err.Error(), "parsing signing key") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestJWKSPublishesPublicKeyOnly(t *testing.T) {
	issuer, err := New(Config{KeyID: "test-key"})
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}

	set := issuer.JWKS()
	if len(set.Keys) != 1 {
		t.Fatalf("expected one key, got %d", len(set.Keys))
	}
	k := set.Keys[0]
	if k.KeyID != "test-key" || k.Algorithm != "RS256" || k.Use != "sig" {
		t.Fatalf("unexpected key metadata: %+v", k)
	}
	if !k.IsPublic() {
		t.Fatalf("jwks must never carry the private key")
	}
}
