package token

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/dhawalhost/gateseal/internal/auth"
	"github.com/golang-jwt/jwt/v5"
	jose "gopkg.in/go-jose/go-jose.v2"
)

// Config controls token issuance. An empty PrivateKeyPEM generates an
// ephemeral key pair at startup; sessions then do not survive restarts.
type Config struct {
	Issuer         string
	KeyID          string
	AccessTokenTTL time.Duration
	PrivateKeyPEM  []byte
}

// AccessClaims are the claims carried by every access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	Email       string   `json:"email,omitempty"`
	Roles       []string `json:"roles"`
	DefaultRole string   `json:"defaultRole"`
	IsAnonymous bool     `json:"isAnonymous"`
}

// Issuer signs and verifies RS256 access tokens.
type Issuer struct {
	cfg        Config
	privateKey *rsa.PrivateKey
}

// New creates an Issuer from the given config, generating a key pair if
// none was supplied.
func New(cfg Config) (*Issuer, error) {
	if cfg.Issuer == "" {
		cfg.Issuer = "gateseal"
	}
	if cfg.KeyID == "" {
		cfg.KeyID = "gateseal-key-1"
	}
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = 15 * time.Minute
	}

	var key *rsa.PrivateKey
	var err error
	if len(cfg.PrivateKeyPEM) > 0 {
		key, err = jwt.ParseRSAPrivateKeyFromPEM(cfg.PrivateKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("parsing signing key: %w", err)
		}
	} else {
		key, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, fmt.Errorf("generating signing key: %w", err)
		}
	}
	return &Issuer{cfg: cfg, privateKey: key}, nil
}

// IssueAccessToken mints a signed token for the user and role set.
func (i *Issuer) IssueAccessToken(user auth.User, roles []string) (string, int64, error) {
	now := time.Now()
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    i.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.cfg.AccessTokenTTL)),
		},
		Email:       user.Email,
		Roles:       roles,
		DefaultRole: user.DefaultRole,
		IsAnonymous: user.Anonymous,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = i.cfg.KeyID

	signed, err := token.SignedString(i.privateKey)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(i.cfg.AccessTokenTTL.Seconds()), nil
}

// VerifySubject checks a token's signature and expiry and returns its
// subject.
func (i *Issuer) VerifySubject(accessToken string) (string, error) {
	token, err := jwt.ParseWithClaims(accessToken, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return &i.privateKey.PublicKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return "", errors.New("invalid token claims")
	}
	return claims.Subject, nil
}

// JWKS returns the JSON Web Key Set for the signing key.
func (i *Issuer) JWKS() jose.JSONWebKeySet {
	return jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{
				Key:       &i.privateKey.PublicKey,
				KeyID:     i.cfg.KeyID,
				Algorithm: "RS256",
				Use:       "sig",
			},
		},
	}
}
