package security

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/millatvt/millat-backend/internal/domain"
)

const (
	TokenTypeAccess  = "access"
	PurposeWebsocket = "websocket"
)

type Claims struct {
	TokenType string               `json:"token_type"`
	Kind      domain.PrincipalKind `json:"kind"`
	Purpose   string               `json:"purpose,omitempty"`
	jwt.RegisteredClaims
}

// Principal resolves the subject and kind claims into a principal.
func (c *Claims) Principal() (domain.Principal, error) {
	if !c.Kind.Valid() {
		return domain.Principal{}, fmt.Errorf("unknown principal kind %q", c.Kind)
	}
	id, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil || id == 0 {
		return domain.Principal{}, fmt.Errorf("invalid subject %q", c.Subject)
	}
	return domain.Principal{ID: uint(id), Kind: c.Kind}, nil
}

type JWTManager struct {
	issuer       string
	audience     string
	accessSecret []byte
}

func NewJWTManager(issuer, audience, accessSecret string) *JWTManager {
	return &JWTManager{
		issuer:       issuer,
		audience:     audience,
		accessSecret: []byte(accessSecret),
	}
}

func (m *JWTManager) SignAccessToken(p domain.Principal, ttl time.Duration) (string, error) {
	return m.sign(p, "", ttl)
}

// SignPurposeToken issues an access-type token restricted to one purpose,
// such as the websocket handshake.
func (m *JWTManager) SignPurposeToken(p domain.Principal, purpose string, ttl time.Duration) (string, error) {
	if purpose == "" {
		return "", errors.New("purpose is required")
	}
	return m.sign(p, purpose, ttl)
}

func (m *JWTManager) sign(p domain.Principal, purpose string, ttl time.Duration) (string, error) {
	if !p.Kind.Valid() || p.ID == 0 {
		return "", fmt.Errorf("invalid principal %s", p)
	}
	now := time.Now()
	claims := Claims{
		TokenType: TokenTypeAccess,
		Kind:      p.Kind,
		Purpose:   purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   strconv.FormatUint(uint64(p.ID), 10),
			Audience:  []string{m.audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.accessSecret)
}

// ParseAccessToken verifies signature, expiry, issuer and audience. Purpose
// restrictions are enforced by the caller.
func (m *JWTManager) ParseAccessToken(raw string) (*Claims, error) {
	return m.parse(raw, m.accessSecret, TokenTypeAccess)
}

func (m *JWTManager) parse(raw string, secret []byte, tokenType string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing algorithm")
		}
		return secret, nil
	}, jwt.WithIssuer(m.issuer), jwt.WithAudience(m.audience))
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.TokenType != tokenType {
		return nil, fmt.Errorf("unexpected token type: %s", claims.TokenType)
	}
	return claims, nil
}
