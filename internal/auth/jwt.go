package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

const (
	AlgorithmHS256 = "HS256"
	AlgorithmRS256 = "RS256"
)

// ErrInvalidToken is the only error Decode returns. Bad signatures, malformed
// payloads and expired tokens are deliberately indistinguishable to callers.
var ErrInvalidToken = errors.New("invalid_or_expired_token")

// Claims is the token payload: sub, type, role (access only), exp, plus iat, iss
// and a jti that a revocation store can key on.
type Claims struct {
	Type TokenType `json:"type"`
	Role string    `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) UserID() string {
	return c.Subject
}

type CodecConfig struct {
	Algorithm     string
	Secret        string
	PrivateKeyPEM string
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Now           func() time.Time
}

// Codec mints and verifies signed tokens. It performs no I/O and holds only
// immutable configuration, so any number of replicas can verify each other's
// tokens as long as they share the key material.
type Codec struct {
	method     jwt.SigningMethod
	signKey    interface{}
	verifyKey  interface{}
	publicKey  *rsa.PublicKey
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	parser     *jwt.Parser
}

func NewCodec(cfg CodecConfig) (*Codec, error) {
	if cfg.AccessTTL < 0 || cfg.RefreshTTL < 0 {
		return nil, errors.New("token ttl must not be negative")
	}
	c := &Codec{
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        cfg.Now,
	}
	if c.now == nil {
		c.now = time.Now
	}

	switch strings.ToUpper(strings.TrimSpace(cfg.Algorithm)) {
	case "", AlgorithmHS256:
		if cfg.Secret == "" {
			return nil, errors.New("hs256 requires a secret")
		}
		c.method = jwt.SigningMethodHS256
		c.signKey = []byte(cfg.Secret)
		c.verifyKey = []byte(cfg.Secret)
	case AlgorithmRS256:
		privateKey, err := ParseRSAPrivateKey(cfg.PrivateKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("rs256 private key: %w", err)
		}
		c.method = jwt.SigningMethodRS256
		c.signKey = privateKey
		c.verifyKey = &privateKey.PublicKey
		c.publicKey = &privateKey.PublicKey
	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", cfg.Algorithm)
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		options = append(options, jwt.WithIssuer(c.issuer))
	}
	c.parser = jwt.NewParser(options...)
	return c, nil
}

func (c *Codec) AccessTTL() time.Duration  { return c.accessTTL }
func (c *Codec) RefreshTTL() time.Duration { return c.refreshTTL }

func (c *Codec) IssueAccess(subject, role string) (string, error) {
	return c.issue(subject, TokenAccess, role, c.accessTTL)
}

// IssueRefresh mints a refresh token. Refresh tokens carry no role.
func (c *Codec) IssueRefresh(subject string) (string, error) {
	return c.issue(subject, TokenRefresh, "", c.refreshTTL)
}

func (c *Codec) issue(subject string, tokenType TokenType, role string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("token subject required")
	}
	now := c.now().UTC()
	claims := Claims{
		Type: tokenType,
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(c.method, claims)
	if c.publicKey != nil {
		if kid, err := KeyID(c.publicKey); err == nil {
			token.Header["kid"] = kid
		}
	}
	return token.SignedString(c.signKey)
}

func (c *Codec) Decode(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}
	token, err := c.parser.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return c.verifyKey, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	switch claims.Type {
	case TokenAccess, TokenRefresh:
	default:
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// SubjectIfAccess returns the subject of a valid access token. Refresh tokens,
// malformed and expired tokens yield ("", false).
func (c *Codec) SubjectIfAccess(tokenString string) (string, bool) {
	claims, err := c.Decode(tokenString)
	if err != nil || claims.Type != TokenAccess {
		return "", false
	}
	return claims.Subject, true
}

// JWKS exposes the verification key when tokens are signed asymmetrically.
func (c *Codec) JWKS() (JWKSet, bool) {
	if c.publicKey == nil {
		return JWKSet{}, false
	}
	set, err := NewJWKSet(c.publicKey)
	if err != nil {
		return JWKSet{}, false
	}
	return set, true
}
