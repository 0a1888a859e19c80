package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestCodec(t *testing.T, accessTTL, refreshTTL time.Duration) (*Codec, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	codec, err := NewCodec(CodecConfig{
		Secret:     "secret",
		Issuer:     "auth-core",
		AccessTTL:  accessTTL,
		RefreshTTL: refreshTTL,
		Now:        clock.Now,
	})
	require.NoError(t, err)
	return codec, clock
}

func TestAccessTokenRoundTrip(t *testing.T) {
	codec, _ := newTestCodec(t, 30*time.Minute, 7*24*time.Hour)

	token, err := codec.IssueAccess("user-1", "student")
	if err != nil {
		t.Fatalf("token error: %v", err)
	}

	claims, err := codec.Decode(token)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if claims.UserID() != "user-1" || claims.Type != TokenAccess || claims.Role != "student" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.ID == "" || claims.Issuer != "auth-core" {
		t.Fatalf("expected jti and issuer to be set")
	}
	assert.Equal(t, time.Unix(1_700_000_000, 0).Add(30*time.Minute).Unix(), claims.ExpiresAt.Unix())
}

func TestRefreshTokenOmitsRole(t *testing.T) {
	codec, _ := newTestCodec(t, time.Minute, time.Hour)

	token, err := codec.IssueRefresh("user-1")
	require.NoError(t, err)

	claims, err := codec.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, TokenRefresh, claims.Type)
	assert.Empty(t, claims.Role)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	payload, err := jwt.NewParser().DecodeSegment(parts[1])
	require.NoError(t, err)
	assert.NotContains(t, string(payload), `"role"`)
}

func TestClassSeparation(t *testing.T) {
	codec, _ := newTestCodec(t, time.Minute, time.Hour)

	access, err := codec.IssueAccess("user-1", "admin")
	require.NoError(t, err)
	refresh, err := codec.IssueRefresh("user-1")
	require.NoError(t, err)

	subject, ok := codec.SubjectIfAccess(access)
	assert.True(t, ok)
	assert.Equal(t, "user-1", subject)

	subject, ok = codec.SubjectIfAccess(refresh)
	assert.False(t, ok)
	assert.Empty(t, subject)
}

func TestTamperedSignatureMatchesExpiredRejection(t *testing.T) {
	codec, clock := newTestCodec(t, time.Minute, time.Hour)

	token, err := codec.IssueAccess("user-1", "student")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	_, tamperErr := codec.Decode(tampered)

	clock.Advance(2 * time.Minute)
	_, expiredErr := codec.Decode(token)

	require.ErrorIs(t, tamperErr, ErrInvalidToken)
	require.ErrorIs(t, expiredErr, ErrInvalidToken)
	assert.Equal(t, tamperErr.Error(), expiredErr.Error())
}

func TestTamperedPayloadRejected(t *testing.T) {
	codec, _ := newTestCodec(t, time.Minute, time.Hour)

	token, err := codec.IssueAccess("user-1", "student")
	require.NoError(t, err)
	forged, err := codec.IssueAccess("user-1", "admin")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	forgedParts := strings.Split(forged, ".")
	spliced := parts[0] + "." + forgedParts[1] + "." + parts[2]

	_, err = codec.Decode(spliced)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExpiryBoundary(t *testing.T) {
	codec, clock := newTestCodec(t, 0, 0)

	token, err := codec.IssueAccess("user-1", "student")
	require.NoError(t, err)

	_, err = codec.Decode(token)
	assert.ErrorIs(t, err, ErrInvalidToken, "exp equal to now must be rejected")

	clock.Advance(time.Second)
	_, err = codec.Decode(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenValidUntilExpiry(t *testing.T) {
	codec, clock := newTestCodec(t, 30*time.Minute, time.Hour)

	token, err := codec.IssueAccess("user-1", "student")
	require.NoError(t, err)

	clock.Advance(30*time.Minute - time.Second)
	_, err = codec.Decode(token)
	assert.NoError(t, err)

	clock.Advance(time.Second)
	_, err = codec.Decode(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestDecodeRejectsForeignTokens(t *testing.T) {
	codec, clock := newTestCodec(t, time.Minute, time.Hour)

	other, err := NewCodec(CodecConfig{Secret: "other", Issuer: "auth-core", AccessTTL: time.Minute, Now: clock.Now})
	require.NoError(t, err)
	foreign, err := other.IssueAccess("user-1", "admin")
	require.NoError(t, err)

	wrongIssuer, err := NewCodec(CodecConfig{Secret: "secret", Issuer: "someone-else", AccessTTL: time.Minute, Now: clock.Now})
	require.NoError(t, err)
	misissued, err := wrongIssuer.IssueAccess("user-1", "admin")
	require.NoError(t, err)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Type: TokenAccess,
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "auth-core",
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
		},
	})
	none, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	untyped := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"iss": "auth-core",
		"exp": clock.Now().Add(time.Hour).Unix(),
	})
	noType, err := untyped.SignedString([]byte("secret"))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"foreign secret": foreign,
		"wrong issuer":   misissued,
		"alg none":       none,
		"missing type":   noType,
		"garbage":        "not.a.token",
		"empty":          "",
	} {
		_, err := codec.Decode(token)
		assert.ErrorIs(t, err, ErrInvalidToken, name)
	}
}

func TestRS256CodecAndJWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	codec, err := NewCodec(CodecConfig{
		Algorithm:     "RS256",
		PrivateKeyPEM: string(keyPEM),
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
	})
	require.NoError(t, err)

	token, err := codec.IssueAccess("user-1", "instructor")
	require.NoError(t, err)
	claims, err := codec.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, "instructor", claims.Role)

	set, ok := codec.JWKS()
	require.True(t, ok)
	require.Len(t, set.Keys, 1)
	kid, err := KeyID(&key.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, kid, set.Keys[0].Kid)
	assert.Equal(t, "AQAB", set.Keys[0].E)

	// An HS256 token signed with the public modulus must not pass an RS256 codec.
	confused := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	forged, err := confused.SignedString(x509.MarshalPKCS1PublicKey(&key.PublicKey))
	require.NoError(t, err)
	_, err = codec.Decode(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestHS256HasNoJWKS(t *testing.T) {
	codec, _ := newTestCodec(t, time.Minute, time.Hour)
	_, ok := codec.JWKS()
	assert.False(t, ok)
}

func TestNewCodecValidation(t *testing.T) {
	_, err := NewCodec(CodecConfig{AccessTTL: time.Minute})
	assert.Error(t, err)

	_, err = NewCodec(CodecConfig{Algorithm: "ES256", Secret: "x"})
	assert.Error(t, err)

	_, err = NewCodec(CodecConfig{Algorithm: "RS256", PrivateKeyPEM: "nope"})
	assert.Error(t, err)

	_, err = NewCodec(CodecConfig{Secret: "x", AccessTTL: -time.Second})
	assert.Error(t, err)
}

func TestJWKSetPublishesEveryKey(t *testing.T) {
	current, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	previous, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	set, err := NewJWKSet(&current.PublicKey, &previous.PublicKey)
	require.NoError(t, err)
	require.Len(t, set.Keys, 2)
	assert.NotEqual(t, set.Keys[0].Kid, set.Keys[1].Kid)

	_, err = NewJWKSet()
	assert.Error(t, err)
	_, err = NewJWKSet(nil)
	assert.Error(t, err)
}
