package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/maneesh/quotadrive/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

const testIssuer = "https://auth.quotadrive.test"

func TestAuthenticateHMAC(t *testing.T) {
	a := NewHMAC(testSecret, testIssuer, 0)

	token, err := Sign(testSecret, testIssuer, "user-1", time.Hour, "admin")
	require.NoError(t, err)

	identity, err := a.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", identity.UserID)
	assert.True(t, identity.HasRole("admin"))
	assert.False(t, identity.HasRole("auditor"))
}

func TestAuthenticateRejects(t *testing.T) {
	a := NewHMAC(testSecret, testIssuer, 0)

	expired, err := Sign(testSecret, testIssuer, "user-1", -time.Minute)
	require.NoError(t, err)
	wrongKey, err := Sign([]byte("other"), testIssuer, "user-1", time.Hour)
	require.NoError(t, err)
	wrongIssuer, err := Sign(testSecret, "https://elsewhere", "user-1", time.Hour)
	require.NoError(t, err)
	noSubject, err := Sign(testSecret, testIssuer, "", time.Hour)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"expired":      expired,
		"wrong key":    wrongKey,
		"wrong issuer": wrongIssuer,
		"no subject":   noSubject,
		"garbage":      "not-a-token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := a.Authenticate(token)
			assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
		})
	}
}

func TestAuthenticateRejectsAlgorithmSwitch(t *testing.T) {
	a := NewHMAC(testSecret, testIssuer, 0)

	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "user-1",
		Issuer:    testIssuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS384, claims).SignedString(testSecret)
	require.NoError(t, err)

	_, err = a.Authenticate(token)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
}

func TestFromRequest(t *testing.T) {
	a := NewHMAC(testSecret, "", 0)
	token, err := Sign(testSecret, "", "user-1", time.Hour)
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/api/v1/folders", nil)
	_, err = a.FromRequest(r)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))

	r.Header.Set("Authorization", "Basic abc")
	_, err = a.FromRequest(r)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))

	r.Header.Set("Authorization", "bearer "+token)
	identity, err := a.FromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "user-1", identity.UserID)
}

func TestContextRoundTrip(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithIdentity(context.Background(), Identity{UserID: "user-1"})
	identity, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "user-1", identity.UserID)
}

func jwkSet(t *testing.T, pub *rsa.PublicKey, kid string) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"keys": []map[string]any{{
			"kty": "RSA",
			"kid": kid,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	})
	require.NoError(t, err)
	return data
}

func TestAuthenticateWithKeySet(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	kf, err := keyfunc.NewJWKSetJSON(jwkSet(t, &key.PublicKey, "k1"))
	require.NoError(t, err)
	a := NewWithKeyfunc(kf, testIssuer, 30*time.Second)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-9",
			Issuer:    testIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: "admin",
	})
	token.Header["kid"] = "k1"
	signed, err := token.SignedString(key)
	require.NoError(t, err)

	identity, err := a.Authenticate(signed)
	require.NoError(t, err)
	assert.Equal(t, "user-9", identity.UserID)
	assert.True(t, identity.HasRole("admin"))

	// an HS256 token must not be accepted by an asymmetric verifier
	hmacToken, err := Sign(testSecret, testIssuer, "user-9", time.Hour)
	require.NoError(t, err)
	_, err = a.Authenticate(hmacToken)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
}
