// Package auth turns bearer tokens into an Identity. Tokens are issued
// elsewhere; this package only verifies them, with either a shared HS256
// secret or the keys published at a JWKS URL.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/maneesh/quotadrive/internal/apperr"
	"github.com/maneesh/quotadrive/internal/logger"
)

type contextKey string

const identityKey contextKey = "identity"

// Identity is the authenticated caller
type Identity struct {
	UserID string
	Roles  []string
}

// HasRole reports whether the caller holds role
func (i Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Claims are the token claims read by the service. sub carries the user id.
type Claims struct {
	jwt.RegisteredClaims
	Role  string   `json:"role,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// Authenticator verifies bearer tokens
type Authenticator struct {
	keyfunc jwt.Keyfunc
	methods []string
	issuer  string
	leeway  time.Duration
}

// NewHMAC verifies HS256 tokens signed with secret
func NewHMAC(secret []byte, issuer string, leeway time.Duration) *Authenticator {
	return &Authenticator{
		keyfunc: func(*jwt.Token) (any, error) { return secret, nil },
		methods: []string{jwt.SigningMethodHS256.Alg()},
		issuer:  issuer,
		leeway:  leeway,
	}
}

// NewJWKS verifies asymmetric tokens against the key set at jwksURL. Keys are
// refreshed in the background until ctx is cancelled.
func NewJWKS(ctx context.Context, jwksURL, issuer string, leeway time.Duration) (*Authenticator, error) {
	kf, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("failed to load JWKS from %s: %w", jwksURL, err)
	}
	return NewWithKeyfunc(kf, issuer, leeway), nil
}

// NewWithKeyfunc verifies asymmetric tokens with an existing key set
func NewWithKeyfunc(kf keyfunc.Keyfunc, issuer string, leeway time.Duration) *Authenticator {
	return &Authenticator{
		keyfunc: kf.Keyfunc,
		methods: []string{"RS256", "RS384", "RS512", "ES256", "ES384", "EdDSA"},
		issuer:  issuer,
		leeway:  leeway,
	}
}

// Authenticate validates a raw token and returns the caller's identity
func (a *Authenticator) Authenticate(tokenString string) (Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(a.methods),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(a.leeway),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, a.keyfunc, opts...)
	if err != nil || !token.Valid {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, apperr.Unauthorized("Your session has expired. Please log in again.")
		}
		return Identity{}, apperr.Unauthorized("Invalid or expired token.")
	}

	if claims.Subject == "" {
		return Identity{}, apperr.Unauthorized("Token has no subject.")
	}

	roles := append([]string(nil), claims.Roles...)
	if claims.Role != "" {
		roles = append(roles, claims.Role)
	}
	return Identity{UserID: claims.Subject, Roles: roles}, nil
}

// FromRequest reads the bearer token of r and authenticates it
func (a *Authenticator) FromRequest(r *http.Request) (Identity, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return Identity{}, apperr.Unauthorized("You are not authorized!")
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return Identity{}, apperr.Unauthorized("Authorization header must be Bearer <token>.")
	}

	identity, err := a.Authenticate(strings.TrimSpace(token))
	if err != nil {
		logger.Log.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("token rejected")
		return Identity{}, err
	}
	return identity, nil
}

// WithIdentity stores identity in ctx
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// FromContext returns the identity stored by WithIdentity
func FromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey).(Identity)
	return identity, ok
}

// Sign issues an HS256 token for userID. It is meant for tests and local
// tooling; production tokens come from the identity provider.
func Sign(secret []byte, issuer, userID string, ttl time.Duration, roles ...string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Roles: roles,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
