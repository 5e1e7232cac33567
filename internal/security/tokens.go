package security

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrExpiredToken     = errors.New("token expired")
	ErrInvalidSignature = errors.New("token signature invalid")
	ErrMalformedToken   = errors.New("token malformed")
	// ErrUnknownKey means the kid header names no key that may still verify.
	ErrUnknownKey = errors.New("unknown signing key")
	// ErrNoActiveKey is returned when no signing key could be obtained at all.
	ErrNoActiveKey = errors.New("no active signing key")
)

// KeySource resolves the key used to sign new tokens and the public key for a
// kid found in a token header. VerificationKey must return ErrUnknownKey for a
// kid it does not recognise or that has aged past its grace window.
type KeySource interface {
	SigningKey(ctx context.Context) (kid string, key *rsa.PrivateKey, err error)
	VerificationKey(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// AccessClaims is the verified content of an access token.
type AccessClaims struct {
	UserID      string
	Email       string
	Role        string
	WorkspaceID string
	SessionID   string
	TokenID     string
	KeyID       string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

type accessJWT struct {
	jwt.RegisteredClaims
	Email       string `json:"email"`
	Role        string `json:"role"`
	WorkspaceID string `json:"workspace_id"`
	SessionID   string `json:"sid,omitempty"`
}

// TokenProvider signs and verifies RS256 access tokens. Every token carries
// the kid of its signing key so verification survives key rotation.
type TokenProvider struct {
	keys     KeySource
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// NewTokenProvider returns a provider minting tokens valid for accessTTL.
// now may be nil to use the wall clock.
func NewTokenProvider(keys KeySource, issuer, audience string, accessTTL time.Duration, now func() time.Time) *TokenProvider {
	if now == nil {
		now = time.Now
	}
	return &TokenProvider{keys: keys, issuer: issuer, audience: audience, ttl: accessTTL, now: now}
}

// TTL returns the configured access token lifetime.
func (p *TokenProvider) TTL() time.Duration { return p.ttl }

// IssueAccess signs an access token for c using the current active key. The
// returned claims hold exactly what a verifier will read back: times are
// truncated to whole seconds and TokenID, KeyID and IssuedAt are filled in.
func (p *TokenProvider) IssueAccess(ctx context.Context, c AccessClaims) (string, AccessClaims, error) {
	kid, key, err := p.keys.SigningKey(ctx)
	if err != nil {
		return "", AccessClaims{}, fmt.Errorf("%w: %v", ErrNoActiveKey, err)
	}
	jti, err := generateJTI()
	if err != nil {
		return "", AccessClaims{}, err
	}
	now := p.now().UTC()
	iat := jwt.NewNumericDate(now)
	exp := jwt.NewNumericDate(now.Add(p.ttl))
	claims := accessJWT{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   c.UserID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  iat,
			ExpiresAt: exp,
		},
		Email:       c.Email,
		Role:        c.Role,
		WorkspaceID: c.WorkspaceID,
		SessionID:   c.SessionID,
	}
	t := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	t.Header["kid"] = kid
	signed, err := t.SignedString(key)
	if err != nil {
		return "", AccessClaims{}, fmt.Errorf("sign access token: %w", err)
	}
	c.TokenID = jti
	c.KeyID = kid
	c.IssuedAt = iat.Time.UTC()
	c.ExpiresAt = exp.Time.UTC()
	return signed, c, nil
}

// VerifyAccess checks signature, algorithm, issuer, audience and expiry. The
// verification key is selected by the kid header only.
func (p *TokenProvider) VerifyAccess(ctx context.Context, tokenString string) (*AccessClaims, error) {
	var kid string
	parsed, err := jwt.ParseWithClaims(tokenString, &accessJWT{}, func(t *jwt.Token) (interface{}, error) {
		k, _ := t.Header["kid"].(string)
		if k == "" {
			return nil, ErrMalformedToken
		}
		kid = k
		return p.keys.VerificationKey(ctx, k)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return nil, classify(err)
	}
	claims, ok := parsed.Claims.(*accessJWT)
	if !ok || !parsed.Valid {
		return nil, ErrMalformedToken
	}
	out := &AccessClaims{
		UserID:      claims.Subject,
		Email:       claims.Email,
		Role:        claims.Role,
		WorkspaceID: claims.WorkspaceID,
		SessionID:   claims.SessionID,
		TokenID:     claims.ID,
		KeyID:       kid,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time.UTC()
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return out, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, ErrUnknownKey):
		return ErrUnknownKey
	case errors.Is(err, ErrMalformedToken), errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformedToken
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpiredToken
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		// keyfunc failed for a reason other than an unknown kid.
		return ErrUnknownKey
	default:
		return ErrMalformedToken
	}
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
