// Package token issues and verifies the short-lived signed bearer
// credentials that bind an agent request to an environment namespace.
package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const audience = "driftlane-env"

// Claims is the decoded payload of an environment-scoped token.
type Claims struct {
	Subject              string
	EnvironmentID        string
	ImpersonatedIdentity string
	IssuedAt             time.Time
	ExpiresAt            time.Time
}

type envClaims struct {
	jwt.RegisteredClaims
	EnvironmentID        string `json:"environment_id"`
	ImpersonatedIdentity string `json:"impersonated_identity,omitempty"`
}

// Service issues and verifies HS256 tokens signed with a single platform
// secret, mirroring the corpus's RS256 role-extractor but over a symmetric
// key since token issuance and verification both happen inside this
// service (no external identity provider to delegate to).
type Service struct {
	secret []byte
}

// New creates a Service signing/verifying with secret.
func New(secret string) *Service {
	return &Service{secret: []byte(secret)}
}

// Issue creates a token for subject bound to environmentID, expiring at
// expiresAt (which must equal the Environment's own expires_at so the
// credential never outlives its namespace). impersonatedIdentity may be
// empty.
func (s *Service) Issue(subject, environmentID, impersonatedIdentity string, issuedAt, expiresAt time.Time) (string, error) {
	claims := envClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
		EnvironmentID:        environmentID,
		ImpersonatedIdentity: impersonatedIdentity,
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify decodes and validates a token's signature, expiry, and audience.
func (s *Service) Verify(raw string) (Claims, error) {
	var claims envClaims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithAudience(audience), jwt.WithExpirationRequired())
	if err != nil {
		return Claims{}, fmt.Errorf("verify token: %w", err)
	}
	if !tok.Valid {
		return Claims{}, fmt.Errorf("invalid token")
	}

	return Claims{
		Subject:              claims.Subject,
		EnvironmentID:        claims.EnvironmentID,
		ImpersonatedIdentity: claims.ImpersonatedIdentity,
		IssuedAt:             claims.IssuedAt.Time,
		ExpiresAt:            claims.ExpiresAt.Time,
	}, nil
}
