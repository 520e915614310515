package token_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/driftlane/driftlane/internal/token"
)

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	svc := token.New("shh-its-a-secret")
	now := time.Now().Truncate(time.Second)
	expires := now.Add(time.Hour)

	signed, err := svc.Issue("owner@example.com", "env-123", "impersonated@example.com", now, expires)
	require.NoError(t, err)
	require.NotEmpty(t, signed)

	claims, err := svc.Verify(signed)
	require.NoError(t, err)
	require.Equal(t, "owner@example.com", claims.Subject)
	require.Equal(t, "env-123", claims.EnvironmentID)
	require.Equal(t, "impersonated@example.com", claims.ImpersonatedIdentity)
	require.WithinDuration(t, expires, claims.ExpiresAt, time.Second)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer := token.New("secret-a")
	verifier := token.New("secret-b")
	now := time.Now()

	signed, err := issuer.Issue("owner", "env-1", "", now, now.Add(time.Hour))
	require.NoError(t, err)

	_, err = verifier.Verify(signed)
	require.Error(t, err)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	svc := token.New("secret")
	now := time.Now()

	signed, err := svc.Issue("owner", "env-1", "", now.Add(-2*time.Hour), now.Add(-time.Hour))
	require.NoError(t, err)

	_, err = svc.Verify(signed)
	require.Error(t, err)
}

func TestVerifyRejectsMalformedToken(t *testing.T) {
	svc := token.New("secret")
	_, err := svc.Verify("not-a-jwt")
	require.Error(t, err)
}

func TestIssueOmitsImpersonatedIdentityWhenEmpty(t *testing.T) {
	svc := token.New("secret")
	now := time.Now()

	signed, err := svc.Issue("owner", "env-1", "", now, now.Add(time.Hour))
	require.NoError(t, err)

	claims, err := svc.Verify(signed)
	require.NoError(t, err)
	require.Empty(t, claims.ImpersonatedIdentity)
}
