package platformapi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIssueAndVerifyApiKeyRoundTrip(t *testing.T) {
	token, rec, err := IssueApiKey("owner-1")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.Equal(t, "owner-1", rec.Owner)

	keyID, secret, ok := parseApiKey(token)
	require.True(t, ok)
	require.Equal(t, rec.ID, keyID)
	require.True(t, verifyApiKey(secret, rec))
}

func TestVerifyApiKeyRejectsWrongSecret(t *testing.T) {
	_, rec, err := IssueApiKey("owner-1")
	require.NoError(t, err)
	require.False(t, verifyApiKey("not-the-secret", rec))
}

func TestParseApiKeyRejectsMalformedTokens(t *testing.T) {
	cases := []string{"", "not-a-key", "ak_", "ak_onlyid", "ak__emptyid"}
	for _, c := range cases {
		_, _, ok := parseApiKey(c)
		require.Falsef(t, ok, "expected %q to be rejected", c)
	}
}
