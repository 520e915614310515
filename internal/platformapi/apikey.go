package platformapi

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/driftlane/driftlane/internal/platformdb"
)

// API keys are issued as "ak_<hex key id>_<secret>". Only a PBKDF2 hash and
// salt of the secret are ever persisted, matching the original platform's
// auth module.
const (
	apiKeyPrefix    = "ak_"
	pbkdf2Iter      = 120_000
	pbkdf2KeyLen    = 32
	pbkdf2SaltBytes = 16
)

// IssueApiKey mints a new key for owner, returning the raw token to hand
// back to the caller exactly once (the secret itself is never stored).
func IssueApiKey(owner string) (token string, rec *platformdb.ApiKey, err error) {
	idBytes := make([]byte, 8)
	if _, err = rand.Read(idBytes); err != nil {
		return "", nil, fmt.Errorf("generate key id: %w", err)
	}
	secretBytes := make([]byte, 24)
	if _, err = rand.Read(secretBytes); err != nil {
		return "", nil, fmt.Errorf("generate key secret: %w", err)
	}

	keyID := hex.EncodeToString(idBytes)
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	token = apiKeyPrefix + keyID + "_" + secret

	salt := make([]byte, pbkdf2SaltBytes)
	if _, err = rand.Read(salt); err != nil {
		return "", nil, fmt.Errorf("generate salt: %w", err)
	}
	hash := pbkdf2.Key([]byte(secret), salt, pbkdf2Iter, pbkdf2KeyLen, sha256.New)

	rec = &platformdb.ApiKey{
		ID:      keyID,
		KeyHash: base64.StdEncoding.EncodeToString(hash),
		KeySalt: base64.StdEncoding.EncodeToString(salt),
		Owner:   owner,
	}
	return token, rec, nil
}

// parseApiKey splits "ak_<id>_<secret>" into its id and secret parts.
func parseApiKey(token string) (keyID, secret string, ok bool) {
	if !strings.HasPrefix(token, apiKeyPrefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(token, apiKeyPrefix)
	idx := strings.IndexByte(rest, '_')
	if idx <= 0 || idx == len(rest)-1 {
		return "", "", false
	}
	return rest[:idx], rest[idx+1:], true
}

// verifyApiKey checks secret against rec's stored PBKDF2 hash in constant
// time.
func verifyApiKey(secret string, rec *platformdb.ApiKey) bool {
	salt, err := base64.StdEncoding.DecodeString(rec.KeySalt)
	if err != nil {
		return false
	}
	want, err := base64.StdEncoding.DecodeString(rec.KeyHash)
	if err != nil {
		return false
	}
	got := pbkdf2.Key([]byte(secret), salt, pbkdf2Iter, pbkdf2KeyLen, sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}
