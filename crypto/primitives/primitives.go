// Package primitives implements the credential and session cryptography
// primitives shared by the server and the client E2EE session manager:
// opaque id generation, access-key hashing and constant-time verification,
// and ephemeral TURN credential minting.
package primitives

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // TURN credentials are HMAC-SHA1 by the TURN REST API spec, not a security choice.
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/privmsg/relay/internal/base64url"
)

const alphanumericAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GenerateUserID returns an 8-character id drawn from the alphanumeric
// alphabet via the CSPRNG. Rejection sampling is not performed: the modulo
// bias this introduces (62 does not evenly divide 256) is accepted exactly as
// the source repository documents it.
func GenerateUserID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("primitives: csprng failure: %w", err)
	}
	out := make([]byte, 8)
	for i, b := range buf {
		out[i] = alphanumericAlphabet[int(b)%len(alphanumericAlphabet)]
	}
	return string(out), nil
}

// GenerateAccessKey returns a 32-byte random access key, base64url-encoded.
func GenerateAccessKey() (string, error) {
	return randomB64URL(32)
}

// GenerateSessionToken returns a 32-byte random bearer token, base64url-encoded.
func GenerateSessionToken() (string, error) {
	return randomB64URL(32)
}

// GenerateFileID returns a 16-byte random file id, base64url-encoded.
func GenerateFileID() (string, error) {
	return randomB64URL(16)
}

// GenerateDeviceID returns a 16-byte random device id, base64url-encoded.
func GenerateDeviceID() (string, error) {
	return randomB64URL(16)
}

func randomB64URL(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("primitives: csprng failure: %w", err)
	}
	return base64url.Encode(buf), nil
}

// HashAccessKey returns the hex-encoded SHA-256 digest of an access key (or
// session token — the same hash function is used for both).
func HashAccessKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Hash returns the hex-encoded SHA-256 digest of arbitrary bytes.
func Hash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// VerifyAccessKey reports whether key hashes to hash, in time independent of
// where a mismatch first occurs: it compares lengths up front, then XOR-folds
// every byte of both digests without short-circuiting.
func VerifyAccessKey(key string, hash string) bool {
	candidate := HashAccessKey(key)
	if len(candidate) != len(hash) {
		// A length mismatch returns false at once; only equal-length digests
		// reach the constant-time compare below.
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(hash)) == 1
}

// TURNCredentials is the {username, credential} pair minted for WebRTC TURN
// relay authentication.
type TURNCredentials struct {
	Username string
	Credential string
	ExpiresAt time.Time
}

// MintTURNCredentials derives time-limited HMAC-SHA1 TURN credentials.
//
// username = "{now+ttl unix seconds}:{configUsername}"
// credential = base64-standard(HMAC-SHA1(configCredential, username))
func MintTURNCredentials(configUsername, configCredential string, ttl time.Duration, now time.Time) TURNCredentials {
	expiresAt := now.Add(ttl)
	turnUser := fmt.Sprintf("%d:%s", expiresAt.Unix(), configUsername)

	mac := hmac.New(sha1.New, []byte(configCredential))
	_, _ = mac.Write([]byte(turnUser))
	cred := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return TURNCredentials{
		Username:   turnUser,
		Credential: cred,
		ExpiresAt:  expiresAt,
	}
}
