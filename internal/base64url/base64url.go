// Package base64url encodes the opaque identifiers and key material that
// cross the wire or show up in URLs — device ids, file ids, session tokens,
// public keys — as unpadded base64url text, so they're copy-pasteable and
// never need percent-escaping.
package base64url

import "encoding/base64"

// Encode renders b as unpadded base64url text.
func Encode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// Decode parses unpadded base64url text back into its raw bytes.
func Decode(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}
