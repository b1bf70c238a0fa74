// Package signature verifies provider webhook signatures: a lowercase hex
// HMAC-SHA512 over the exact raw request bytes.
package signature

import (
	"crypto/hmac"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
)

// Sign returns the lowercase hex HMAC-SHA512 of body under secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signatureHex is the signature of rawBody under
// secret. The comparison is constant-time over the hex text, so an
// uppercased signature does not match. Empty inputs and length mismatches
// return false; Verify never panics.
func Verify(rawBody []byte, signatureHex, secret string) bool {
	if len(rawBody) == 0 || signatureHex == "" || secret == "" {
		return false
	}
	want := Sign(rawBody, secret)
	if len(signatureHex) != len(want) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(signatureHex), []byte(want)) == 1
}
