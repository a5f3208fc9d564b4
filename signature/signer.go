// Package signature provides HMAC-SHA256 signing for outbound event payloads.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Sign generates the HMAC-SHA256 signature for the given payload.
// The content to sign is "{timestamp}.{payload}".
// Returns a versioned signature in the format "v1=<hex>".
func Sign(payload []byte, secret string, timestamp int64) string {
	content := fmt.Sprintf("%d.%s", timestamp, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(content))
	return "v1=" + hex.EncodeToString(mac.Sum(nil))
}

// Digest computes a deterministic keyed digest of the given parts joined by
// "|". The same key and parts always produce the same value, which is how
// stable event identifiers survive retries.
func Digest(key string, parts ...string) string {
	mac := hmac.New(sha256.New, []byte(key))
	for i, p := range parts {
		if i > 0 {
			mac.Write([]byte{'|'})
		}
		mac.Write([]byte(p))
	}
	return hex.EncodeToString(mac.Sum(nil))
}
