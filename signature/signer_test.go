package signature_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"

	"github.com/trackwell/beacon/signature"
)

func TestSignKnownVector(t *testing.T) {
	payload := []byte(`{"event":"test"}`)
	secret := "bcsec_testsecret123"
	timestamp := int64(1700000000)

	got := signature.Sign(payload, secret, timestamp)

	// Compute expected HMAC-SHA256 independently.
	content := fmt.Sprintf("%d.%s", timestamp, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(content))
	expected := "v1=" + hex.EncodeToString(mac.Sum(nil))

	if got != expected {
		t.Errorf("Sign() = %q, want %q", got, expected)
	}
}

func TestSignatureFormat(t *testing.T) {
	sig := signature.Sign([]byte("test"), "secret", 123)

	if !strings.HasPrefix(sig, "v1=") {
		t.Errorf("signature should start with 'v1=', got %q", sig)
	}

	// v1= prefix (3) + 64 hex chars (SHA256 = 32 bytes = 64 hex)
	if len(sig) != 67 {
		t.Errorf("expected signature length 67, got %d", len(sig))
	}
}

func TestDigestDeterministic(t *testing.T) {
	a := signature.Digest("key", "order-1001", "meta", "purchase")
	b := signature.Digest("key", "order-1001", "meta", "purchase")
	if a != b {
		t.Errorf("Digest() not deterministic: %q vs %q", a, b)
	}
	if len(a) != 64 {
		t.Errorf("digest length = %d, want 64", len(a))
	}
}

func TestDigestSensitivity(t *testing.T) {
	base := signature.Digest("key", "order-1001", "meta", "purchase")

	tests := []struct {
		name string
		got  string
	}{
		{"different key", signature.Digest("other", "order-1001", "meta", "purchase")},
		{"different order", signature.Digest("key", "order-2002", "meta", "purchase")},
		{"different destination", signature.Digest("key", "order-1001", "google_ads", "purchase")},
		{"different event type", signature.Digest("key", "order-1001", "meta", "refund")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got == base {
				t.Error("digest collision")
			}
		})
	}
}

func TestDigestSeparatorAmbiguity(t *testing.T) {
	// Parts are joined with '|', so shifting a character across the part
	// boundary must change the digest.
	a := signature.Digest("key", "ab", "c")
	b := signature.Digest("key", "a", "bc")
	if a == b {
		t.Error("digest identical for shifted part boundaries")
	}
}

func TestGenerateSecret(t *testing.T) {
	s1 := signature.GenerateSecret()
	s2 := signature.GenerateSecret()

	if !strings.HasPrefix(s1, "bcsec_") {
		t.Errorf("secret should start with 'bcsec_', got %q", s1)
	}
	if len(s1) != 70 {
		t.Errorf("expected secret length 70, got %d", len(s1))
	}
	if s1 == s2 {
		t.Error("two generated secrets are identical")
	}
}
