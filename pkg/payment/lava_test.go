package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func signLava(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestLavaVerifySignature(t *testing.T) {
	p := NewLavaProvider("", "shop-1", "key", "webhook-secret")
	body := []byte(`{"order_id":"abc","status":"success"}`)
	valid := signLava("webhook-secret", body)

	if !p.VerifySignature(body, valid) {
		t.Fatal("valid signature rejected")
	}
	if p.VerifySignature(body, signLava("wrong-secret", body)) {
		t.Fatal("signature under the wrong secret accepted")
	}
	if p.VerifySignature([]byte(`{"order_id":"tampered"}`), valid) {
		t.Fatal("signature over different body accepted")
	}
	if p.VerifySignature(body, valid[:32]) {
		t.Fatal("truncated signature accepted")
	}
	if p.VerifySignature(body, "") {
		t.Fatal("empty signature accepted")
	}
}

func TestLavaVerifySignatureNoSecretConfigured(t *testing.T) {
	p := NewLavaProvider("", "shop-1", "key", "")
	body := []byte(`{}`)
	if p.VerifySignature(body, signLava("", body)) {
		t.Fatal("verification must fail closed without a configured secret")
	}
}

func TestFormatCents(t *testing.T) {
	tests := []struct {
		cents int64
		want  string
	}{
		{999, "9.99"},
		{1000, "10.00"},
		{5, "0.05"},
		{0, "0.00"},
	}
	for _, tt := range tests {
		if got := formatCents(tt.cents); got != tt.want {
			t.Errorf("formatCents(%d) = %q, want %q", tt.cents, got, tt.want)
		}
	}
}
