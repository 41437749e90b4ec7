package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"
)

func signHS256(t *testing.T, secret string, claims map[string]any) string {
	t.Helper()
	enc := func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return base64.RawURLEncoding.EncodeToString(b)
	}
	head := enc(map[string]any{"alg": "HS256", "typ": "JWT"})
	body := enc(claims)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(head + "." + body))
	return head + "." + body + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func TestVerifyDevToken(t *testing.T) {
	v := NewVerifier("dev", "", "")
	p, err := v.Verify("alice:Dispatcher")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.Subject != "alice" || p.Role != RoleDispatcher {
		t.Fatalf("principal: %+v", p)
	}
	if _, err := v.Verify("garbage"); err == nil {
		t.Fatalf("expected error for malformed dev token")
	}
}

func TestVerifyHMAC(t *testing.T) {
	v := NewVerifier("hmac", "topsecret", "")
	tok := signHS256(t, "topsecret", map[string]any{"sub": "bob", "role": "admin"})
	p, err := v.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.Subject != "bob" || p.Role != RoleAdmin {
		t.Fatalf("principal: %+v", p)
	}
}

func TestVerifyHMACBadSignature(t *testing.T) {
	v := NewVerifier("hmac", "topsecret", "")
	tok := signHS256(t, "wrongsecret", map[string]any{"sub": "bob", "role": "admin"})
	if _, err := v.Verify(tok); err == nil {
		t.Fatalf("expected signature failure")
	}
}

func TestVerifyHMACExpired(t *testing.T) {
	v := NewVerifier("hmac", "topsecret", "")
	tok := signHS256(t, "topsecret", map[string]any{
		"sub": "bob", "role": "admin", "exp": time.Now().Add(-time.Minute).Unix(),
	})
	if _, err := v.Verify(tok); err == nil {
		t.Fatalf("expected expiry failure")
	}
}

func TestVerifyDefaultsToViewerRole(t *testing.T) {
	v := NewVerifier("hmac", "topsecret", "")
	tok := signHS256(t, "topsecret", map[string]any{"sub": "carol"})
	p, err := v.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.Role != RoleViewer {
		t.Fatalf("role: got %s, want viewer", p.Role)
	}
}
