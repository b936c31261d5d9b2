package crypto

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func TestSealOpen(t *testing.T) {
	s, err := NewSealer("k1", map[string][]byte{
		"k1": mustKey(t, "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="),
	})
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}

	sealed, err := s.Seal("sk-live-123", "provider:openai")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if strings.Contains(sealed, "sk-live-123") || !strings.HasPrefix(sealed, "v1.k1.") {
		t.Fatalf("unexpected sealed form %q", sealed)
	}

	out, err := s.Open(sealed, "provider:openai")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if out != "sk-live-123" {
		t.Fatalf("expected original string, got %q", out)
	}

	if _, err := s.Open(sealed, "provider:vllm"); err == nil {
		t.Fatalf("expected open under a different scope to fail")
	}
}

func TestRotationOpenOldSealNew(t *testing.T) {
	oldKey := mustKey(t, "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=")
	newKey := mustKey(t, "AQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQE=")

	oldSealer, err := NewSealer("old", map[string][]byte{"old": oldKey})
	if err != nil {
		t.Fatalf("old sealer: %v", err)
	}
	legacy, err := oldSealer.Seal("legacy", "totp:u1")
	if err != nil {
		t.Fatalf("old seal: %v", err)
	}

	rotated, err := NewSealer("new", map[string][]byte{"old": oldKey, "new": newKey})
	if err != nil {
		t.Fatalf("rotated sealer: %v", err)
	}
	if !rotated.NeedsRotation(legacy) {
		t.Fatalf("expected value sealed with old key to need rotation")
	}

	resealed, err := rotated.Reseal(legacy, "totp:u1")
	if err != nil {
		t.Fatalf("reseal: %v", err)
	}
	if rotated.NeedsRotation(resealed) {
		t.Fatalf("resealed value still under old key: %q", resealed)
	}
	plain, err := rotated.Open(resealed, "totp:u1")
	if err != nil || plain != "legacy" {
		t.Fatalf("open resealed: %q %v", plain, err)
	}
}

func TestSealJSON(t *testing.T) {
	s, err := NewSealer("k", map[string][]byte{"k": mustKey(t, "AQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQE=")})
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}
	sealed, err := s.SealJSON(map[string]any{"endpoint": "http://gpu:8000"}, "provider:local")
	if err != nil {
		t.Fatalf("seal json: %v", err)
	}
	var out map[string]any
	if err := s.OpenJSON(sealed, "provider:local", &out); err != nil {
		t.Fatalf("open json: %v", err)
	}
	if out["endpoint"] != "http://gpu:8000" {
		t.Fatalf("unexpected params %#v", out)
	}
}

func TestOpenMalformed(t *testing.T) {
	s, err := NewSealer("k", map[string][]byte{"k": mustKey(t, "AQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQE=")})
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}
	for _, raw := range []string{"", "plain", "v2.k.abc", "v1..abc", "v1.k.!!!"} {
		if _, err := s.Open(raw, ""); !errors.Is(err, ErrMalformed) {
			t.Fatalf("%q: expected ErrMalformed, got %v", raw, err)
		}
	}
}

func mustKey(t *testing.T, b64 string) []byte {
	t.Helper()
	k, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		t.Fatalf("decode key: %v", err)
	}
	if len(k) != 32 {
		t.Fatalf("expected 32-byte key, got %d", len(k))
	}
	return k
}
