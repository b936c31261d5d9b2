// Package crypto seals secrets at rest (provider credentials, TOTP seeds)
// with AES-256-GCM under a rotating set of master keys.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const tokenVersion = "v1"

var ErrMalformed = errors.New("malformed sealed value")

// Sealer encrypts with the current key and decrypts with any known key.
// Sealed values look like "v1.<key id>.<base64 nonce|ciphertext>".
type Sealer struct {
	currentKeyID string
	aeads        map[string]cipher.AEAD
}

func NewSealer(currentKeyID string, keys map[string][]byte) (*Sealer, error) {
	if currentKeyID == "" {
		return nil, fmt.Errorf("current key id is empty")
	}
	if _, ok := keys[currentKeyID]; !ok {
		return nil, fmt.Errorf("current key id %q not found", currentKeyID)
	}
	aeads := make(map[string]cipher.AEAD, len(keys))
	for id, key := range keys {
		if strings.Contains(id, ".") {
			return nil, fmt.Errorf("key id %q must not contain '.'", id)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("key %q must be 32 bytes", id)
		}
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("new cipher %q: %w", id, err)
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("new gcm %q: %w", id, err)
		}
		aeads[id] = aead
	}
	return &Sealer{currentKeyID: currentKeyID, aeads: aeads}, nil
}

// Seal encrypts plaintext. scope is authenticated but not stored; Open must
// be given the same scope, so a value sealed for one record cannot be moved to another.
func (s *Sealer) Seal(plaintext, scope string) (string, error) {
	aead := s.aeads[s.currentKeyID]
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	out := aead.Seal(nonce, nonce, []byte(plaintext), []byte(scope))
	return tokenVersion + "." + s.currentKeyID + "." + base64.RawURLEncoding.EncodeToString(out), nil
}

func (s *Sealer) Open(sealed, scope string) (string, error) {
	keyID, payload, err := split(sealed)
	if err != nil {
		return "", err
	}
	aead, ok := s.aeads[keyID]
	if !ok {
		return "", fmt.Errorf("unknown key id %q", keyID)
	}
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(raw) < aead.NonceSize() {
		return "", ErrMalformed
	}
	nonce, ct := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, []byte(scope))
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(pt), nil
}

func (s *Sealer) SealJSON(v any, scope string) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal sealed value: %w", err)
	}
	return s.Seal(string(b), scope)
}

func (s *Sealer) OpenJSON(sealed, scope string, v any) error {
	pt, err := s.Open(sealed, scope)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(pt), v); err != nil {
		return fmt.Errorf("unmarshal sealed value: %w", err)
	}
	return nil
}

// NeedsRotation reports whether sealed was produced under a key other than the current one.
func (s *Sealer) NeedsRotation(sealed string) bool {
	keyID, _, err := split(sealed)
	return err == nil && keyID != s.currentKeyID
}

func (s *Sealer) Reseal(sealed, scope string) (string, error) {
	pt, err := s.Open(sealed, scope)
	if err != nil {
		return "", err
	}
	return s.Seal(pt, scope)
}

func split(sealed string) (keyID, payload string, err error) {
	parts := strings.SplitN(sealed, ".", 3)
	if len(parts) != 3 || parts[0] != tokenVersion || parts[1] == "" {
		return "", "", ErrMalformed
	}
	return parts[1], parts[2], nil
}
