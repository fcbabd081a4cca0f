// Package vault seals refresh tokens with an authenticated symmetric cipher.
//
// Sealed blobs are self-describing: a one-byte version tag, a random
// 24-byte nonce, then the XChaCha20-Poly1305 ciphertext with its 16-byte
// authentication tag. The plaintext never appears in logs or error messages.
package vault

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/spinlog/spinlog/internal/shared"
	"golang.org/x/crypto/chacha20poly1305"
)

// version tags the sealed-blob layout so the cipher can be rotated later.
const version byte = 0x01

const minSecretBytes = 16

// Vault seals and unseals refresh tokens with a process-scoped secret.
type Vault struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
	hmacKey []byte
}

// New derives a cipher key from secret and returns a ready Vault.
//
// The secret may be a hex string or raw bytes; either way it must decode to
// at least 128 bits. A short or empty secret is a startup-fatal condition.
func New(secret string) (*Vault, error) {
	if secret == "" {
		return nil, shared.ErrMissingKey
	}

	raw := []byte(secret)
	if decoded, err := hex.DecodeString(secret); err == nil {
		raw = decoded
	}
	if len(raw) < minSecretBytes {
		return nil, fmt.Errorf("%w: need at least %d bytes", shared.ErrMissingKey, minSecretBytes)
	}

	key := sha256.Sum256(raw)
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to construct cipher: %w", err)
	}

	mac := sha256.Sum256(append([]byte("spinlog-state:"), raw...))

	return &Vault{aead: aead, hmacKey: mac[:]}, nil
}

// Seal encrypts plaintext and returns the versioned opaque blob.
func (v *Vault) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, 1+len(nonce)+len(plaintext)+chacha20poly1305.Overhead)
	out = append(out, version)
	out = append(out, nonce...)
	out = v.aead.Seal(out, nonce, plaintext, nil)
	return out, nil
}

// Unseal authenticates and decrypts a sealed blob.
//
// Any tampering, truncation, or wrong-key condition surfaces as
// [shared.ErrCorruptCredential]; the credential must be re-authorized.
func (v *Vault) Unseal(sealed []byte) ([]byte, error) {
	if len(sealed) < 1+chacha20poly1305.NonceSizeX+chacha20poly1305.Overhead {
		return nil, fmt.Errorf("%w: sealed blob too short", shared.ErrCorruptCredential)
	}
	if sealed[0] != version {
		return nil, fmt.Errorf("%w: unknown version %d", shared.ErrCorruptCredential, sealed[0])
	}

	nonce := sealed[1 : 1+chacha20poly1305.NonceSizeX]
	ciphertext := sealed[1+chacha20poly1305.NonceSizeX:]

	plaintext, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", shared.ErrCorruptCredential)
	}
	return plaintext, nil
}

// SignState returns an HMAC tag for an OAuth state nonce, hex encoded.
func (v *Vault) SignState(nonce string) string {
	mac := hmac.New(sha256.New, v.hmacKey)
	mac.Write([]byte(nonce))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyState reports whether sig is a valid tag for nonce.
func (v *Vault) VerifyState(nonce, sig string) bool {
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, v.hmacKey)
	mac.Write([]byte(nonce))
	return hmac.Equal(mac.Sum(nil), want)
}
