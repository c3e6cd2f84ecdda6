// Package cipher encrypts access tokens for storage at rest.
//
// A 32-byte key is derived once, at construction, from the configured secret using
// PBKDF2-SHA256. Tokens are sealed with AES-256-GCM so tampered ciphertext is rejected
// rather than decoded into garbage, and the result is base64url-encoded so it can live
// in a text column.
package cipher

import (
	"crypto/aes"
	gocipher "crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// The salt is fixed and public: the secret, not the salt, carries the
	// confidentiality. Changing it invalidates every stored ciphertext.
	keySalt       = "meta_ads_oauth_salt"
	keyIterations = 100_000
	keyLength     = 32
)

// ErrDecryption is returned when ciphertext cannot be authenticated or decoded. It
// signals key rotation or data corruption and must never be collapsed into "no token".
var ErrDecryption = errors.New("token decryption failed")

// TokenCipher performs authenticated symmetric encryption of token strings.
// The derived key is immutable, so a single instance is safe for concurrent use.
type TokenCipher struct {
	aead gocipher.AEAD
}

// New derives the encryption key from secret and prepares the AEAD. An empty secret is
// refused outright: failing here is fatal to the component, not deferred to the first
// encrypt call.
func New(secret string) (*TokenCipher, error) {
	if secret == "" {
		return nil, errors.New("cipher: encryption secret must not be empty")
	}

	key := pbkdf2.Key([]byte(secret), []byte(keySalt), keyIterations, keyLength, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	aead, err := gocipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}

	return &TokenCipher{aead: aead}, nil
}

// Encrypt seals plaintext and returns a base64url string with the random nonce prepended
func (c *TokenCipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("cipher: nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Any undecodable, truncated or tampered input, and any
// ciphertext produced under a different key, fails with ErrDecryption.
func (c *TokenCipher) Decrypt(ciphertext string) (string, error) {
	data, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryption)
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	return string(plaintext), nil
}
