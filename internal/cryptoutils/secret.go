package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

const keySize = 32

// sealedPrefix marks values encrypted by SecretBox, so plaintext rows
// written before a key was configured still read back correctly.
const sealedPrefix = "enc:"

// SecretBox seals small secrets with AES-GCM under a single key.
// Provisioning results can carry generated credentials, so the job
// store runs them through a box before they hit the database.
type SecretBox struct {
	aead cipher.AEAD
}

// NewSecretBox builds a box from a base64-encoded 32-byte key. An
// empty key returns a nil box, which seals and opens as identity.
func NewSecretBox(base64Key string) (*SecretBox, error) {
	if base64Key == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("encryption key must be %d bytes", keySize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return &SecretBox{aead: aead}, nil
}

// Seal encrypts plaintext and returns a prefixed base64 envelope. A
// nil box or empty plaintext passes through unchanged.
func (b *SecretBox) Seal(plaintext []byte) ([]byte, error) {
	if b == nil || len(plaintext) == 0 {
		return plaintext, nil
	}

	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}

	sealed := b.aead.Seal(nonce, nonce, plaintext, nil)
	return []byte(sealedPrefix + base64.StdEncoding.EncodeToString(sealed)), nil
}

// Open decrypts a value produced by Seal. Values without the sealed
// prefix are returned as-is.
func (b *SecretBox) Open(value []byte) ([]byte, error) {
	s := string(value)
	if !strings.HasPrefix(s, sealedPrefix) {
		return value, nil
	}
	if b == nil {
		return nil, fmt.Errorf("sealed value but no encryption key configured")
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, sealedPrefix))
	if err != nil {
		return nil, fmt.Errorf("decode sealed value: %w", err)
	}
	if len(raw) < b.aead.NonceSize() {
		return nil, fmt.Errorf("sealed value too short")
	}

	nonce := raw[:b.aead.NonceSize()]
	plaintext, err := b.aead.Open(nil, nonce, raw[b.aead.NonceSize():], nil)
	if err != nil {
		return nil, fmt.Errorf("open sealed value: %w", err)
	}
	return plaintext, nil
}
