// Package crypto seals small secrets, such as the auth token, before they
// are written to shared storage.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	// aesKeyLen is the derived AES-256 key length.
	aesKeyLen = 32
	// sealPrefix versions the sealed format.
	sealPrefix = "v1:"
)

// keySalt binds derived keys to this use. The passphrase carries the
// secrecy, so the salt is fixed and the key is derived once per process.
var keySalt = []byte("justersync/sealed-value")

// ErrNotSealed is returned by Open for values that were not produced by Seal.
var ErrNotSealed = errors.New("crypto: value is not sealed")

// Sealer encrypts values with AES-256-GCM under a key derived from a
// passphrase with PBKDF2-HMAC-SHA256.
type Sealer struct {
	gcm cipher.AEAD
}

// NewSealer derives the key for passphrase.
func NewSealer(passphrase string) (*Sealer, error) {
	return newSealer(passphrase, pbkdf2Iterations)
}

func newSealer(passphrase string, iterations int) (*Sealer, error) {
	if passphrase == "" {
		return nil, errors.New("crypto: passphrase must not be empty")
	}

	key := pbkdf2.Key([]byte(passphrase), keySalt, iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return &Sealer{gcm: gcm}, nil
}

// Seal encrypts plaintext with a fresh random nonce and returns the
// printable sealed form.
func (s *Sealer) Seal(plaintext string) (string, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("crypto: generating nonce: %w", err)
	}
	out := s.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealPrefix + base64.RawURLEncoding.EncodeToString(out), nil
}

// Open reverses Seal. Values sealed under another passphrase or modified
// in storage fail authentication.
func (s *Sealer) Open(sealed string) (string, error) {
	body, ok := strings.CutPrefix(sealed, sealPrefix)
	if !ok {
		return "", ErrNotSealed
	}
	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding sealed value: %w", err)
	}
	n := s.gcm.NonceSize()
	if len(raw) < n {
		return "", fmt.Errorf("crypto: sealed value too short")
	}
	plaintext, err := s.gcm.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decryption failed (wrong passphrase?): %w", err)
	}
	return string(plaintext), nil
}
