// Package secret implements the credential cipher: PBKDF2 key derivation
// from the master secret and tagged AEAD encryption of stored secrets.
package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

// TagPrefix marks a string as ciphertext produced by this cipher. Untagged
// values are legacy plaintext rows and pass through Decrypt unchanged, so
// pre-encryption databases upgrade transparently on the next write.
const TagPrefix = "mv1:"

// Key derivation parameters. The salt is fixed: confidentiality rests on
// the strength of the master secret, not on salt uniqueness, and a fixed
// salt keeps every process able to decrypt the shared database. This is a
// deliberate trade-off, not a pattern to copy into password storage.
const (
	kdfIterations = 100_000
	keyLen        = 32
)

var kdfSalt = []byte("mailvault.credential.v1")

// ErrDecrypt is the base error for any decryption failure. Callers must
// treat it as fatal to the record being read, never substitute a guess.
var ErrDecrypt = errors.New("secret: decryption failed")

// DecryptionError wraps the AEAD failure for a single tagged value.
type DecryptionError struct {
	Cause error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("secret: decryption failed: %v", e.Cause)
}

func (e *DecryptionError) Unwrap() error { return ErrDecrypt }

// Cipher encrypts and decrypts stored secrets with a key derived once from
// the master secret. It is safe for concurrent use.
type Cipher struct {
	key []byte
}

// New derives the encryption key from masterSecret. An empty master secret
// is a configuration error; there is no fallback key.
func New(masterSecret string) (*Cipher, error) {
	if masterSecret == "" {
		return nil, errors.New("secret: master secret must not be empty")
	}
	key := pbkdf2.Key([]byte(masterSecret), kdfSalt, kdfIterations, keyLen, sha256.New)
	return &Cipher{key: key}, nil
}

// Encrypt returns the tagged ciphertext for plaintext. Already-tagged input
// is returned unchanged, so re-encrypting on every write is idempotent.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if strings.HasPrefix(plaintext, TagPrefix) {
		return plaintext, nil
	}

	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", fmt.Errorf("secret: creating AEAD: %w", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("secret: reading nonce: %w", err)
	}

	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	out = append(out, aead.Seal(nil, nonce, []byte(plaintext), nil)...)

	return TagPrefix + base64.RawStdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Untagged input is returned as-is (legacy
// plaintext). Tagged input that fails to authenticate yields a
// *DecryptionError and never a silently wrong plaintext.
func (c *Cipher) Decrypt(value string) (string, error) {
	if !strings.HasPrefix(value, TagPrefix) {
		return value, nil
	}

	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(value, TagPrefix))
	if err != nil {
		return "", &DecryptionError{Cause: err}
	}
	if len(raw) < chacha20poly1305.NonceSizeX {
		return "", &DecryptionError{Cause: errors.New("ciphertext shorter than nonce")}
	}

	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", fmt.Errorf("secret: creating AEAD: %w", err)
	}

	nonce := raw[:chacha20poly1305.NonceSizeX]
	ct := raw[chacha20poly1305.NonceSizeX:]

	plaintext, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", &DecryptionError{Cause: err}
	}
	return string(plaintext), nil
}
