// Package crypto implements the reversible codec used for at-rest-sensitive
// fields such as card tokens and display names.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// ErrInvalidKey indicates unusable key material. Surfacing it at process start
// is a fatal configuration error.
var ErrInvalidKey = errors.New("invalid encryption key")

// DecryptionError wraps a per-record decryption failure (rotated key, corrupt
// ciphertext). Callers scanning multiple records treat the row as unreadable
// and continue.
type DecryptionError struct {
	Err error
}

func (e *DecryptionError) Error() string { return fmt.Sprintf("decrypt field: %v", e.Err) }
func (e *DecryptionError) Unwrap() error { return e.Err }

// IsDecryptionError reports whether err is a per-record decryption failure.
func IsDecryptionError(err error) bool {
	var de *DecryptionError
	return errors.As(err, &de)
}

const keyInfo = "meal-service/field-codec/v1"

// FieldCodec encrypts and decrypts individual string fields using
// AES-256-GCM. Ciphertexts are base64(nonce || sealed). The empty string is
// passed through untouched in both directions so optional columns stay NULL-ish.
type FieldCodec struct {
	aead cipher.AEAD
}

// NewFieldCodec derives an AES-256 key from the base64-encoded key material
// via HKDF-SHA256 and returns a ready codec. Key material shorter than 16
// bytes is rejected.
func NewFieldCodec(encodedKey string) (*FieldCodec, error) {
	encodedKey = strings.TrimSpace(encodedKey)
	if encodedKey == "" {
		return nil, fmt.Errorf("%w: ENCRYPTION_KEY is empty", ErrInvalidKey)
	}

	material, err := decodeKey(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(material) < 16 {
		return nil, fmt.Errorf("%w: key material must be at least 16 bytes, got %d", ErrInvalidKey, len(material))
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, material, nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("%w: derive key: %v", ErrInvalidKey, err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &FieldCodec{aead: aead}, nil
}

func decodeKey(encoded string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	} {
		if raw, err := enc.DecodeString(encoded); err == nil {
			return raw, nil
		}
	}
	return nil, errors.New("key is not valid base64")
}

// Encrypt seals plaintext under a fresh random nonce. Encrypt("") == "".
func (c *FieldCodec) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Decrypt("") == "". Any failure is reported as a
// DecryptionError so callers can skip the record rather than abort a scan.
func (c *FieldCodec) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", &DecryptionError{Err: err}
	}
	if len(raw) < c.aead.NonceSize() {
		return "", &DecryptionError{Err: errors.New("ciphertext shorter than nonce")}
	}
	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", &DecryptionError{Err: err}
	}
	return string(plain), nil
}

// GenerateKey returns fresh base64 key material suitable for ENCRYPTION_KEY.
func GenerateKey() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
