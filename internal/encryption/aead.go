// Package encryption provides field-level encryption for sensitive data at
// rest and the lifecycle of the keys behind it.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/Harshith2412/zta-finance/internal/domain"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// Cipher encrypts and decrypts small payloads with AES-256-GCM. The wire
// form is base64(nonce || ciphertext) with a fresh 12-byte nonce per call,
// so encrypting the same plaintext twice never yields the same output.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates a Cipher from a 32-byte key.
func NewCipher(key domain.SecretBytes) (*Cipher, error) {
	raw := key.Expose()
	if len(raw) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d: %w", KeySize, len(raw), domain.ErrInvalidInput)
	}

	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// GenerateKey returns a fresh random AES-256 key.
func GenerateKey() (domain.SecretBytes, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return domain.SecretBytes(key), nil
}

// Encrypt seals plaintext and returns the encoded wire form.
func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens an encoded wire form produced by Encrypt. Tampered or
// truncated input fails authentication and returns an error.
func (c *Cipher) Decrypt(encoded string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", domain.ErrInvalidInput)
	}
	if len(sealed) < c.aead.NonceSize() {
		return nil, fmt.Errorf("ciphertext shorter than nonce: %w", domain.ErrInvalidInput)
	}

	nonce, ciphertext := sealed[:c.aead.NonceSize()], sealed[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("open ciphertext: %w", domain.ErrInvalidInput)
	}
	return plaintext, nil
}

// EncryptValue seals any JSON-encodable value.
func (c *Cipher) EncryptValue(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal value: %w", err)
	}
	return c.Encrypt(raw)
}

// DecryptValue opens a sealed value into out.
func (c *Cipher) DecryptValue(encoded string, out any) error {
	raw, err := c.Decrypt(encoded)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("unmarshal value: %w", err)
	}
	return nil
}

// EncryptFields replaces the named fields of record with their sealed forms
// in place. Missing fields are skipped.
func (c *Cipher) EncryptFields(record map[string]any, fields ...string) error {
	for _, f := range fields {
		v, ok := record[f]
		if !ok || v == nil {
			continue
		}
		sealed, err := c.EncryptValue(v)
		if err != nil {
			return fmt.Errorf("encrypt field %q: %w", f, err)
		}
		record[f] = sealed
	}
	return nil
}

// DecryptFields reverses EncryptFields. Fields that are not strings are left
// alone; they were never encrypted.
func (c *Cipher) DecryptFields(record map[string]any, fields ...string) error {
	for _, f := range fields {
		sealed, ok := record[f].(string)
		if !ok {
			continue
		}
		var v any
		if err := c.DecryptValue(sealed, &v); err != nil {
			return fmt.Errorf("decrypt field %q: %w", f, err)
		}
		record[f] = v
	}
	return nil
}
