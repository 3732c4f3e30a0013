package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for DeriveKey.
const (
	kdfMemory      = 19 * 1024 // KiB
	kdfIterations  = 2
	kdfParallelism = 1
	kdfKeyLength   = 32

	// SaltSize is the salt length expected by DeriveKey.
	SaltSize = 16
)

var ErrCiphertextTooShort = errors.New("cryptox: ciphertext too short")

// NewSalt returns SaltSize random bytes.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("cryptox: read salt: %w", err)
	}
	return salt, nil
}

// DeriveKey stretches a passphrase into an AES-256 key with Argon2id.
func DeriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, kdfIterations, kdfMemory, kdfParallelism, kdfKeyLength)
}

// Sealer performs AES-256-GCM authenticated encryption.
// Sealed output is laid out as [nonce][ciphertext+tag].
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer builds a Sealer from a 32-byte key.
func NewSealer(key []byte) (*Sealer, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptox: create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptox: create gcm: %w", err)
	}

	return &Sealer{aead: gcm}, nil
}

// Seal encrypts plaintext, binding it to additional data (may be nil).
func (s *Sealer) Seal(plaintext, additional []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("cryptox: read nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, additional), nil
}

// Open reverses Seal. The additional data must match.
func (s *Sealer) Open(sealed, additional []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(sealed) < n {
		return nil, ErrCiphertextTooShort
	}

	plaintext, err := s.aead.Open(nil, sealed[:n], sealed[n:], additional)
	if err != nil {
		return nil, fmt.Errorf("cryptox: open: %w", err)
	}
	return plaintext, nil
}
