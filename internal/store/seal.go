package store

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeyEnv names the environment variable holding the sealing passphrase.
const KeyEnv = "SCRAPEWIZARD_STATE_KEY"

// ErrUnsealed is returned when a sealed blob fails authentication.
var ErrUnsealed = errors.New("store: storage state cannot be unsealed")

// Sealer encrypts storage state with XChaCha20-Poly1305. The session ID
// is bound as additional data so a blob cannot be moved between sessions.
type Sealer struct {
	key []byte
}

// NewSealer derives a 256-bit key from passphrase.
func NewSealer(passphrase string) (*Sealer, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("store: empty sealing passphrase")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, []byte(passphrase), []byte("scrapewizard"), []byte("storage-state"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("store: derive key: %w", err)
	}
	return &Sealer{key: key}, nil
}

// Seal encrypts plain. Output is nonce || ciphertext.
func (s *Sealer) Seal(sessionID string, plain []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("store: nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plain, []byte(sessionID)), nil
}

// Open decrypts a blob produced by Seal for the same session.
func (s *Sealer) Open(sessionID string, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrUnsealed
	}
	nonce, ct := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ct, []byte(sessionID))
	if err != nil {
		return nil, ErrUnsealed
	}
	return plain, nil
}
