package cryptox

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

var (
	ErrKeyTooShort   = errors.New("cryptox: master key must be at least 32 bytes")
	ErrCiphertext    = errors.New("cryptox: ciphertext too short")
	ErrDecryptFailed = errors.New("cryptox: decryption failed")
)

// MinMasterKeySize is the smallest accepted master key.
const MinMasterKeySize = 32

// Sealer encrypts small secrets (refresh tokens) before they reach a store
// driver. Keys are derived per purpose from one master key with HKDF-SHA256,
// and sealed with XChaCha20-Poly1305.
//
// Output format: [24-byte nonce][ciphertext][16-byte tag]
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives a key for purpose from master.
func NewSealer(master []byte, purpose string) (*Sealer, error) {
	if len(master) < MinMasterKeySize {
		return nil, ErrKeyTooShort
	}

	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, master, nil, []byte("signon/"+purpose))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("cryptox: derive key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("cryptox: create cipher: %w", err)
	}

	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext. aad binds the ciphertext to its owner (the
// account id) so a row copied to another account fails to open.
func (s *Sealer) Seal(plaintext, aad []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("cryptox: generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, aad), nil
}

// Open decrypts data produced by Seal with the same aad.
func (s *Sealer) Open(sealed, aad []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(sealed) < n+s.aead.Overhead() {
		return nil, ErrCiphertext
	}

	plaintext, err := s.aead.Open(nil, sealed[:n], sealed[n:], aad)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

// LoadMasterKey reads key material from path, or generates an ephemeral key
// when path is empty. The bool reports whether the key is ephemeral, in
// which case sealed data will not survive a restart.
func LoadMasterKey(path string) ([]byte, bool, error) {
	if path == "" {
		key := make([]byte, MinMasterKeySize)
		if _, err := rand.Read(key); err != nil {
			return nil, false, fmt.Errorf("cryptox: generate ephemeral master key: %w", err)
		}
		return key, true, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("cryptox: read master key file: %w", err)
	}

	data = []byte(strings.TrimSpace(string(data)))
	if len(data) < MinMasterKeySize {
		return nil, false, ErrKeyTooShort
	}
	return data, false, nil
}
