package auth

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
	"github.com/router-for-me/clipify/internal/util"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	sealVersion = byte(1)
	saltSize    = 16

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

var errSealedTooShort = errors.New("sealed value too short")

// Sealer encrypts CBOR-encoded values with XChaCha20-Poly1305.
// The storage key is bound as additional data so a value cannot be moved between keys.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer creates a sealer from a 32-byte key.
func NewSealer(key []byte) (*Sealer, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("sealer: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal encodes v and returns version || nonce || ciphertext.
func (s *Sealer) Seal(key string, v any) ([]byte, error) {
	plaintext, err := cbor.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("sealer: encode: %w", err)
	}
	out := make([]byte, 1+s.aead.NonceSize(), 1+s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	out[0] = sealVersion
	nonce := out[1:]
	if _, err = rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("sealer: nonce: %w", err)
	}
	return s.aead.Seal(out, nonce, plaintext, []byte(key)), nil
}

// Open authenticates and decodes a value produced by Seal under the same key.
func (s *Sealer) Open(key string, sealed []byte, v any) error {
	headerLen := 1 + s.aead.NonceSize()
	if len(sealed) < headerLen+s.aead.Overhead() {
		return fmt.Errorf("sealer: %w", errSealedTooShort)
	}
	if sealed[0] != sealVersion {
		return fmt.Errorf("sealer: unsupported version %d", sealed[0])
	}
	plaintext, err := s.aead.Open(nil, sealed[1:headerLen], sealed[headerLen:], []byte(key))
	if err != nil {
		return fmt.Errorf("sealer: open: %w", err)
	}
	if err = cbor.Unmarshal(plaintext, v); err != nil {
		return fmt.Errorf("sealer: decode: %w", err)
	}
	return nil
}

// LoadOrCreateKeyFile reads a 32-byte key from path, creating it with 0600 permissions when missing.
func LoadOrCreateKeyFile(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(key) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("sealer: key file %s has %d bytes, want %d", filepath.Base(path), len(key), chacha20poly1305.KeySize)
		}
		return key, nil
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("sealer: read key file: %w", err)
	}

	key = make([]byte, chacha20poly1305.KeySize)
	if _, err = rand.Read(key); err != nil {
		return nil, fmt.Errorf("sealer: generate key: %w", err)
	}
	if err = util.WriteFileAtomic(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("sealer: write key file: %w", err)
	}
	return key, nil
}

// DeriveKey derives a sealing key from passphrase with Argon2id. The random
// salt lives in saltPath and is created on first use.
func DeriveKey(passphrase, saltPath string) ([]byte, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("sealer: empty passphrase")
	}
	salt, err := os.ReadFile(saltPath)
	if errors.Is(err, os.ErrNotExist) {
		salt = make([]byte, saltSize)
		if _, err = rand.Read(salt); err != nil {
			return nil, fmt.Errorf("sealer: generate salt: %w", err)
		}
		if err = util.WriteFileAtomic(saltPath, salt, 0o600); err != nil {
			return nil, fmt.Errorf("sealer: write salt: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("sealer: read salt: %w", err)
	}
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize), nil
}

// NewSealerForDataDir builds the sealer used by the agent: Argon2id over the
// passphrase when one is configured, otherwise a random key file.
func NewSealerForDataDir(dataDir, passphrase string) (*Sealer, error) {
	var (
		key []byte
		err error
	)
	if passphrase != "" {
		key, err = DeriveKey(passphrase, filepath.Join(dataDir, "store.salt"))
	} else {
		key, err = LoadOrCreateKeyFile(filepath.Join(dataDir, "store.key"))
	}
	if err != nil {
		return nil, err
	}
	return NewSealer(key)
}
