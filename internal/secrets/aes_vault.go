package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/pbkdf2"
	"crypto/rand"
	"crypto/sha256"

	"github.com/forensicdev/warden/pkg/schema"
)

const defaultIterations = 100_000

// Config selects the vault key. Provide either MasterKey (raw 32 bytes)
// or Passphrase plus Salt for PBKDF2 derivation.
type Config struct {
	MasterKey  []byte
	Passphrase string
	Salt       []byte
	Iterations int
}

// AESVault seals secret values with AES-256-GCM before they reach the
// store, so the case database never holds plaintext credentials.
type AESVault struct {
	store Store
	aead  cipher.AEAD
}

// NewAESVault creates a vault over the given store.
func NewAESVault(store Store, cfg Config) (*AESVault, error) {
	key, err := deriveKey(cfg)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSecret, "cipher init failed: %s", err.Error()).WithCause(err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSecret, "gcm init failed: %s", err.Error()).WithCause(err)
	}
	return &AESVault{store: store, aead: aead}, nil
}

func deriveKey(cfg Config) ([]byte, error) {
	if len(cfg.MasterKey) > 0 {
		if len(cfg.MasterKey) != 32 {
			return nil, schema.NewErrorf(schema.ErrCodeSecret,
				"master key must be 32 bytes, got %d", len(cfg.MasterKey))
		}
		return cfg.MasterKey, nil
	}
	if cfg.Passphrase == "" {
		return nil, schema.NewError(schema.ErrCodeSecret, "vault needs a master key or a passphrase")
	}
	if len(cfg.Salt) == 0 {
		return nil, schema.NewError(schema.ErrCodeSecret, "passphrase derivation needs a salt")
	}
	iterations := cfg.Iterations
	if iterations <= 0 {
		iterations = defaultIterations
	}
	return pbkdf2.Key(sha256.New, cfg.Passphrase, cfg.Salt, iterations, 32)
}

// Store encrypts value and persists it under key. Writing an existing
// key rotates the secret in place.
func (v *AESVault) Store(ctx context.Context, key string, value []byte) error {
	sealed, err := v.seal(value)
	if err != nil {
		return err
	}
	return v.store.StoreSecret(ctx, key, sealed)
}

// Resolve returns the decrypted value for key.
func (v *AESVault) Resolve(ctx context.Context, key string) ([]byte, error) {
	sealed, err := v.store.GetSecret(ctx, key)
	if err != nil {
		return nil, err
	}
	return v.open(sealed)
}

// Delete removes the secret under key.
func (v *AESVault) Delete(ctx context.Context, key string) error {
	return v.store.DeleteSecret(ctx, key)
}

// List returns the stored key names. Values stay sealed.
func (v *AESVault) List(ctx context.Context) ([]string, error) {
	return v.store.ListSecrets(ctx)
}

// seal prepends a fresh random nonce to the GCM ciphertext.
func (v *AESVault) seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSecret, "nonce generation failed: %s", err.Error()).WithCause(err)
	}
	return v.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (v *AESVault) open(sealed []byte) ([]byte, error) {
	nonceSize := v.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, schema.NewError(schema.ErrCodeSecret, "sealed value too short")
	}
	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSecret,
			"decrypt failed; wrong key or tampered value").WithCause(err)
	}
	return plaintext, nil
}
