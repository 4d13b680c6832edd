// Package secrets keeps worker credentials (acquisition share passwords,
// scanner license keys, export tokens) encrypted at rest. Workers receive
// them through ${{secrets.KEY}} references in their environment; plaintext
// exists only in memory between resolve and spawn and is never logged or
// written to the audit trail.
package secrets

import "context"

// Vault stores and resolves named secrets.
type Vault interface {
	Resolve(ctx context.Context, key string) ([]byte, error)
	Store(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]string, error)
}

// Store is the persistence the vault needs. Values arrive encrypted.
// Satisfied by the audit recorder implementations.
type Store interface {
	StoreSecret(ctx context.Context, key string, value []byte) error
	GetSecret(ctx context.Context, key string) ([]byte, error)
	DeleteSecret(ctx context.Context, key string) error
	ListSecrets(ctx context.Context) ([]string, error)
}

// Resolver adapts a vault to the launcher's secret resolver signature.
func Resolver(v Vault) func(ctx context.Context, key string) (string, error) {
	return func(ctx context.Context, key string) (string, error) {
		value, err := v.Resolve(ctx, key)
		if err != nil {
			return "", err
		}
		return string(value), nil
	}
}
