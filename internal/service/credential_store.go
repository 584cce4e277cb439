package service

import (
	"context"

	"auth/internal/domain"
)

// CredentialStore is the persistence boundary of the auth service.
// Implementations live in internal/store and report store.ErrRecordNotFound,
// store.ErrConflict and store.ErrStaleRecord.
type CredentialStore interface {
	Lookup(ctx context.Context, username string) (*domain.Credential, error)
	// Insert must fail with store.ErrConflict when the username exists.
	Insert(ctx context.Context, c *domain.Credential) error
	// Replace swaps the secret only if the stored one still equals previous.
	Replace(ctx context.Context, username, previous, next string) error
	Delete(ctx context.Context, username string) error
	// List returns every stored username in ascending order.
	List(ctx context.Context) ([]string, error)
}
