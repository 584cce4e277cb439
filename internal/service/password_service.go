package service

import "context"

type PasswordService interface {
	// CheckPassword rejects empty or oversized input before any expensive work.
	CheckPassword(password string) error
	Hash(ctx context.Context, password string) (string, error)
	Verify(ctx context.Context, password, encoded string) (bool, error)
	NeedsRehash(encoded string) bool
	// Burn performs one derivation at current cost and discards the result.
	Burn(ctx context.Context, password string)
}
