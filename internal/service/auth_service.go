package service

import "context"

type AuthService interface {
	Register(ctx context.Context, username, password string) error
	Login(ctx context.Context, username, password string) (bool, error)
	ChangePassword(ctx context.Context, username, current, next string) error
	Remove(ctx context.Context, username string) error
	// List returns registered usernames; secrets never leave the store.
	List(ctx context.Context) ([]string, error)
}
