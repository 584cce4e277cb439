package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrDuplicateIdentity  = errors.New("username already registered")
	ErrCorruptRecord      = errors.New("corrupt credential record")
	ErrStoreUnavailable   = errors.New("credential store unavailable")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrCredentialNotFound = errors.New("credential not found")
	ErrCredentialChanged  = errors.New("credential changed concurrently")
)

// Input errors wrap ErrInvalidInput so callers can match either.
var (
	ErrEmptyUsername   = fmt.Errorf("%w: empty username", ErrInvalidInput)
	ErrUsernameTooLong = fmt.Errorf("%w: username too long", ErrInvalidInput)
	ErrEmptyPassword   = fmt.Errorf("%w: empty password", ErrInvalidInput)
	ErrPasswordTooLong = fmt.Errorf("%w: password too long", ErrInvalidInput)
)
