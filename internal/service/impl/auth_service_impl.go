package impl

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"auth/internal/domain"
	"auth/internal/observability/metrics"
	"auth/internal/service"
	"auth/internal/store"

	"github.com/google/uuid"
)

const DefaultMaxUsernameLength = 150

type AuthServiceImpl struct {
	Store             service.CredentialStore
	PasswordService   service.PasswordService
	MaxUsernameLength int
	Logger            *slog.Logger
}

func NewAuthServiceImpl(st service.CredentialStore, passwordService service.PasswordService, logger *slog.Logger) *AuthServiceImpl {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthServiceImpl{
		Store:             st,
		PasswordService:   passwordService,
		MaxUsernameLength: DefaultMaxUsernameLength,
		Logger:            logger,
	}
}

func (a *AuthServiceImpl) Register(ctx context.Context, username, password string) error {
	err := a.register(ctx, username, password)
	metrics.AuthRegistrationsTotal.WithLabelValues(resultLabel(err)).Inc()
	switch {
	case err == nil:
		a.logger().Info("credential registered", "username", username)
	case isOperational(err):
		a.logger().Error("registration failed", "username", username, "error", err)
	default:
		a.logger().Info("registration rejected", "username", username, "reason", err.Error())
	}
	return err
}

func (a *AuthServiceImpl) register(ctx context.Context, username, password string) error {
	if err := a.checkUsername(username); err != nil {
		return err
	}
	if err := a.PasswordService.CheckPassword(password); err != nil {
		return err
	}

	// Cheap pre-check so duplicates do not pay for a derivation. The unique
	// constraint on insert is what actually decides races.
	_, err := a.Store.Lookup(ctx, username)
	switch {
	case err == nil:
		return domain.ErrDuplicateIdentity
	case !errors.Is(err, store.ErrRecordNotFound):
		return a.storeErr(ctx, err)
	}

	encoded, err := a.PasswordService.Hash(ctx, password)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	now := time.Now().UTC()
	cred := &domain.Credential{
		ID:            uuid.New(),
		Username:      username,
		EncodedSecret: encoded,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := a.Store.Insert(ctx, cred); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.ErrDuplicateIdentity
		}
		return a.storeErr(ctx, err)
	}
	return nil
}

// Login reports false for unknown users and wrong passwords alike, and pays
// for a derivation in both cases. An error means the check itself could not
// be made (corrupt record, store outage, cancellation).
func (a *AuthServiceImpl) Login(ctx context.Context, username, password string) (bool, error) {
	ok, err := a.login(ctx, username, password)
	result := "failure"
	switch {
	case err != nil:
		result = "error"
		a.logger().Error("login check failed", "username", username, "error", err)
	case ok:
		result = "success"
	}
	metrics.AuthLoginsTotal.WithLabelValues(result).Inc()
	return ok, err
}

func (a *AuthServiceImpl) login(ctx context.Context, username, password string) (bool, error) {
	if a.checkUsername(username) != nil || a.PasswordService.CheckPassword(password) != nil {
		a.PasswordService.Burn(ctx, password)
		return false, nil
	}

	cred, err := a.Store.Lookup(ctx, username)
	if errors.Is(err, store.ErrRecordNotFound) {
		a.PasswordService.Burn(ctx, password)
		return false, nil
	}
	if err != nil {
		return false, a.storeErr(ctx, err)
	}

	ok, err := a.PasswordService.Verify(ctx, password, cred.EncodedSecret)
	if err != nil || !ok {
		return false, err
	}

	if a.PasswordService.NeedsRehash(cred.EncodedSecret) {
		a.rehash(ctx, cred, password)
	}
	return true, nil
}

// rehash upgrades a record to the current cost parameters. It is best effort:
// the login already succeeded and a failure here only leaves the old record.
func (a *AuthServiceImpl) rehash(ctx context.Context, cred *domain.Credential, password string) {
	encoded, err := a.PasswordService.Hash(ctx, password)
	if err == nil {
		err = a.Store.Replace(ctx, cred.Username, cred.EncodedSecret, encoded)
	}
	if err != nil {
		metrics.CredentialRehashesTotal.WithLabelValues("failure").Inc()
		a.logger().Warn("credential rehash failed", "username", cred.Username, "error", err)
		return
	}
	metrics.CredentialRehashesTotal.WithLabelValues("success").Inc()
	a.logger().Info("credential rehashed", "username", cred.Username)
}

// ChangePassword replaces the stored secret after verifying the current one.
func (a *AuthServiceImpl) ChangePassword(ctx context.Context, username, current, next string) error {
	err := a.changePassword(ctx, username, current, next)
	metrics.PasswordChangesTotal.WithLabelValues(resultLabel(err)).Inc()
	switch {
	case err == nil:
		a.logger().Info("password changed", "username", username)
	case isOperational(err):
		a.logger().Error("password change failed", "username", username, "error", err)
	default:
		a.logger().Info("password change rejected", "username", username, "reason", err.Error())
	}
	return err
}

func (a *AuthServiceImpl) changePassword(ctx context.Context, username, current, next string) error {
	if err := a.checkUsername(username); err != nil {
		return err
	}
	if err := a.PasswordService.CheckPassword(next); err != nil {
		return err
	}
	if a.PasswordService.CheckPassword(current) != nil {
		a.PasswordService.Burn(ctx, current)
		return domain.ErrInvalidCredentials
	}

	cred, err := a.Store.Lookup(ctx, username)
	if errors.Is(err, store.ErrRecordNotFound) {
		a.PasswordService.Burn(ctx, current)
		return domain.ErrInvalidCredentials
	}
	if err != nil {
		return a.storeErr(ctx, err)
	}

	ok, err := a.PasswordService.Verify(ctx, current, cred.EncodedSecret)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrInvalidCredentials
	}

	encoded, err := a.PasswordService.Hash(ctx, next)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err = a.Store.Replace(ctx, username, cred.EncodedSecret, encoded)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrStaleRecord):
		return domain.ErrCredentialChanged
	case errors.Is(err, store.ErrRecordNotFound):
		return domain.ErrInvalidCredentials
	default:
		return a.storeErr(ctx, err)
	}
}

// Remove deletes the credential for username. It performs no password check;
// callers are administrative tooling.
func (a *AuthServiceImpl) Remove(ctx context.Context, username string) error {
	if err := a.checkUsername(username); err != nil {
		return err
	}
	err := a.Store.Delete(ctx, username)
	switch {
	case err == nil:
		a.logger().Info("credential removed", "username", username)
		return nil
	case errors.Is(err, store.ErrRecordNotFound):
		return domain.ErrCredentialNotFound
	default:
		err = a.storeErr(ctx, err)
		a.logger().Error("credential removal failed", "username", username, "error", err)
		return err
	}
}

func (a *AuthServiceImpl) List(ctx context.Context) ([]string, error) {
	names, err := a.Store.List(ctx)
	if err != nil {
		err = a.storeErr(ctx, err)
		a.logger().Error("credential listing failed", "error", err)
		return nil, err
	}
	return names, nil
}

func (a *AuthServiceImpl) checkUsername(username string) error {
	limit := a.MaxUsernameLength
	if limit <= 0 {
		limit = DefaultMaxUsernameLength
	}
	switch {
	case username == "":
		return domain.ErrEmptyUsername
	case len(username) > limit:
		return domain.ErrUsernameTooLong
	}
	return nil
}

// storeErr passes cancellation through untouched and marks everything else
// as a store outage.
func (a *AuthServiceImpl) storeErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return err
	}
	return unavailable(err)
}

func (a *AuthServiceImpl) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

// isOperational covers corrupt records, store outages and cancellation.
func isOperational(err error) bool { return !isExpected(err) }

func isExpected(err error) bool {
	return errors.Is(err, domain.ErrInvalidInput) ||
		errors.Is(err, domain.ErrDuplicateIdentity) ||
		errors.Is(err, domain.ErrInvalidCredentials) ||
		errors.Is(err, domain.ErrCredentialChanged)
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, domain.ErrDuplicateIdentity):
		return "duplicate"
	case errors.Is(err, domain.ErrInvalidCredentials):
		return "rejected"
	case isExpected(err):
		return "conflict"
	default:
		return "error"
	}
}
