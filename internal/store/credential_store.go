package store

import (
	"context"
	"time"

	"auth/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type CredentialStore struct{ db *gorm.DB }

func (s *Store) Credentials() *CredentialStore { return &CredentialStore{s.DB} }

func (cs *CredentialStore) Lookup(ctx context.Context, username string) (*domain.Credential, error) {
	var out domain.Credential
	if err := cs.db.WithContext(ctx).First(&out, "username = ?", username).Error; err != nil {
		return nil, translate(err, "lookup credential")
	}
	return &out, nil
}

// Insert relies on ux_credentials_username; a concurrent insert for the same
// username fails with ErrConflict instead of overwriting.
func (cs *CredentialStore) Insert(ctx context.Context, c *domain.Credential) error {
	now := time.Now().UTC()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	return translate(cs.db.WithContext(ctx).Create(c).Error, "insert credential")
}

// Replace swaps the encoded secret only if it still equals previous.
func (cs *CredentialStore) Replace(ctx context.Context, username, previous, next string) error {
	return New(cs.db).WithTx(ctx, func(tx *Store) error {
		res := tx.DB.WithContext(ctx).Model(&domain.Credential{}).
			Where("username = ? AND encoded_secret = ?", username, previous).
			Updates(map[string]any{
				"encoded_secret": next,
				"updated_at":     time.Now().UTC(),
			})
		if res.Error != nil {
			return translate(res.Error, "replace credential")
		}
		if res.RowsAffected == 1 {
			return nil
		}
		var n int64
		if err := tx.DB.WithContext(ctx).Model(&domain.Credential{}).
			Where("username = ?", username).Count(&n).Error; err != nil {
			return translate(err, "count credential")
		}
		if n == 0 {
			return ErrRecordNotFound
		}
		return ErrStaleRecord
	})
}

func (cs *CredentialStore) Delete(ctx context.Context, username string) error {
	res := cs.db.WithContext(ctx).Where("username = ?", username).Delete(&domain.Credential{})
	if res.Error != nil {
		return translate(res.Error, "delete credential")
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (cs *CredentialStore) List(ctx context.Context) ([]string, error) {
	var names []string
	err := cs.db.WithContext(ctx).Model(&domain.Credential{}).
		Order("username").Pluck("username", &names).Error
	if err != nil {
		return nil, translate(err, "list credentials")
	}
	return names, nil
}
