package domain

import "time"

// Credential is the stored authentication material for one username.
// EncodedSecret is produced by the password service and is opaque everywhere else.
type Credential struct {
	ID            CredentialID `gorm:"type:uuid;primaryKey" db:"id"`
	Username      string       `gorm:"type:text;not null;uniqueIndex:ux_credentials_username" db:"username"`
	EncodedSecret string       `gorm:"type:text;not null" db:"encoded_secret"`
	CreatedAt     time.Time    `gorm:"not null" db:"created_at"`
	UpdatedAt     time.Time    `gorm:"not null" db:"updated_at"`
}

func (Credential) TableName() string { return "credentials" }
