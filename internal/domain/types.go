package domain

import "github.com/google/uuid"

type CredentialID = uuid.UUID
