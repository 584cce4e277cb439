package impl

import (
	"fmt"

	"auth/internal/domain"
)

// unavailable keeps the driver error in the chain for logging while letting
// callers match domain.ErrStoreUnavailable.
func unavailable(err error) error {
	return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
}
